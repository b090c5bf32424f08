package priority

import (
	"errors"
	"fmt"
)

// ErrLogic marks invariant violations: duplicate insertion, over-commit,
// zero-size add, size mismatch between queue accounting and segment
// metadata, use of a removed iterator, shrinking limits below current
// usage. These indicate a caller or collaborator bug; higher layers
// typically log the error and fail the enclosing query.
var ErrLogic = errors.New("priority: logic error")

// logicErrorf builds an ErrLogic-wrapping error with operation context.
func logicErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrLogic, fmt.Sprintf(format, args...))
}
