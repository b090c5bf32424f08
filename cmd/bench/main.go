// Command bench runs a synthetic reservation/eviction workload against
// the file segment cache and exposes optional pprof/Prometheus endpoints.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	_ "net/http/pprof" // registers /debug/pprof/* on DefaultServeMux
	"os"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/IvanBrykalov/fscache/cache"
	pmet "github.com/IvanBrykalov/fscache/metrics/prom"
	"github.com/IvanBrykalov/fscache/priority"
)

func main() {
	// ---- Flags ----
	var (
		dir         = flag.String("dir", "", "cache directory (default: temp dir)")
		maxSize     = flag.Uint64("max_size", 256<<20, "cache byte limit (0 = unbounded)")
		maxElements = flag.Uint64("max_elements", 100_000, "cache element limit (0 = unbounded)")
		slruRatio   = flag.Float64("slru", 0, "SLRU protected ratio in (0,1); 0 = plain LRU")

		workers  = flag.Int("workers", 2*runtime.GOMAXPROCS(0), "number of worker goroutines")
		duration = flag.Duration("duration", 10*time.Second, "benchmark duration")
		readPct  = flag.Int("reads", 80, "read percentage [0..100]")

		objects = flag.Int("objects", 10_000, "remote object keyspace size")
		segMin  = flag.Uint64("seg_min", 4<<10, "min segment size, bytes")
		segMax  = flag.Uint64("seg_max", 1<<20, "max segment size, bytes")
		zipfS   = flag.Float64("zipf_s", 1.1, "Zipf s > 1 (skew)")
		zipfV   = flag.Float64("zipf_v", 1.0, "Zipf v")
		seed    = flag.Int64("seed", time.Now().UnixNano(), "random seed")

		pprofAddr   = flag.String("pprof", "", "serve pprof at addr (e.g. :6060); empty = disabled")
		metricsAddr = flag.String("http", ":8080", "serve Prometheus metrics at addr")
	)
	flag.Parse()

	// ---- pprof server (on DefaultServeMux) ----
	if *pprofAddr != "" {
		go func() {
			log.Printf("pprof: serving at %s", *pprofAddr)
			log.Println(http.ListenAndServe(*pprofAddr, nil))
		}()
	}

	// ---- Prometheus metrics (on DefaultServeMux) ----
	metrics := pmet.New(nil, "fscache", "bench", nil)
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		log.Printf("metrics: serving at %s", *metricsAddr)
		log.Println(http.ListenAndServe(*metricsAddr, nil))
	}()

	// ---- Build cache ----
	root := *dir
	if root == "" {
		tmp, err := os.MkdirTemp("", "fscache-bench-*")
		if err != nil {
			log.Fatal(err)
		}
		defer os.RemoveAll(tmp)
		root = tmp
	}
	c, err := cache.New(cache.Options{
		Dir:           root,
		MaxSize:       *maxSize,
		MaxElements:   *maxElements,
		SLRUSizeRatio: *slruRatio,
		Metrics:       metrics,
	})
	if err != nil {
		log.Fatal(err)
	}

	// ---- Load generation ----
	var puts, gets, hits, full uint64
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	start := time.Now()
	var g errgroup.Group
	for w := 0; w < *workers; w++ {
		id := w
		g.Go(func() error {
			// Each worker gets its own RNG + Zipf (rand.Rand is NOT goroutine-safe).
			localR := rand.New(rand.NewSource(*seed + int64(id)*9973))
			localZipf := rand.NewZipf(localR, *zipfS, *zipfV, uint64(*objects-1))

			for ctx.Err() == nil {
				key := priority.NewKey("object-" + strconv.FormatUint(localZipf.Uint64(), 10))
				offset := uint64(localR.Intn(16)) << 20
				size := *segMin + uint64(localR.Int63n(int64(*segMax-*segMin+1)))

				if int(localR.Int31n(100)) < *readPct {
					atomic.AddUint64(&gets, 1)
					if _, ok := c.Get(key, offset); ok {
						atomic.AddUint64(&hits, 1)
					}
					continue
				}
				atomic.AddUint64(&puts, 1)
				if err := c.Put(key, offset, size); err != nil {
					if errors.Is(err, cache.ErrNoSpace) {
						atomic.AddUint64(&full, 1)
						continue
					}
					return err
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Fatal(err)
	}
	elapsed := time.Since(start)

	bytes, elements := c.Usage()
	total := puts + gets
	fmt.Printf("ops: %d (%.0f/s), puts: %d, gets: %d, hit rate: %.1f%%, backoffs: %d\n",
		total, float64(total)/elapsed.Seconds(), puts, gets,
		100*float64(hits)/float64(max(gets, 1)), full)
	fmt.Printf("resident: %d bytes in %d segments\n", bytes, elements)
}
