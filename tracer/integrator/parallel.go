package integrator

import (
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Smallest number of pixels handed to a single worker.
const minChunkSize = 64

type workerPanic struct {
	value any
}

func (p *workerPanic) Error() string {
	return fmt.Sprintf("integrator: worker panic: %v", p.value)
}

// Run fn for every index in [0, n) using the worker pool and block until all
// invocations complete. A panic inside fn is re-raised on the calling
// goroutine.
func (mc *MonteCarlo) parallelFor(n int, fn func(i int)) {
	if n <= 0 {
		return
	}

	chunk := max(minChunkSize, n/(4*mc.workers))

	var g errgroup.Group
	g.SetLimit(mc.workers)
	for start := 0; start < n; start += chunk {
		end := min(start+chunk, n)
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = &workerPanic{value: r}
				}
			}()
			for i := start; i < end; i++ {
				fn(i)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if wp, ok := err.(*workerPanic); ok {
			panic(wp.value)
		}
		panic(err)
	}
}
