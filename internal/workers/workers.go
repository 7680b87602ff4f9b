// Package workers runs independent per-row / per-frame work on all CPUs.
package workers

import (
	"runtime"
	"sync"

	"evm-stress/internal/progress"
)

// Count returns n when positive, otherwise the number of CPUs.
func Count(n int) int {
	if n > 0 {
		return n
	}
	return runtime.NumCPU()
}

// Stripes splits [0,n) into contiguous horizontal stripes and runs fn on each
// stripe in its own goroutine.
func Stripes(n, numWorkers int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	numWorkers = Count(numWorkers)
	if numWorkers > n {
		numWorkers = n
	}
	perWorker := (n + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		start := w * perWorker
		end := start + perWorker
		if end > n {
			end = n
		}
		if start >= end {
			break
		}

		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)
	}
	wg.Wait()
}

// Each runs fn(i) for every i in [0,n) on a pool of workers. Completion is
// reported as done/n from the calling goroutine only, so report never runs
// concurrently with itself.
func Each(n, numWorkers int, report progress.Func, fn func(i int)) {
	if n <= 0 {
		return
	}
	numWorkers = Count(numWorkers)
	if numWorkers > n {
		numWorkers = n
	}

	jobs := make(chan int)
	done := make(chan struct{}, numWorkers)

	var wg sync.WaitGroup
	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				fn(i)
				done <- struct{}{}
			}
		}()
	}

	go func() {
		for i := 0; i < n; i++ {
			jobs <- i
		}
		close(jobs)
	}()

	for completed := 1; completed <= n; completed++ {
		<-done
		report.Report(float64(completed) / float64(n))
	}
	wg.Wait()
}
