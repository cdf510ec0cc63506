// Package parallel splits index ranges across goroutines.
package parallel

import (
	"runtime"
	"sync"
)

// MinChunk is the default smallest range handed to one goroutine.
const MinChunk = 256

// Chunks calls fn on contiguous sub-ranges covering [0, n), concurrently, and waits for
// all of them. Each sub-range holds at least minChunk indices; when n is too small to
// split, or only one CPU is usable, fn runs once on the calling goroutine.
func Chunks(n, minChunk int, fn func(start, end int)) {
	if n <= 0 {
		return
	}
	minChunk = max(minChunk, 1)
	workers := runtime.GOMAXPROCS(0)
	if workers <= 1 || n < 2*minChunk {
		fn(0, n)
		return
	}

	size := max((n+workers-1)/workers, minChunk)
	var wg sync.WaitGroup
	for start := 0; start < n; start += size {
		end := min(start+size, n)
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(start, end)
		}()
	}
	wg.Wait()
}
