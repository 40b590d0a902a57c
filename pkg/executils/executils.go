package executils

import "sync"

// FanOut runs fn over vals on at most workers goroutines and waits for all
// of them. workers <= 1 (or a single value) degrades to an inline loop.
// Used for listener broadcast, where one slow consumer must not serialize
// the rest.
func FanOut[T any](workers int, vals []T, fn func(T)) {
	if workers <= 1 || len(vals) <= 1 {
		for _, v := range vals {
			fn(v)
		}
		return
	}
	if workers > len(vals) {
		workers = len(vals)
	}

	feed := make(chan T)

	var wg sync.WaitGroup
	wg.Add(workers)
	for p := 0; p < workers; p++ {
		go func() {
			defer wg.Done()
			for v := range feed {
				fn(v)
			}
		}()
	}

	for _, v := range vals {
		feed <- v
	}
	close(feed)
	wg.Wait()
}
