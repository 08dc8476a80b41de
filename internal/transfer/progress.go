package transfer

import "sync"

// Observer receives the overall fraction of a transfer in [0, 1]. Values
// are non-decreasing and the last one is exactly 1 on success.
type Observer func(fraction float64)

// tracker sums per-chunk byte counts into one fraction of total.
type tracker struct {
	mu     sync.Mutex
	obs    Observer
	total  int64
	loaded []int64
	sum    int64
	last   float64
}

func newTracker(obs Observer, total int64, chunks int) *tracker {
	return &tracker{obs: obs, total: total, loaded: make([]int64, chunks)}
}

// update records that chunk i has moved n bytes. Regressions are ignored.
func (t *tracker) update(i int, n int64) {
	if t == nil || t.obs == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if n <= t.loaded[i] {
		return
	}
	t.sum += n - t.loaded[i]
	t.loaded[i] = n
	if t.total <= 0 {
		return
	}

	frac := float64(t.sum) / float64(t.total)
	if frac > 1 {
		frac = 1
	}
	if frac > t.last {
		t.last = frac
		t.obs(frac)
	}
}

// chunkFunc returns the progress callback for chunk i.
func (t *tracker) chunkFunc(i int) func(int64) {
	return func(n int64) { t.update(i, n) }
}

// done emits 1 if it has not been reached yet.
func (t *tracker) done() {
	if t == nil || t.obs == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.last < 1 {
		t.last = 1
		t.obs(1)
	}
}
