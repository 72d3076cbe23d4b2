package fetch

import (
	"sync"
	"time"
)

// Tracker periodically samples the sizes of active buffers and reports the
// aggregate downloaded byte count. Sampling reads atomic sizes only, so it
// never blocks a writer; the reported value may lag slightly but is capped
// at the known total.
type Tracker struct {
	buffers  []*Buffer
	total    int64
	interval time.Duration
	onSample func(downloaded, total int64)
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewTracker reports via onSample every interval. Pass total == SizeUnknown
// when any stream's size is unknown.
func NewTracker(buffers []*Buffer, total int64, interval time.Duration, onSample func(downloaded, total int64)) *Tracker {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Tracker{
		buffers:  buffers,
		total:    total,
		interval: interval,
		onSample: onSample,
		done:     make(chan struct{}),
	}
}

func (t *Tracker) Start() {
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(t.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				t.sample()
			case <-t.done:
				t.sample()
				return
			}
		}
	}()
}

// Stop ends the sampling loop after one final sample.
func (t *Tracker) Stop() {
	close(t.done)
	t.wg.Wait()
}

func (t *Tracker) sample() {
	var downloaded int64
	for _, buf := range t.buffers {
		downloaded += buf.Size()
	}
	if t.total != SizeUnknown && downloaded > t.total {
		downloaded = t.total
	}
	if t.onSample != nil {
		t.onSample(downloaded, t.total)
	}
}
