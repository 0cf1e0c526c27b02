package downloader

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/diorhc/YTDL/internal/domain"
)

const defaultProgressInterval = 500 * time.Millisecond

// progressTracker fans job events out to the caller. It coalesces the
// high-frequency downloading stream to one event per interval; transition
// and terminal events always pass through so callers never miss the state
// that ends a job.
type progressTracker struct {
	jobID    string
	sink     domain.ProgressFunc
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	lastEmit time.Time

	cancelled atomic.Bool
}

func newProgressTracker(jobID string, sink domain.ProgressFunc, interval time.Duration) *progressTracker {
	if interval <= 0 {
		interval = defaultProgressInterval
	}
	return &progressTracker{
		jobID:    jobID,
		sink:     sink,
		interval: interval,
		now:      time.Now,
	}
}

// Publish delivers one event, applying the throttle to downloading updates.
func (t *progressTracker) Publish(ev domain.ProgressEvent) {
	ev.JobID = t.jobID
	if ev.Status == domain.StatusDownloading {
		t.mu.Lock()
		now := t.now()
		if now.Sub(t.lastEmit) < t.interval {
			t.mu.Unlock()
			return
		}
		t.lastEmit = now
		t.mu.Unlock()
	}
	if t.sink != nil {
		t.sink(ev)
	}
}

// Cancel flips the job's cancellation flag. It only marks intent; the
// running attempt notices at its next checkpoint.
func (t *progressTracker) Cancel() {
	t.cancelled.Store(true)
}

// Cancelled reports whether cancellation was requested.
func (t *progressTracker) Cancelled() bool {
	return t.cancelled.Load()
}
