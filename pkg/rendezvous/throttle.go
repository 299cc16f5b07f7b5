package rendezvous

import (
	"io"
	"sync"
	"time"
)

// throttledWriter caps file data at bytesPerSec by writing tenth-of-a-second
// slices and sleeping off any time left in each slice
type throttledWriter struct {
	w           io.Writer
	bytesPerSec int
	last        time.Time
	mu          sync.Mutex
}

func newThrottledWriter(w io.Writer, bytesPerSec int) *throttledWriter {
	return &throttledWriter{
		w:           w,
		bytesPerSec: bytesPerSec,
		last:        time.Now(),
	}
}

func (tw *throttledWriter) Write(p []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	slice := tw.bytesPerSec / 10
	if slice < 1 {
		slice = 1
	}
	total := 0
	for total < len(p) {
		n := slice
		if rest := len(p) - total; n > rest {
			n = rest
		}
		written, err := tw.w.Write(p[total : total+n])
		total += written
		if err != nil {
			return total, err
		}

		budget := time.Duration(float64(written) / float64(tw.bytesPerSec) * float64(time.Second))
		if elapsed := time.Since(tw.last); budget > elapsed {
			time.Sleep(budget - elapsed)
		}
		tw.last = time.Now()
	}
	return total, nil
}
