// Package fanout implements the text-stream plane: one journal writer,
// many subscribers, each receiving every byte appended after its
// declared cursor, in order, exactly once, until it disconnects or
// falls far enough behind to be forcibly dropped.
package fanout

import (
	"errors"
	"io"
	"os"
	"sync"

	"github.com/vibetunnel/vtd/pkg/journal"
)

// HighWatermarkBytes is the default backlog threshold.
const HighWatermarkBytes = 1 << 20 // 1 MiB

const chunkSize = 32 * 1024

// ErrBacklogExceeded is sent on Subscription.Err when a slow reader is
// forcibly disconnected after its backlog passes the high watermark,
// rather than silently dropping bytes to keep up.
var ErrBacklogExceeded = errors.New("fanout: subscriber backlog exceeded high watermark")

// Broadcaster fans out one session's stream.log to many subscribers.
type Broadcaster struct {
	j             *journal.Journal
	isAlive       func() bool
	highWatermark int
}

// New creates a Broadcaster over an open Journal. isAlive should report
// whether the session is still running, so Subscribe know whether to
// live-tail after catching up or to return a finite stream.
func New(j *journal.Journal, isAlive func() bool) *Broadcaster {
	return &Broadcaster{j: j, isAlive: isAlive, highWatermark: HighWatermarkBytes}
}

// Subscription is a live handle to a fan-out reader.
type Subscription struct {
	Chunks <-chan []byte
	Err    <-chan error
	cancel func()
}

// Close cancels the subscription; safe to call multiple times.
func (s *Subscription) Close() { s.cancel() }

// Subscribe starts tailing stream.log from the given byte cursor. cursor=0
// replays the entire session so far.
func (b *Broadcaster) Subscribe(cursor int64) (*Subscription, error) {
	f, err := os.Open(b.j.StreamPath())
	if err != nil {
		return nil, err
	}
	if cursor > 0 {
		if _, err := f.Seek(cursor, io.SeekStart); err != nil {
			f.Close()
			return nil, err
		}
	}

	notifyCh, cancelNotify := b.j.Subscribe()
	done := make(chan struct{})
	chunks := make(chan []byte, 32)
	errCh := make(chan error, 1)

	var closeOnce sync.Once
	cancel := func() {
		closeOnce.Do(func() { close(done) })
	}

	go func() {
		defer f.Close()
		defer cancelNotify()
		defer close(chunks)

		blockedBytes := 0
		buf := make([]byte, chunkSize)

		send := func(p []byte) bool {
			cp := make([]byte, len(p))
			copy(cp, p)
			select {
			case chunks <- cp:
				blockedBytes = 0
				return true
			default:
			}
			blockedBytes += len(cp)
			if blockedBytes > b.highWatermark {
				select {
				case errCh <- ErrBacklogExceeded:
				default:
				}
				return false
			}
			select {
			case chunks <- cp:
				return true
			case <-done:
				return false
			}
		}

		drain := func() (keepGoing bool) {
			for {
				n, rerr := f.Read(buf)
				if n > 0 {
					if !send(buf[:n]) {
						return false
					}
				}
				if rerr == io.EOF {
					return true
				}
				if rerr != nil {
					select {
					case errCh <- rerr:
					default:
					}
					return false
				}
			}
		}

		if !drain() {
			return
		}
		if !b.isAlive() && b.j.Finalized() {
			return
		}

		for {
			select {
			case <-done:
				return
			case _, ok := <-notifyCh:
				if !ok {
					// journal finalized: one last drain, then finite EOF.
					drain()
					return
				}
				if !drain() {
					return
				}
			}
		}
	}()

	return &Subscription{Chunks: chunks, Err: errCh, cancel: cancel}, nil
}
