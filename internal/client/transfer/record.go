package transfer

import (
	"sync"
	"time"
)

type Direction string

const (
	DirectionUpload   Direction = "upload"
	DirectionDownload Direction = "download"
)

type State string

const (
	StatePending   State = "pending"
	StateActive    State = "active"
	StateComplete  State = "complete"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Record tracks one in-flight transfer. Chunk counters move monotonically
// forward; terminal states (complete, failed, cancelled) are sticky.
type Record struct {
	mu sync.Mutex

	ContentID   string
	Direction   Direction
	Name        string
	ContentType string
	TotalChunks int
	TotalSize   int64
	StartedAt   time.Time

	state State
	done  int
	err   error

	cancel chan struct{}
	once   sync.Once
}

func newRecord(contentID string, dir Direction, name, contentType string, totalChunks int, totalSize int64) *Record {
	return &Record{
		ContentID:   contentID,
		Direction:   dir,
		Name:        name,
		ContentType: contentType,
		TotalChunks: totalChunks,
		TotalSize:   totalSize,
		StartedAt:   time.Now(),
		state:       StatePending,
		cancel:      make(chan struct{}),
	}
}

func (r *Record) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Record) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Progress reports transferred and total chunk counts.
func (r *Record) Progress() (done, total int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done, r.TotalChunks
}

func (r *Record) markActive() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == StatePending {
		r.state = StateActive
	}
}

// advance bumps the transferred counter and reports whether every chunk
// is now accounted for.
func (r *Record) advance(done int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != StateActive && r.state != StatePending {
		return false
	}
	r.state = StateActive
	if done > r.done {
		r.done = done
	}
	return r.done >= r.TotalChunks
}

// complete reports whether this call performed the transition; a record
// already in a terminal state is left untouched.
func (r *Record) complete() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminalLocked() {
		return false
	}
	r.done = r.TotalChunks
	r.state = StateComplete
	return true
}

// fail reports whether this call performed the transition.
func (r *Record) fail(err error) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.terminalLocked() {
		return false
	}
	r.state = StateFailed
	r.err = err
	return true
}

// Cancel marks the record cancelled and releases anything waiting on it.
// Safe to call repeatedly and in any state; terminal states keep their
// outcome.
func (r *Record) Cancel() {
	r.mu.Lock()
	if !r.terminalLocked() {
		r.state = StateCancelled
	}
	r.mu.Unlock()
	r.once.Do(func() { close(r.cancel) })
}

func (r *Record) cancelled() <-chan struct{} {
	return r.cancel
}

func (r *Record) terminalLocked() bool {
	switch r.state {
	case StateComplete, StateFailed, StateCancelled:
		return true
	}
	return false
}
