package ports

import (
	"context"
	"sync"
	"time"

	"voicemesh/internal/core/domain"
)

// ConnectionRecord tracks one live peer connection together with the media
// resources it exclusively owns. Dispose closes both; partial cleanup is a
// correctness bug, not an optimization.
type ConnectionRecord struct {
	PeerID    string
	Handle    PeerHandle
	Sink      AudioSink
	CreatedAt time.Time

	mu                sync.Mutex
	lastHealthCheckAt time.Time
	reconnectAttempts int
	disposed          bool
}

// NewConnectionRecord builds a record owning the given handle and sink.
func NewConnectionRecord(peerID string, handle PeerHandle, sink AudioSink) *ConnectionRecord {
	return &ConnectionRecord{
		PeerID:    peerID,
		Handle:    handle,
		Sink:      sink,
		CreatedAt: time.Now(),
	}
}

// StampHealthCheck records when the watchdog last inspected this record.
func (r *ConnectionRecord) StampHealthCheck(t time.Time) {
	r.mu.Lock()
	r.lastHealthCheckAt = t
	r.mu.Unlock()
}

// LastHealthCheckAt returns the most recent watchdog inspection time.
func (r *ConnectionRecord) LastHealthCheckAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastHealthCheckAt
}

// ReconnectAttempts returns how many repair cycles this peer has consumed.
func (r *ConnectionRecord) ReconnectAttempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.reconnectAttempts
}

// SetReconnectAttempts carries attempt history into a replacement record.
func (r *ConnectionRecord) SetReconnectAttempts(n int) {
	r.mu.Lock()
	r.reconnectAttempts = n
	r.mu.Unlock()
}

// Disposed reports whether Dispose has already run.
func (r *ConnectionRecord) Disposed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disposed
}

// Dispose closes the audio sink first, then the connection primitive.
// It is idempotent.
func (r *ConnectionRecord) Dispose() {
	r.mu.Lock()
	if r.disposed {
		r.mu.Unlock()
		return
	}
	r.disposed = true
	r.mu.Unlock()

	if r.Sink != nil {
		r.Sink.Close()
	}
	if r.Handle != nil {
		r.Handle.Close()
	}
}

// ConnectionRegistry is the single source of truth for "do we have a
// connection to X". At most one live record exists per peer id; replacing
// a record disposes the old one first.
type ConnectionRegistry interface {
	Upsert(rec *ConnectionRecord)
	Get(peerID string) (*ConnectionRecord, bool)
	RemoveAndDispose(peerID string) bool
	ForEach(fn func(rec *ConnectionRecord))
	Len() int
	DisposeAll()
}

// RosterRepository stores room membership on the relay side.
type RosterRepository interface {
	Add(ctx context.Context, roomID string, p *domain.VoiceParticipant) error
	Remove(ctx context.Context, roomID, userID string) error
	SetMuted(ctx context.Context, roomID, userID string, isMuted bool) error
	List(ctx context.Context, roomID string) ([]*domain.VoiceParticipant, error)
	Rooms(ctx context.Context) ([]string, error)
}
