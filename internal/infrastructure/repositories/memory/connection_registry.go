package memory

import (
	"sync"

	"voicemesh/internal/core/ports"

	"go.uber.org/zap"
)

// ConnectionRegistry is the in-process authoritative map of peer id to
// connection record. All timers and callbacks reference this object rather
// than capturing ad-hoc copies of its contents.
type ConnectionRegistry struct {
	records map[string]*ports.ConnectionRecord
	mu      sync.RWMutex

	logger *zap.SugaredLogger
}

func NewConnectionRegistry(logger *zap.SugaredLogger) *ConnectionRegistry {
	return &ConnectionRegistry{
		records: make(map[string]*ports.ConnectionRecord),
		logger:  logger,
	}
}

// Upsert registers a record. If a live record already exists for the same
// peer it is disposed first; a native resource is never silently overwritten.
func (r *ConnectionRegistry) Upsert(rec *ports.ConnectionRecord) {
	r.mu.Lock()
	old, exists := r.records[rec.PeerID]
	r.records[rec.PeerID] = rec
	r.mu.Unlock()

	if exists && old != rec {
		r.logger.Infow("replacing existing connection record", "peer_id", rec.PeerID)
		old.Dispose()
	}
}

func (r *ConnectionRegistry) Get(peerID string) (*ports.ConnectionRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[peerID]
	return rec, ok
}

// RemoveAndDispose closes the record's connection primitive and audio sink,
// then drops the map entry. Returns false if no record existed.
func (r *ConnectionRegistry) RemoveAndDispose(peerID string) bool {
	r.mu.Lock()
	rec, ok := r.records[peerID]
	if ok {
		delete(r.records, peerID)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	rec.Dispose()
	r.logger.Debugw("disposed connection record", "peer_id", peerID)
	return true
}

// ForEach visits a snapshot of the current records. The callback runs
// outside the registry lock so it may mutate the registry.
func (r *ConnectionRegistry) ForEach(fn func(rec *ports.ConnectionRecord)) {
	r.mu.RLock()
	snapshot := make([]*ports.ConnectionRecord, 0, len(r.records))
	for _, rec := range r.records {
		snapshot = append(snapshot, rec)
	}
	r.mu.RUnlock()

	for _, rec := range snapshot {
		fn(rec)
	}
}

func (r *ConnectionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.records)
}

// DisposeAll tears down every record. Used on intentional cleanup and when
// a signaling grace period expires.
func (r *ConnectionRegistry) DisposeAll() {
	r.mu.Lock()
	snapshot := make([]*ports.ConnectionRecord, 0, len(r.records))
	for _, rec := range r.records {
		snapshot = append(snapshot, rec)
	}
	r.records = make(map[string]*ports.ConnectionRecord)
	r.mu.Unlock()

	for _, rec := range snapshot {
		rec.Dispose()
	}
	if len(snapshot) > 0 {
		r.logger.Infow("disposed all connection records", "count", len(snapshot))
	}
}
