package memory

import (
	"context"
	"sort"
	"sync"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"
)

type MemoryRosterRepository struct {
	rooms map[string]map[string]*domain.VoiceParticipant
	mu    sync.RWMutex
}

func NewMemoryRosterRepository() ports.RosterRepository {
	return &MemoryRosterRepository{
		rooms: make(map[string]map[string]*domain.VoiceParticipant),
	}
}

func (r *MemoryRosterRepository) Add(ctx context.Context, roomID string, p *domain.VoiceParticipant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		room = make(map[string]*domain.VoiceParticipant)
		r.rooms[roomID] = room
	}
	clone := *p
	room[p.UserID] = &clone
	return nil
}

func (r *MemoryRosterRepository) Remove(ctx context.Context, roomID, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return domain.ErrRoomNotFound
	}
	if _, ok := room[userID]; !ok {
		return domain.ErrParticipantNotFound
	}
	delete(room, userID)
	if len(room) == 0 {
		delete(r.rooms, roomID)
	}
	return nil
}

func (r *MemoryRosterRepository) SetMuted(ctx context.Context, roomID, userID string, isMuted bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return domain.ErrRoomNotFound
	}
	p, ok := room[userID]
	if !ok {
		return domain.ErrParticipantNotFound
	}
	p.IsMuted = isMuted
	return nil
}

func (r *MemoryRosterRepository) List(ctx context.Context, roomID string) ([]*domain.VoiceParticipant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil, nil
	}

	participants := make([]*domain.VoiceParticipant, 0, len(room))
	for _, p := range room {
		clone := *p
		participants = append(participants, &clone)
	}
	sort.Slice(participants, func(i, j int) bool {
		return participants[i].UserID < participants[j].UserID
	})
	return participants, nil
}

func (r *MemoryRosterRepository) Rooms(ctx context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rooms := make([]string, 0, len(r.rooms))
	for roomID := range r.rooms {
		rooms = append(rooms, roomID)
	}
	sort.Strings(rooms)
	return rooms, nil
}
