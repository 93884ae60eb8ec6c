package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"voicemesh/internal/core/domain"
	"voicemesh/internal/core/ports"

	"github.com/redis/go-redis/v9"
)

// RedisRosterRepository keeps room membership in a Redis hash per room so
// multiple relay instances can serve the same rooms.
type RedisRosterRepository struct {
	client *redis.Client
	prefix string
}

func NewRedisRosterRepository(client *redis.Client) ports.RosterRepository {
	return &RedisRosterRepository{
		client: client,
		prefix: "voicemesh:room:",
	}
}

func (r *RedisRosterRepository) roomKey(roomID string) string {
	return r.prefix + roomID
}

func (r *RedisRosterRepository) roomsKey() string {
	return "voicemesh:rooms"
}

func (r *RedisRosterRepository) Add(ctx context.Context, roomID string, p *domain.VoiceParticipant) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal participant: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, r.roomKey(roomID), p.UserID, data)
	pipe.SAdd(ctx, r.roomsKey(), roomID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to add participant to Redis: %w", err)
	}
	return nil
}

func (r *RedisRosterRepository) Remove(ctx context.Context, roomID, userID string) error {
	removed, err := r.client.HDel(ctx, r.roomKey(roomID), userID).Result()
	if err != nil {
		return fmt.Errorf("failed to remove participant from Redis: %w", err)
	}
	if removed == 0 {
		return domain.ErrParticipantNotFound
	}

	remaining, err := r.client.HLen(ctx, r.roomKey(roomID)).Result()
	if err == nil && remaining == 0 {
		r.client.SRem(ctx, r.roomsKey(), roomID)
	}
	return nil
}

func (r *RedisRosterRepository) SetMuted(ctx context.Context, roomID, userID string, isMuted bool) error {
	data, err := r.client.HGet(ctx, r.roomKey(roomID), userID).Result()
	if err == redis.Nil {
		return domain.ErrParticipantNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get participant from Redis: %w", err)
	}

	var p domain.VoiceParticipant
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		return fmt.Errorf("failed to unmarshal participant: %w", err)
	}
	p.IsMuted = isMuted

	updated, err := json.Marshal(&p)
	if err != nil {
		return fmt.Errorf("failed to marshal participant: %w", err)
	}
	if err := r.client.HSet(ctx, r.roomKey(roomID), userID, updated).Err(); err != nil {
		return fmt.Errorf("failed to update participant in Redis: %w", err)
	}
	return nil
}

func (r *RedisRosterRepository) List(ctx context.Context, roomID string) ([]*domain.VoiceParticipant, error) {
	entries, err := r.client.HGetAll(ctx, r.roomKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list room participants: %w", err)
	}

	participants := make([]*domain.VoiceParticipant, 0, len(entries))
	for _, data := range entries {
		var p domain.VoiceParticipant
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, fmt.Errorf("failed to unmarshal participant: %w", err)
		}
		participants = append(participants, &p)
	}
	sort.Slice(participants, func(i, j int) bool {
		return participants[i].UserID < participants[j].UserID
	})
	return participants, nil
}

func (r *RedisRosterRepository) Rooms(ctx context.Context) ([]string, error) {
	rooms, err := r.client.SMembers(ctx, r.roomsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list rooms: %w", err)
	}
	sort.Strings(rooms)
	return rooms, nil
}
