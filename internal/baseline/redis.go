package baseline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"soclite-backend/internal/feature"
)

const redisTargetsKey = "baseline:targets"

// RedisStore keeps one hash per target: scalar guard fields plus one
// JSON field per feature. Targets are tracked in a companion set.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: 0})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{client: client}, nil
}

func redisKey(target string) string {
	return "baseline:" + target
}

func (s *RedisStore) Read(ctx context.Context, target string) (State, error) {
	fields, err := s.client.HGetAll(ctx, redisKey(target)).Result()
	if err != nil {
		return State{}, fmt.Errorf("redis read %s: %w", target, err)
	}
	if len(fields) == 0 {
		return State{}, nil
	}
	state := State{
		SchemaVersion:     fields["schema_version"],
		Features:          map[string]Stats{},
		LastObservationID: fields["last_observation_id"],
	}
	if raw := fields["updated_at"]; raw != "" {
		if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
			state.UpdatedAt = ts
		}
	}
	for field, raw := range fields {
		if !strings.HasPrefix(field, "feature:") {
			continue
		}
		var stats Stats
		if err := json.Unmarshal([]byte(raw), &stats); err != nil {
			return State{}, fmt.Errorf("parse baseline field %s: %w", field, err)
		}
		state.Features[strings.TrimPrefix(field, "feature:")] = stats
	}
	return state, nil
}

func (s *RedisStore) Update(ctx context.Context, target, obsID string, vec feature.Vector) (State, error) {
	state, err := s.Read(ctx, target)
	if err != nil {
		return State{}, err
	}
	if obsID != "" && state.LastObservationID == obsID {
		return state, nil
	}
	next := state.Apply(obsID, vec, time.Now().UTC())
	if state.SchemaVersion != "" && state.SchemaVersion != next.SchemaVersion {
		// A schema change resets the target; drop stale feature fields
		// so they cannot leak back into the fresh state.
		if err := s.client.Del(ctx, redisKey(target)).Err(); err != nil {
			return State{}, fmt.Errorf("redis reset %s: %w", target, err)
		}
	}
	fields := map[string]any{
		"schema_version":      next.SchemaVersion,
		"last_observation_id": next.LastObservationID,
		"updated_at":          next.UpdatedAt.Format(time.RFC3339Nano),
	}
	for name, stats := range next.Features {
		raw, err := json.Marshal(stats)
		if err != nil {
			return State{}, fmt.Errorf("marshal baseline stats %s: %w", name, err)
		}
		fields["feature:"+name] = string(raw)
	}
	if err := s.client.HSet(ctx, redisKey(target), fields).Err(); err != nil {
		return State{}, fmt.Errorf("redis update %s: %w", target, err)
	}
	if err := s.client.SAdd(ctx, redisTargetsKey, target).Err(); err != nil {
		return State{}, fmt.Errorf("redis track target %s: %w", target, err)
	}
	return next, nil
}

func (s *RedisStore) Targets(ctx context.Context) ([]string, error) {
	targets, err := s.client.SMembers(ctx, redisTargetsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list targets: %w", err)
	}
	sort.Strings(targets)
	return targets, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
