package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"github.com/scrawlspace/scrawl/internal/v1/metrics"
	"github.com/scrawlspace/scrawl/internal/v1/types"
)

// RedisStore keeps snapshots in Redis. Rows live as JSON values, with a
// per-room set indexing snapshot ids:
//
//	scrawl:snapshot:<id>             snapshot record (JSON)
//	scrawl:room:<roomId>:snapshots   set of snapshot ids
//	scrawl:room:<roomId>:autosave    id of the autosave row
//	scrawl:room:<roomId>:settings    room settings (JSON)
//	scrawl:document:<id>             legacy share document
//
// Every command runs through a circuit breaker; with the breaker open,
// operations fail fast with types.ErrBackendUnavailable instead of
// queueing against a dead server.
type RedisStore struct {
	client *redis.Client
	cb     *gobreaker.CircuitBreaker
	now    func() int64
}

// NewRedisStore creates a robust Redis connection with automatic retries.
func NewRedisStore(addr, password string) (*RedisStore, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           0, // Default DB
		DialTimeout:  10 * time.Second,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	// Ping to verify connection immediately
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	st := gobreaker.Settings{
		Name:        "redis-storage",
		MaxRequests: 5,
		Interval:    1 * time.Minute,
		Timeout:     15 * time.Second,
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			var stateVal float64
			switch to {
			case gobreaker.StateClosed:
				stateVal = 0
			case gobreaker.StateOpen:
				stateVal = 1
			case gobreaker.StateHalfOpen:
				stateVal = 2
			}
			metrics.CircuitBreakerState.WithLabelValues("redis").Set(stateVal)
		},
	}

	slog.Info("Connected to Redis storage", "addr", addr)
	return &RedisStore{
		client: rdb,
		cb:     gobreaker.NewCircuitBreaker(st),
		now:    nowMillis,
	}, nil
}

func snapshotKey(id types.SnapshotIDType) string {
	return "scrawl:snapshot:" + string(id)
}

func roomSnapshotsKey(roomID types.RoomIDType) string {
	return fmt.Sprintf("scrawl:room:%s:snapshots", roomID)
}

func roomAutosaveKey(roomID types.RoomIDType) string {
	return fmt.Sprintf("scrawl:room:%s:autosave", roomID)
}

func roomSettingsKey(roomID types.RoomIDType) string {
	return fmt.Sprintf("scrawl:room:%s:settings", roomID)
}

func documentKey(id string) string {
	return "scrawl:document:" + id
}

// execute routes a command through the circuit breaker. Missing keys
// must be translated to nil results inside fn; a redis.Nil error here
// would count as a backend failure and trip the breaker.
func (s *RedisStore) execute(op string, fn func() (any, error)) (any, error) {
	res, err := s.cb.Execute(fn)
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.CircuitBreakerFailures.WithLabelValues("redis").Inc()
			slog.Warn("Redis Circuit Breaker Open: rejecting operation", "operation", op)
			return nil, fmt.Errorf("redis %s: %w", op, types.ErrBackendUnavailable)
		}
		slog.Error("Redis operation failed", "operation", op, "error", err)
		return nil, err
	}
	return res, nil
}

// roomSnapshotRecords loads every snapshot record of a room. Index
// entries whose record vanished are skipped.
func (s *RedisStore) roomSnapshotRecords(ctx context.Context, roomID types.RoomIDType) ([]types.Snapshot, error) {
	res, err := s.execute("room_snapshots", func() (any, error) {
		ids, err := s.client.SMembers(ctx, roomSnapshotsKey(roomID)).Result()
		if err != nil {
			return nil, err
		}

		out := make([]types.Snapshot, 0, len(ids))
		for _, id := range ids {
			raw, err := s.client.Get(ctx, snapshotKey(types.SnapshotIDType(id))).Bytes()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return nil, err
			}
			var snap types.Snapshot
			if err := json.Unmarshal(raw, &snap); err != nil {
				slog.Warn("skipping undecodable snapshot record", "id", id, "error", err)
				continue
			}
			out = append(out, snap)
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	return res.([]types.Snapshot), nil
}

func (s *RedisStore) writeSnapshot(ctx context.Context, snap types.Snapshot, isAutosave bool) error {
	raw, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	_, err = s.execute("write_snapshot", func() (any, error) {
		_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, snapshotKey(snap.ID), raw, 0)
			pipe.SAdd(ctx, roomSnapshotsKey(snap.RoomID), string(snap.ID))
			if isAutosave {
				pipe.Set(ctx, roomAutosaveKey(snap.RoomID), string(snap.ID), 0)
			}
			return nil
		})
		return nil, err
	})
	return err
}

func (s *RedisStore) CreateSnapshot(ctx context.Context, roomID types.RoomIDType, meta types.SnapshotMeta, data []byte) (types.SnapshotIDType, error) {
	if err := validateCreateMeta(meta); err != nil {
		return "", err
	}

	settings, err := s.GetRoomSettings(ctx, roomID)
	if err != nil {
		return "", err
	}
	existing, err := s.roomSnapshotRecords(ctx, roomID)
	if err != nil {
		return "", err
	}

	if victims := capEvictions(existing, settings.MaxSnapshots); len(victims) > 0 {
		_, err = s.execute("evict_snapshots", func() (any, error) {
			_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				for _, victim := range victims {
					pipe.Del(ctx, snapshotKey(victim))
					pipe.SRem(ctx, roomSnapshotsKey(roomID), string(victim))
				}
				return nil
			})
			return nil, err
		})
		if err != nil {
			return "", err
		}
	}

	snap := types.Snapshot{
		ID:          newSnapshotID(),
		RoomID:      roomID,
		Name:        meta.Name,
		Description: meta.Description,
		Thumbnail:   meta.Thumbnail,
		CreatedBy:   meta.CreatedBy,
		CreatedAt:   s.now(),
		Data:        data,
	}
	if err := s.writeSnapshot(ctx, snap, false); err != nil {
		return "", err
	}
	return snap.ID, nil
}

func (s *RedisStore) UpsertAutosaveSnapshot(ctx context.Context, roomID types.RoomIDType, data []byte) (types.SnapshotIDType, error) {
	existing, err := s.getSnapshotByPointer(ctx, roomAutosaveKey(roomID))
	if err != nil {
		return "", err
	}
	if existing != nil {
		existing.Data = data
		existing.CreatedAt = s.now()
		if err := s.writeSnapshot(ctx, *existing, true); err != nil {
			return "", err
		}
		return existing.ID, nil
	}

	snap := types.Snapshot{
		ID:        newSnapshotID(),
		RoomID:    roomID,
		Name:      "Autosave",
		CreatedBy: types.AutosaveCreatedBy,
		CreatedAt: s.now(),
		Data:      data,
	}
	if err := s.writeSnapshot(ctx, snap, true); err != nil {
		return "", err
	}
	return snap.ID, nil
}

// getSnapshotByPointer follows an id stored under key. Either nothing
// is found (nil, nil) or the full record is returned.
func (s *RedisStore) getSnapshotByPointer(ctx context.Context, key string) (*types.Snapshot, error) {
	res, err := s.execute("get_autosave", func() (any, error) {
		id, err := s.client.Get(ctx, key).Result()
		if err == redis.Nil {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		raw, err := s.client.Get(ctx, snapshotKey(types.SnapshotIDType(id))).Bytes()
		if err == redis.Nil {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return raw, nil
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}

	var snap types.Snapshot
	if err := json.Unmarshal(res.([]byte), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *RedisStore) ListSnapshots(ctx context.Context, roomID types.RoomIDType) ([]types.Snapshot, error) {
	records, err := s.roomSnapshotRecords(ctx, roomID)
	if err != nil {
		return nil, err
	}
	out := []types.Snapshot{}
	for _, snap := range records {
		snap.Data = nil
		out = append(out, snap)
	}
	sortForListing(out)
	return out, nil
}

func (s *RedisStore) GetSnapshot(ctx context.Context, id types.SnapshotIDType) (*types.Snapshot, error) {
	res, err := s.execute("get_snapshot", func() (any, error) {
		raw, err := s.client.Get(ctx, snapshotKey(id)).Bytes()
		if err == redis.Nil {
			return nil, nil
		}
		return raw, err
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("snapshot %q: %w", id, types.ErrNotFound)
	}

	var snap types.Snapshot
	if err := json.Unmarshal(res.([]byte), &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *RedisStore) DeleteSnapshot(ctx context.Context, id types.SnapshotIDType) error {
	snap, err := s.GetSnapshot(ctx, id)
	if err != nil {
		return err
	}

	_, err = s.execute("delete_snapshot", func() (any, error) {
		_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, snapshotKey(id))
			pipe.SRem(ctx, roomSnapshotsKey(snap.RoomID), string(id))
			if snap.IsAutosave() {
				pipe.Del(ctx, roomAutosaveKey(snap.RoomID))
			}
			return nil
		})
		return nil, err
	})
	return err
}

func (s *RedisStore) UpdateSnapshotMetadata(ctx context.Context, id types.SnapshotIDType, name, description string) error {
	snap, err := s.GetSnapshot(ctx, id)
	if err != nil {
		return err
	}
	snap.Name = name
	snap.Description = description
	return s.writeSnapshot(ctx, *snap, false)
}

func (s *RedisStore) GetRoomSettings(ctx context.Context, roomID types.RoomIDType) (types.RoomSettings, error) {
	res, err := s.execute("get_room_settings", func() (any, error) {
		raw, err := s.client.Get(ctx, roomSettingsKey(roomID)).Bytes()
		if err == redis.Nil {
			return nil, nil
		}
		return raw, err
	})
	if err != nil {
		return types.RoomSettings{}, err
	}
	if res == nil {
		return types.DefaultRoomSettings(), nil
	}

	var settings types.RoomSettings
	if err := json.Unmarshal(res.([]byte), &settings); err != nil {
		return types.RoomSettings{}, err
	}
	return settings, nil
}

func (s *RedisStore) UpdateRoomSettings(ctx context.Context, roomID types.RoomIDType, settings types.RoomSettings) error {
	raw, err := json.Marshal(settings.Normalized())
	if err != nil {
		return err
	}
	_, err = s.execute("update_room_settings", func() (any, error) {
		return nil, s.client.Set(ctx, roomSettingsKey(roomID), raw, 0).Err()
	})
	return err
}

func (s *RedisStore) DeleteRoom(ctx context.Context, roomID types.RoomIDType) error {
	_, err := s.execute("delete_room", func() (any, error) {
		ids, err := s.client.SMembers(ctx, roomSnapshotsKey(roomID)).Result()
		if err != nil {
			return nil, err
		}
		_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, id := range ids {
				pipe.Del(ctx, snapshotKey(types.SnapshotIDType(id)))
			}
			pipe.Del(ctx, roomSnapshotsKey(roomID))
			pipe.Del(ctx, roomAutosaveKey(roomID))
			pipe.Del(ctx, roomSettingsKey(roomID))
			return nil
		})
		return nil, err
	})
	return err
}

func (s *RedisStore) SaveDocument(ctx context.Context, data []byte) (string, error) {
	id := newDocumentID()
	_, err := s.execute("save_document", func() (any, error) {
		return nil, s.client.Set(ctx, documentKey(id), data, 0).Err()
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *RedisStore) GetDocument(ctx context.Context, id string) ([]byte, error) {
	res, err := s.execute("get_document", func() (any, error) {
		raw, err := s.client.Get(ctx, documentKey(id)).Bytes()
		if err == redis.Nil {
			return nil, nil
		}
		return raw, err
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, fmt.Errorf("document %q: %w", id, types.ErrNotFound)
	}
	return res.([]byte), nil
}

// Ping checks Redis connectivity using the PING command
// Used by health checks to verify Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	_, err := s.execute("ping", func() (any, error) {
		return nil, s.client.Ping(ctx).Err()
	})
	return err
}

// Close gracefully shuts down the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}
