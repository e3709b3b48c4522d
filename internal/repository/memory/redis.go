package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"github.com/redis/rueidis"

	"github.com/lyca499/cactus-app-1/internal/domain"
)

// RedisStore persists memory records in Redis: a monotonic id counter, one
// JSON value per record, and an append-only id list that preserves insertion
// order. Similarity search scans the log and scores client-side, matching the
// in-process driver's semantics.
type RedisStore struct {
	client rueidis.Client
	prefix string
}

// RedisConfig holds connection parameters.
type RedisConfig struct {
	Addrs     []string
	Username  string
	Password  string
	DB        int
	KeyPrefix string
}

// NewRedisStore creates a Redis-backed store via rueidis.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if len(cfg.Addrs) == 0 {
		return nil, fmt.Errorf("addrs is required")
	}

	client, err := rueidis.NewClient(rueidis.ClientOption{
		InitAddress:  cfg.Addrs,
		Username:     cfg.Username,
		Password:     cfg.Password,
		SelectDB:     cfg.DB,
		DisableCache: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "cactus:"
	}

	return &RedisStore{client: client, prefix: prefix}, nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	cmd := s.client.B().Ping().Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Close shuts down the client.
func (s *RedisStore) Close() {
	s.client.Close()
}

func (s *RedisStore) counterKey() string        { return s.prefix + "memory:next_id" }
func (s *RedisStore) idsKey() string            { return s.prefix + "memory:ids" }
func (s *RedisStore) recordKey(id int64) string { return s.prefix + "memory:" + strconv.FormatInt(id, 10) }

// Insert assigns the next id via INCR, stores the record JSON, and appends
// the id to the insertion-order log.
func (s *RedisStore) Insert(ctx context.Context, rec domain.MemoryRecord) (int64, error) {
	id, err := s.client.Do(ctx, s.client.B().Incr().Key(s.counterKey()).Build()).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("next id: %w", err)
	}
	rec.ID = id

	data, err := json.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("marshal record: %w", err)
	}

	setCmd := s.client.B().Set().Key(s.recordKey(id)).Value(string(data)).Build()
	if err := s.client.Do(ctx, setCmd).Error(); err != nil {
		return 0, fmt.Errorf("store record %d: %w", id, err)
	}

	pushCmd := s.client.B().Rpush().Key(s.idsKey()).Element(strconv.FormatInt(id, 10)).Build()
	if err := s.client.Do(ctx, pushCmd).Error(); err != nil {
		return 0, fmt.Errorf("append id %d: %w", id, err)
	}

	return id, nil
}

// Get returns a record by id.
func (s *RedisStore) Get(ctx context.Context, id int64) (domain.MemoryRecord, error) {
	cmd := s.client.B().Get().Key(s.recordKey(id)).Build()
	data, err := s.client.Do(ctx, cmd).AsBytes()
	if err != nil {
		if rueidis.IsRedisNil(err) {
			return domain.MemoryRecord{}, domain.ErrNotFound
		}
		return domain.MemoryRecord{}, fmt.Errorf("get record %d: %w", id, err)
	}

	var rec domain.MemoryRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return domain.MemoryRecord{}, fmt.Errorf("decode record %d: %w", id, err)
	}
	return rec, nil
}

// Count reports the number of stored records.
func (s *RedisStore) Count(ctx context.Context) (int64, error) {
	cmd := s.client.B().Llen().Key(s.idsKey()).Build()
	n, err := s.client.Do(ctx, cmd).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// SearchSimilar scans the full log in insertion order and scores records
// client-side, so ranking semantics match the in-process driver exactly.
func (s *RedisStore) SearchSimilar(
	ctx context.Context, embedding []float32, limit int, minSimilarity float64,
) ([]domain.ScoredRecord, error) {
	idsCmd := s.client.B().Lrange().Key(s.idsKey()).Start(0).Stop(-1).Build()
	ids, err := s.client.Do(ctx, idsCmd).AsStrSlice()
	if err != nil {
		return nil, fmt.Errorf("list ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, raw := range ids {
		id, parseErr := strconv.ParseInt(raw, 10, 64)
		if parseErr != nil {
			return nil, fmt.Errorf("corrupt id %q in log: %w", raw, parseErr)
		}
		keys[i] = s.recordKey(id)
	}

	mgetCmd := s.client.B().Mget().Key(keys...).Build()
	values, err := s.client.Do(ctx, mgetCmd).ToArray()
	if err != nil {
		return nil, fmt.Errorf("fetch records: %w", err)
	}

	scored := make([]domain.ScoredRecord, 0, len(values))
	for i, v := range values {
		data, strErr := v.AsBytes()
		if strErr != nil {
			// Record deleted between LRANGE and MGET; skip.
			continue
		}
		var rec domain.MemoryRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("decode record %s: %w", keys[i], err)
		}
		sim := domain.CosineSimilarity(embedding, rec.Embedding)
		if sim >= minSimilarity {
			scored = append(scored, domain.ScoredRecord{MemoryRecord: rec, Similarity: sim})
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})

	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored, nil
}
