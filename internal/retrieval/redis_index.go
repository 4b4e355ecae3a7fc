package retrieval

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/redis/go-redis/v9"

	"github.com/taskloop/marketplace-be/internal/domain"
)

const (
	recordKeyPrefix = "ctxidx:rec:"
	ownerKeyPrefix  = "ctxidx:owner:"
)

// RedisIndex implements VectorIndex on Redis: one hash per record plus a
// per-owner set of record IDs. Queries fetch the owner's records and rank by
// cosine similarity client-side; context pools are per-client and small, so a
// scan over one owner's set stays cheap.
type RedisIndex struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisIndex creates a Redis-backed vector index.
func NewRedisIndex(client *redis.Client, logger *slog.Logger) *RedisIndex {
	return &RedisIndex{
		client: client,
		logger: logger,
	}
}

var _ VectorIndex = (*RedisIndex)(nil)

func (r *RedisIndex) Upsert(ctx context.Context, id, ownerID string, vector []float32, content string, metadata map[string]string) error {
	encodedVector, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("failed to encode vector: %w", err)
	}
	encodedMeta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, recordKeyPrefix+id, map[string]interface{}{
		"owner":   ownerID,
		"content": content,
		"vector":  encodedVector,
		"meta":    encodedMeta,
	})
	pipe.SAdd(ctx, ownerKeyPrefix+ownerID, id)

	if _, err := pipe.Exec(ctx); err != nil {
		return domain.NewDependencyError("vector-index", fmt.Errorf("upsert failed: %w", err))
	}

	return nil
}

func (r *RedisIndex) Query(ctx context.Context, vector []float32, ownerID string, topK int) ([]Match, error) {
	ids, err := r.client.SMembers(ctx, ownerKeyPrefix+ownerID).Result()
	if err != nil {
		return nil, domain.NewDependencyError("vector-index", fmt.Errorf("owner lookup failed: %w", err))
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := r.client.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(ids))
	for _, id := range ids {
		cmds[id] = pipe.HGetAll(ctx, recordKeyPrefix+id)
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, domain.NewDependencyError("vector-index", fmt.Errorf("record fetch failed: %w", err))
	}

	var matches []Match
	for id, cmd := range cmds {
		fields, err := cmd.Result()
		if err != nil || len(fields) == 0 {
			// Record expired or was deleted between SMEMBERS and HGETALL
			continue
		}

		var recordVector []float32
		if err := json.Unmarshal([]byte(fields["vector"]), &recordVector); err != nil {
			r.logger.Warn("Skipping context record with undecodable vector",
				slog.String("record_id", id),
				slog.Any("error", err),
			)
			continue
		}

		var metadata map[string]string
		if raw, ok := fields["meta"]; ok && raw != "" {
			if err := json.Unmarshal([]byte(raw), &metadata); err != nil {
				metadata = nil
			}
		}

		matches = append(matches, Match{
			ID:       id,
			Score:    Cosine(vector, recordVector),
			Content:  fields["content"],
			Metadata: metadata,
		})
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}

	return matches, nil
}

func (r *RedisIndex) Delete(ctx context.Context, ids ...string) error {
	for _, id := range ids {
		owner, err := r.client.HGet(ctx, recordKeyPrefix+id, "owner").Result()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return domain.NewDependencyError("vector-index", fmt.Errorf("owner lookup failed: %w", err))
		}

		pipe := r.client.TxPipeline()
		pipe.Del(ctx, recordKeyPrefix+id)
		pipe.SRem(ctx, ownerKeyPrefix+owner, id)
		if _, err := pipe.Exec(ctx); err != nil {
			return domain.NewDependencyError("vector-index", fmt.Errorf("delete failed: %w", err))
		}
	}

	return nil
}

func (r *RedisIndex) DeleteByOwner(ctx context.Context, ownerID string) error {
	ids, err := r.client.SMembers(ctx, ownerKeyPrefix+ownerID).Result()
	if err != nil {
		return domain.NewDependencyError("vector-index", fmt.Errorf("owner lookup failed: %w", err))
	}

	pipe := r.client.TxPipeline()
	for _, id := range ids {
		pipe.Del(ctx, recordKeyPrefix+id)
	}
	pipe.Del(ctx, ownerKeyPrefix+ownerID)
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.NewDependencyError("vector-index", fmt.Errorf("owner purge failed: %w", err))
	}

	return nil
}
