package sink

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/verte-zerg/signdrill/internal/model"
)

// maxUserHistory bounds the per-user session list.
const maxUserHistory = 500

// Redis stores sessions as hashes with per-user history and leaderboards.
type Redis struct {
	client *redis.Client
	prefix string
}

// OpenRedis connects to addr and checks the connection.
func OpenRedis(ctx context.Context, addr, prefix string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		if cerr := client.Close(); cerr != nil {
			_ = cerr
		}
		return nil, fmt.Errorf("failed to reach redis at %s: %w", addr, err)
	}
	return &Redis{client: client, prefix: prefix}, nil
}

func sessionKey(prefix, id string) string {
	return prefix + ":session:" + id
}

func userKey(prefix, username string) string {
	return prefix + ":user:" + username
}

func bestKey(prefix, sign string) string {
	return prefix + ":best:" + sign
}

func countKey(prefix string) string {
	return prefix + ":sessions"
}

// Fields returns the hash fields of r. Score and confidence are omitted when absent.
func (r Record) Fields() map[string]any {
	fields := map[string]any{
		"username":    r.Username,
		"sign":        r.Sign,
		"samples":     r.Samples,
		"correct":     r.Correct,
		"duration_ms": r.DurationMs,
		"timestamp":   r.Timestamp.UTC().Format(time.RFC3339Nano),
	}
	if r.Score != nil {
		fields["score"] = strconv.FormatFloat(*r.Score, 'f', -1, 64)
	}
	if r.Confidence != nil {
		fields["confidence"] = strconv.FormatFloat(*r.Confidence, 'f', -1, 64)
	}
	return fields
}

// Save implements Sink.
func (r *Redis) Save(ctx context.Context, sum model.SessionSummary) error {
	rec := NewRecord(sum)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, sessionKey(r.prefix, rec.ID), rec.Fields())
	pipe.LPush(ctx, userKey(r.prefix, rec.Username), rec.ID)
	pipe.LTrim(ctx, userKey(r.prefix, rec.Username), 0, maxUserHistory-1)
	pipe.ZIncrBy(ctx, countKey(r.prefix), 1, rec.Username)
	if rec.Score != nil {
		pipe.ZAddGT(ctx, bestKey(r.prefix, rec.Sign), redis.Z{Score: *rec.Score, Member: rec.Username})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return err
	}
	return nil
}

// Close implements Sink.
func (r *Redis) Close() error {
	return r.client.Close()
}
