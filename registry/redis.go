package registry

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"relay-lab/contract"
	"relay-lab/domain"

	"github.com/redis/go-redis/v9"
)

var _ contract.SessionRegistry = (*RedisRegistry)(nil)

const (
	connKeyPrefix = "session:conn:"
	userKeyPrefix = "session:user:"
)

// Connect opens a Redis client from either a redis:// URL or a raw address.
func Connect(redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// RedisRegistry is the shared session store the whole fleet reads and
// writes, so any node can resolve who owns a connection without sticky
// routing. Layout:
//
//	session:conn:<connectionID>  hash {user_id, node_id, created_at}
//	session:user:<userID>        set of connectionIDs
//
// Both sides carry a safety TTL so a crashed node cannot leak a record
// forever; the owning node refreshes it while the connection lives.
type RedisRegistry struct {
	client *redis.Client
	nodeID string
	ttl    time.Duration
}

func NewRedisRegistry(client *redis.Client, nodeID string, ttl time.Duration) *RedisRegistry {
	return &RedisRegistry{client: client, nodeID: nodeID, ttl: ttl}
}

func (r *RedisRegistry) Put(ctx context.Context, connectionID, userID string) error {
	connKey := connKeyPrefix + connectionID
	userKey := userKeyPrefix + userID

	_, err := r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, connKey,
			"user_id", userID,
			"node_id", r.nodeID,
			"created_at", time.Now().UTC().Unix(),
		)
		p.Expire(ctx, connKey, r.ttl)
		p.SAdd(ctx, userKey, connectionID)
		p.Expire(ctx, userKey, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("session put: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Remove(ctx context.Context, connectionID string) error {
	connKey := connKeyPrefix + connectionID

	userID, err := r.client.HGet(ctx, connKey, "user_id").Result()
	if err != nil {
		if err == redis.Nil {
			// Already gone: the other disconnect path won the race.
			return nil
		}
		return fmt.Errorf("session lookup: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, connKey)
		p.SRem(ctx, userKeyPrefix+userID, connectionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("session remove: %w", err)
	}
	return nil
}

func (r *RedisRegistry) Resolve(ctx context.Context, userID string) ([]string, error) {
	connections, err := r.client.SMembers(ctx, userKeyPrefix+userID).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("session resolve: %w", err)
	}
	return connections, nil
}

// List scans every live session record, for diagnostics only.
// SCAN-based, so it is safe against large keyspaces but not atomic.
func (r *RedisRegistry) List(ctx context.Context) ([]domain.Session, error) {
	var sessions []domain.Session
	iter := r.client.Scan(ctx, 0, connKeyPrefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		fields, err := r.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("session scan: %w", err)
		}
		if len(fields) == 0 {
			continue
		}
		session := domain.Session{
			ConnectionID: strings.TrimPrefix(key, connKeyPrefix),
			UserID:       fields["user_id"],
			NodeID:       fields["node_id"],
		}
		if unix, err := strconv.ParseInt(fields["created_at"], 10, 64); err == nil {
			session.CreatedAt = time.Unix(unix, 0).UTC()
		}
		sessions = append(sessions, session)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("session scan: %w", err)
	}
	return sessions, nil
}

// Refresh extends both sides of a live session's TTL.
// Called periodically by the owning node's heartbeat.
func (r *RedisRegistry) Refresh(ctx context.Context, connectionID string) error {
	connKey := connKeyPrefix + connectionID
	userID, err := r.client.HGet(ctx, connKey, "user_id").Result()
	if err != nil {
		if err == redis.Nil {
			return nil
		}
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Expire(ctx, connKey, r.ttl)
		p.Expire(ctx, userKeyPrefix+userID, r.ttl)
		return nil
	})
	return err
}
