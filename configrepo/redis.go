package configrepo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"
)

// Redis stores each module's properties in a hash at <prefix><id>. Field
// values are JSON so that numbers, booleans and lists survive the round trip.
type Redis struct {
	client redis.UniversalClient
	prefix string
}

// NewRedis creates a repository on client. An empty prefix defaults to
// "modhost:config:".
func NewRedis(client redis.UniversalClient, prefix string) *Redis {
	if prefix == "" {
		prefix = "modhost:config:"
	}
	return &Redis{client: client, prefix: prefix}
}

// DialRedis parses a redis:// URL, connects and pings.
func DialRedis(ctx context.Context, url, prefix string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return NewRedis(client, prefix), nil
}

func (r *Redis) hashKey(moduleID string) (string, error) {
	k, err := key(moduleID)
	if err != nil {
		return "", err
	}
	return r.prefix + k, nil
}

func (r *Redis) Get(ctx context.Context, moduleID string) (map[string]any, error) {
	k, err := r.hashKey(moduleID)
	if err != nil {
		return nil, err
	}
	fields, err := r.client.HGetAll(ctx, k).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hgetall %s: %w", k, err)
	}
	props := make(map[string]any, len(fields))
	for name, raw := range fields {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			// Values written by other tools are kept as plain strings.
			v = raw
		}
		props[name] = v
	}
	return props, nil
}

// Save replaces the hash atomically.
func (r *Redis) Save(ctx context.Context, moduleID string, props map[string]any) error {
	k, err := r.hashKey(moduleID)
	if err != nil {
		return err
	}
	values := make(map[string]any, len(props))
	for name, v := range props {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encoding property %s for %s: %w", name, moduleID, err)
		}
		values[name] = string(raw)
	}
	_, err = r.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Del(ctx, k)
		if len(values) > 0 {
			p.HSet(ctx, k, values)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis save %s: %w", k, err)
	}
	return nil
}

func (r *Redis) Delete(ctx context.Context, moduleID string) (bool, error) {
	k, err := r.hashKey(moduleID)
	if err != nil {
		return false, err
	}
	n, err := r.client.Del(ctx, k).Result()
	if err != nil {
		return false, fmt.Errorf("redis del %s: %w", k, err)
	}
	return n > 0, nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
