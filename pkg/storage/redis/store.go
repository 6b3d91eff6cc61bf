// Package redis is a shared storage.Backend on redis. Every write is announced
// on a pub/sub channel so other instances get native change events instead of
// polling.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/redis/go-redis/v9"

	"github.com/aussiebroadwan/authstate/pkg/idx"
	"github.com/aussiebroadwan/authstate/pkg/slogx"
	"github.com/aussiebroadwan/authstate/pkg/storage"
)

// DefaultChannel carries change announcements.
const DefaultChannel = "authstate:changes"

type Config struct {
	URL     string
	Channel string
	Logger  *slog.Logger
}

// Store is one handle onto a redis-backed tier. Each handle has its own origin
// id and does not receive its own announcements.
type Store struct {
	client  *redis.Client
	channel string
	origin  string
	logger  *slog.Logger
	owned   bool
}

type announcement struct {
	Origin string `json:"origin"`
	Key    string `json:"key"`
}

// Connect parses cfg.URL, pings the server and returns a Store that owns the
// client.
func Connect(ctx context.Context, cfg Config) (*Store, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	s := NewStore(client, cfg)
	s.owned = true
	return s, nil
}

// NewStore wraps an existing client. The caller keeps ownership of it.
func NewStore(client *redis.Client, cfg Config) *Store {
	channel := cfg.Channel
	if channel == "" {
		channel = DefaultChannel
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slogx.Discard()
	}
	return &Store{
		client:  client,
		channel: channel,
		origin:  idx.New().String(),
		logger:  logger,
	}
}

// Close closes the client if this Store created it.
func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *Store) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (s *Store) Set(ctx context.Context, key, value string) error {
	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return err
	}
	return s.announce(ctx, key)
}

func (s *Store) Remove(ctx context.Context, key string) error {
	n, err := s.client.Del(ctx, key).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return nil
	}
	return s.announce(ctx, key)
}

// Clear deletes every namespaced key and announces a null-key change.
func (s *Store) Clear(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, storage.Namespace+storage.Separator+"*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	return s.announce(ctx, "")
}

func (s *Store) announce(ctx context.Context, key string) error {
	payload, err := json.Marshal(announcement{Origin: s.origin, Key: key})
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, s.channel, payload).Err()
}

// Subscribe delivers changes announced by other handles. The subscription is
// confirmed before Subscribe returns, so no write made after it is missed.
func (s *Store) Subscribe(ctx context.Context, fn func(storage.Change)) (func(), error) {
	pubsub := s.client.Subscribe(ctx, s.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	go func() {
		for msg := range pubsub.Channel() {
			var a announcement
			if err := json.Unmarshal([]byte(msg.Payload), &a); err != nil {
				s.logger.Warn("dropping malformed change announcement", "error", err)
				continue
			}
			if a.Origin == s.origin {
				continue
			}
			fn(storage.Change{Key: a.Key})
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { _ = pubsub.Close() })
	}, nil
}
