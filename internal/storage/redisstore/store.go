// Package redisstore provides the fast shared store and change notifications
// for portal state.
package redisstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/t-vanderwolk/RegistryTaylor-sub000/internal/platform/id"
	"github.com/t-vanderwolk/RegistryTaylor-sub000/internal/storage"
)

// changeChannel carries advisory change notifications between portal
// instances. Each message is "<origin> <key>" so subscribers can drop their
// own writes; Redis pub/sub echoes a publisher's messages back to it.
const changeChannel = "registry_taylor:changes"

// Store implements storage.KV and storage.Notifier over Redis.
//
// Writes publish the changed key on a pub/sub channel so other portal
// instances can revalidate. Published messages are tagged with this store's
// origin ID and Watch filters them out on receipt, matching the Notifier
// contract that an instance never observes its own changes.
type Store struct {
	client *redis.Client
	ttl    time.Duration
	origin string
}

var (
	_ storage.KV       = (*Store)(nil)
	_ storage.Notifier = (*Store)(nil)
)

// New connects to Redis and verifies the connection.
//
// ttl bounds how long fast-store entries survive without a refresh; zero
// means no server-side expiry.
func New(addr, password string, ttl time.Duration) (*Store, error) {
	if strings.TrimSpace(addr) == "" {
		return nil, fmt.Errorf("redis address is required")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       0,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return NewWithClient(client, ttl), nil
}

// NewWithClient wraps an existing Redis client.
func NewWithClient(client *redis.Client, ttl time.Duration) *Store {
	origin, _ := id.NewID()
	return &Store{client: client, ttl: ttl, origin: origin}
}

// Close releases the underlying Redis client.
func (s *Store) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

// Load returns the payload stored under key, or storage.ErrNotFound.
func (s *Store) Load(ctx context.Context, key string) ([]byte, error) {
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("redis store is not configured")
	}
	payload, err := s.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", key, err)
	}
	return payload, nil
}

// Save replaces the payload stored under key and notifies watchers.
func (s *Store) Save(ctx context.Context, key string, payload []byte) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("redis store is not configured")
	}
	if err := s.client.Set(ctx, key, payload, s.ttl).Err(); err != nil {
		return fmt.Errorf("save %s: %w", key, err)
	}
	s.publish(ctx, key)
	return nil
}

// Delete removes the payload stored under key and notifies watchers.
func (s *Store) Delete(ctx context.Context, key string) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("redis store is not configured")
	}
	if err := s.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	s.publish(ctx, key)
	return nil
}

// publish is best-effort: a lost notification only delays the next
// revalidation until the interval trigger fires.
func (s *Store) publish(ctx context.Context, key string) {
	_ = s.client.Publish(ctx, changeChannel, encodeChange(s.origin, key)).Err()
}

func encodeChange(origin, key string) string {
	return origin + " " + key
}

// deliver unpacks a channel message and forwards the key, dropping changes
// this store published itself. Untagged payloads are forwarded as-is for
// compatibility with external publishers.
func (s *Store) deliver(payload string, onChange func(key string)) {
	origin, key, tagged := strings.Cut(payload, " ")
	if !tagged {
		onChange(payload)
		return
	}
	if origin == s.origin {
		return
	}
	onChange(key)
}

// Watch invokes onChange with each changed key until stop is called or ctx is
// cancelled. Changes this store published itself are dropped before the
// callback fires.
func (s *Store) Watch(ctx context.Context, onChange func(key string)) (stop func(), err error) {
	if onChange == nil {
		return nil, fmt.Errorf("onChange callback is required")
	}
	if s == nil || s.client == nil {
		return nil, fmt.Errorf("redis store is not configured")
	}

	pubsub := s.client.Subscribe(ctx, changeChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe changes: %w", err)
	}

	messages := pubsub.Channel()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				s.deliver(msg.Payload, onChange)
			}
		}
	}()

	return func() { _ = pubsub.Close() }, nil
}
