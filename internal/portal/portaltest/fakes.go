// Package portaltest provides in-memory fakes for portal session tests.
package portaltest

import (
	"context"
	"sync"

	"github.com/t-vanderwolk/RegistryTaylor-sub000/internal/storage"
)

// KV is an in-memory storage.KV with optional failure injection.
type KV struct {
	mu   sync.Mutex
	data map[string][]byte
	err  error
}

// NewKV returns an empty in-memory store.
func NewKV() *KV {
	return &KV{data: map[string][]byte{}}
}

// SetErr makes every subsequent operation fail with err. Pass nil to heal.
func (s *KV) SetErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Load implements storage.KV.
func (s *KV) Load(_ context.Context, key string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	payload, ok := s.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), payload...), nil
}

// Save implements storage.KV.
func (s *KV) Save(_ context.Context, key string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.data[key] = append([]byte(nil), payload...)
	return nil
}

// Delete implements storage.KV.
func (s *KV) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	delete(s.data, key)
	return nil
}

// Has reports whether a key is currently stored.
func (s *KV) Has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.data[key]
	return ok
}

// Notifier is an in-memory storage.Notifier fired manually from tests.
type Notifier struct {
	mu       sync.Mutex
	nextID   int
	watchers map[int]func(string)
}

// NewNotifier returns a notifier with no watchers.
func NewNotifier() *Notifier {
	return &Notifier{watchers: map[int]func(string){}}
}

// Watch implements storage.Notifier.
func (n *Notifier) Watch(_ context.Context, onChange func(key string)) (func(), error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.nextID
	n.nextID++
	n.watchers[id] = onChange
	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.watchers, id)
	}, nil
}

// Fire delivers a change notification for key to every watcher.
func (n *Notifier) Fire(key string) {
	n.mu.Lock()
	watchers := make([]func(string), 0, len(n.watchers))
	for _, w := range n.watchers {
		watchers = append(watchers, w)
	}
	n.mu.Unlock()
	for _, w := range watchers {
		w(key)
	}
}

// WatcherCount reports how many watchers are currently registered.
func (n *Notifier) WatcherCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.watchers)
}

// Navigator records redirects issued by the engine and flow.
type Navigator struct {
	mu        sync.Mutex
	path      string
	redirects []string
}

// NewNavigator returns a navigator positioned at path.
func NewNavigator(path string) *Navigator {
	return &Navigator{path: path}
}

// CurrentPath returns the simulated browsing location.
func (n *Navigator) CurrentPath() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.path
}

// Redirect records the redirect and moves the simulated location.
func (n *Navigator) Redirect(path string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.redirects = append(n.redirects, path)
	n.path = path
}

// Redirects returns every redirect issued so far.
func (n *Navigator) Redirects() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.redirects...)
}
