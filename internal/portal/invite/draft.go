package invite

import (
	"context"
	"encoding/json"
	"log"

	"github.com/t-vanderwolk/RegistryTaylor-sub000/internal/portal/user"
	"github.com/t-vanderwolk/RegistryTaylor-sub000/internal/storage"
)

// draftKeyPrefix namespaces drafts away from the session cache keys.
const draftKeyPrefix = "registry_taylor_draft:"

// Draft holds not-yet-submitted profile fields for one role/invite pairing.
type Draft struct {
	Fields map[string]string `json:"fields"`
}

// DraftKey derives the storage key for a (role, code) pairing. Keys embed
// both parts so a draft is never visible to an unrelated invite or role.
func DraftKey(role user.Role, code string) string {
	return draftKeyPrefix + user.RoleLabel(role) + ":" + code
}

// DraftStore persists drafts so a reload does not lose partially entered
// data. Like the session cache it degrades silently: losing a draft is
// annoying, never fatal.
type DraftStore struct {
	kv     storage.KV
	logger *log.Logger
}

// NewDraftStore builds a draft store over a storage layer. A nil layer
// yields a store that remembers nothing.
func NewDraftStore(kv storage.KV, logger *log.Logger) *DraftStore {
	if logger == nil {
		logger = log.Default()
	}
	return &DraftStore{kv: kv, logger: logger}
}

// Load returns the draft for a pairing, or an empty draft.
func (s *DraftStore) Load(ctx context.Context, role user.Role, code string) Draft {
	empty := Draft{Fields: map[string]string{}}
	if s == nil || s.kv == nil {
		return empty
	}
	payload, err := s.kv.Load(ctx, DraftKey(role, code))
	if err != nil {
		return empty
	}
	var draft Draft
	if err := json.Unmarshal(payload, &draft); err != nil {
		return empty
	}
	if draft.Fields == nil {
		draft.Fields = map[string]string{}
	}
	return draft
}

// Save persists the draft for a pairing.
func (s *DraftStore) Save(ctx context.Context, role user.Role, code string, draft Draft) {
	if s == nil || s.kv == nil {
		return
	}
	payload, err := json.Marshal(draft)
	if err != nil {
		s.logger.Printf("draft store: marshal draft: %v", err)
		return
	}
	if err := s.kv.Save(ctx, DraftKey(role, code), payload); err != nil {
		s.logger.Printf("draft store: save draft: %v", err)
	}
}

// Discard removes the draft for a pairing.
func (s *DraftStore) Discard(ctx context.Context, role user.Role, code string) {
	if s == nil || s.kv == nil {
		return
	}
	if err := s.kv.Delete(ctx, DraftKey(role, code)); err != nil {
		s.logger.Printf("draft store: discard draft: %v", err)
	}
}
