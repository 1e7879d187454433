// Package identity resolves and persists the local participant.
package identity

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"

	"github.com/mcdev12/quizsync/go/internal/models"
)

var numericID = regexp.MustCompile(`^\d+$`)

// PlayerCreator is the player-identity REST endpoint, consulted only when no
// identity exists at all.
type PlayerCreator interface {
	CreatePlayer(ctx context.Context, name string) (models.Identity, error)
}

// IdentityStore resolves the local identity from an explicit value, the
// tab-scoped store and the durable store, in that order.
type IdentityStore struct {
	tab     Store
	durable Store

	mu      sync.Mutex
	latched *models.Identity
}

// NewIdentityStore creates an IdentityStore. durable may be nil.
func NewIdentityStore(tab, durable Store) *IdentityStore {
	if tab == nil {
		tab = NewMemoryStore()
	}
	return &IdentityStore{tab: tab, durable: durable}
}

// Resolve returns the local identity. Zero fields in explicit are treated as
// absent. Once an identity with an id has been resolved it is returned
// unchanged until Clear.
func (s *IdentityStore) Resolve(explicit models.Identity) models.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resolveLocked(explicit)
}

func (s *IdentityStore) resolveLocked(explicit models.Identity) models.Identity {
	if s.latched != nil {
		if explicit.HasID() && explicit.PlayerID != s.latched.PlayerID {
			log.Debug().
				Int64("latched_id", s.latched.PlayerID).
				Int64("explicit_id", explicit.PlayerID).
				Msg("identity already resolved, ignoring explicit id")
		}
		return *s.latched
	}

	id := explicit.PlayerID
	if id <= 0 {
		id = s.lookupID()
	}

	name := strings.TrimSpace(explicit.PlayerName)
	if name == "" {
		name = s.lookupName()
	}
	if name == "" {
		name = models.DefaultPlayerName
	}

	resolved := models.Identity{PlayerID: id, PlayerName: name}
	s.persist(s.tab, resolved)

	if resolved.HasID() {
		s.latched = &resolved
	}
	return resolved
}

// Ensure returns an identity with a server-issued id, creating a player
// through creator when none can be resolved.
func (s *IdentityStore) Ensure(ctx context.Context, name string, creator PlayerCreator) (models.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	resolved := s.resolveLocked(models.Identity{PlayerName: name})
	if resolved.HasID() {
		log.Debug().Int64("player_id", resolved.PlayerID).Msg("reusing player identity")
		return resolved, nil
	}

	created, err := creator.CreatePlayer(ctx, resolved.PlayerName)
	if err != nil {
		return models.Identity{}, fmt.Errorf("failed to create player: %w", err)
	}
	if !created.HasID() {
		return models.Identity{}, models.ErrIdentityMissing
	}
	if strings.TrimSpace(created.PlayerName) == "" {
		created.PlayerName = resolved.PlayerName
	}

	s.persist(s.tab, created)
	if s.durable != nil {
		s.persist(s.durable, created)
	}
	s.latched = &created

	log.Info().
		Int64("player_id", created.PlayerID).
		Str("player_name", created.PlayerName).
		Msg("created player identity")
	return created, nil
}

// Current returns the latched identity, if any.
func (s *IdentityStore) Current() (models.Identity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latched == nil {
		return models.Identity{}, false
	}
	return *s.latched, true
}

// Clear removes every persisted identity key so the next join issues a new
// identity.
func (s *IdentityStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.latched = nil
	var err error
	for _, st := range []Store{s.tab, s.durable} {
		if st == nil {
			continue
		}
		err = multierr.Append(err, st.Delete(KeyPlayerID))
		err = multierr.Append(err, st.Delete(KeyPlayerName))
	}
	if err != nil {
		return fmt.Errorf("failed to clear identity: %w", err)
	}
	return nil
}

func (s *IdentityStore) lookupID() int64 {
	for _, st := range []Store{s.tab, s.durable} {
		if st == nil {
			continue
		}
		raw, ok := st.Get(KeyPlayerID)
		if !ok || !numericID.MatchString(raw) {
			continue
		}
		id, err := strconv.ParseInt(raw, 10, 64)
		if err == nil && id > 0 {
			return id
		}
	}
	return 0
}

func (s *IdentityStore) lookupName() string {
	for _, st := range []Store{s.tab, s.durable} {
		if st == nil {
			continue
		}
		if raw, ok := st.Get(KeyPlayerName); ok {
			if name := strings.TrimSpace(raw); name != "" {
				return name
			}
		}
	}
	return ""
}

func (s *IdentityStore) persist(st Store, id models.Identity) {
	var err error
	if id.HasID() {
		err = multierr.Append(err, st.Set(KeyPlayerID, strconv.FormatInt(id.PlayerID, 10)))
	}
	err = multierr.Append(err, st.Set(KeyPlayerName, id.PlayerName))
	if err != nil {
		log.Warn().Err(err).Msg("failed to persist identity")
	}
}
