// Package roles turns the role strings cached for a browser context into the
// capability flags the console gates on.
package roles

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/codr1/LeagueConsole/internal/storage"
)

// StorageKey is where the role list lives in browser storage.
const StorageKey = "roles"

const cacheVersion = 1

const (
	RoleCommittee = "committee"
	RoleAdmin     = "admin"
	RoleCaptain   = "captain"
	RoleMember    = "member"
	RoleOfficial  = "official"
)

// Set is an unordered set of role names.
type Set map[string]struct{}

func NewSet(names ...string) Set {
	set := make(Set, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name != "" {
			set[name] = struct{}{}
		}
	}
	return set
}

// Names returns the roles in sorted order.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for name := range s {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasRole reports whether any role contains name, or alias when given, as a
// substring. "team-captain" satisfies "captain".
func HasRole(set Set, name string, alias ...string) bool {
	needles := append([]string{name}, alias...)
	for role := range set {
		for _, needle := range needles {
			if needle != "" && strings.Contains(role, needle) {
				return true
			}
		}
	}
	return false
}

// Capabilities are derived from a role set on every read and never stored.
type Capabilities struct {
	IsAdmin     bool `json:"isAdmin"`
	IsCaptain   bool `json:"isCaptain"`
	IsMember    bool `json:"isMember"`
	IsOfficial  bool `json:"isOfficial"`
	IsOrganizer bool `json:"isOrganizer"`
	IsUser      bool `json:"isUser"`
}

func Derive(set Set) Capabilities {
	caps := Capabilities{
		IsAdmin:    HasRole(set, RoleCommittee, RoleAdmin),
		IsCaptain:  HasRole(set, RoleCaptain),
		IsMember:   HasRole(set, RoleMember),
		IsOfficial: HasRole(set, RoleOfficial),
	}
	caps.IsOrganizer = caps.IsOfficial || caps.IsAdmin
	caps.IsUser = caps.IsMember || caps.IsCaptain
	return caps
}

type envelope struct {
	Version int      `json:"version"`
	Roles   []string `json:"roles"`
}

// Cache reads and writes the role list of one browser context.
type Cache struct {
	store storage.Storage
}

func NewCache(store storage.Storage) *Cache {
	return &Cache{store: store}
}

// Load returns the cached roles. Missing, unreadable or malformed data yields
// an empty set. Both the versioned envelope and a bare JSON array are read.
func (c *Cache) Load(ctx context.Context) Set {
	raw, ok, err := c.store.GetItem(ctx, StorageKey)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("Failed to read cached roles")
		return Set{}
	}
	if !ok {
		return Set{}
	}

	names, err := decode(raw)
	if err != nil {
		log.Ctx(ctx).Debug().Err(err).Msg("Ignoring malformed cached roles")
		return Set{}
	}
	return NewSet(names...)
}

func decode(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "[") {
		var names []string
		if err := json.Unmarshal([]byte(raw), &names); err != nil {
			return nil, err
		}
		return names, nil
	}

	var env envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil, err
	}
	if env.Version != cacheVersion {
		return nil, fmt.Errorf("unsupported roles cache version %d", env.Version)
	}
	return env.Roles, nil
}

// Save replaces the cached roles.
func (c *Cache) Save(ctx context.Context, set Set) error {
	payload, err := json.Marshal(envelope{Version: cacheVersion, Roles: set.Names()})
	if err != nil {
		return err
	}
	if err := c.store.SetItem(ctx, StorageKey, string(payload)); err != nil {
		return fmt.Errorf("save roles: %w", err)
	}
	return nil
}

// Invalidate drops the cached roles.
func (c *Cache) Invalidate(ctx context.Context) error {
	if err := c.store.RemoveItem(ctx, StorageKey); err != nil {
		return fmt.Errorf("invalidate roles: %w", err)
	}
	return nil
}

// Fetcher returns the current user's role names from the backend.
type Fetcher interface {
	Roles(ctx context.Context) ([]string, error)
}

// Sync fetches the user's roles and writes them to the cache.
func (c *Cache) Sync(ctx context.Context, fetcher Fetcher) (Set, error) {
	names, err := fetcher.Roles(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch roles: %w", err)
	}
	set := NewSet(names...)
	if err := c.Save(ctx, set); err != nil {
		return nil, err
	}
	return set, nil
}
