package roles

import (
	"context"
	"errors"
	"testing"

	"github.com/codr1/LeagueConsole/internal/storage"
)

func TestHasRoleSubstring(t *testing.T) {
	tests := []struct {
		name  string
		set   Set
		role  string
		alias []string
		want  bool
	}{
		{name: "compound role", set: NewSet("team-captain"), role: "captain", want: true},
		{name: "exact", set: NewSet("member"), role: "member", want: true},
		{name: "prefix of role", set: NewSet("member"), role: "mem", want: true},
		{name: "alias", set: NewSet("league-admin"), role: "committee", alias: []string{"admin"}, want: true},
		{name: "no match", set: NewSet("member"), role: "captain", want: false},
		{name: "empty set", set: Set{}, role: "member", want: false},
		{name: "empty alias ignored", set: NewSet("member"), role: "captain", alias: []string{""}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasRole(tt.set, tt.role, tt.alias...); got != tt.want {
				t.Fatalf("HasRole(%v, %q, %v) = %v, want %v", tt.set.Names(), tt.role, tt.alias, got, tt.want)
			}
		})
	}
}

func TestDeriveIsPure(t *testing.T) {
	sets := []Set{
		{},
		NewSet("committee"),
		NewSet("admin"),
		NewSet("captain"),
		NewSet("member"),
		NewSet("official"),
		NewSet("official", "team-captain"),
		NewSet("committee", "member"),
		NewSet("spectator"),
	}

	for _, set := range sets {
		caps := Derive(set)
		if caps.IsOrganizer != (caps.IsOfficial || caps.IsAdmin) {
			t.Fatalf("%v: organizer flag inconsistent: %+v", set.Names(), caps)
		}
		if caps.IsUser != (caps.IsMember || caps.IsCaptain) {
			t.Fatalf("%v: user flag inconsistent: %+v", set.Names(), caps)
		}
		if Derive(set) != caps {
			t.Fatalf("%v: expected identical result on recompute", set.Names())
		}
	}

	if (Derive(Set{}) != Capabilities{}) {
		t.Fatal("expected every flag false for the empty set")
	}
}

func TestCacheLoad(t *testing.T) {
	tests := []struct {
		name  string
		raw   *string
		names []string
	}{
		{name: "absent", raw: nil, names: []string{}},
		{name: "legacy array", raw: strPtr(`["captain","member"]`), names: []string{"captain", "member"}},
		{name: "envelope", raw: strPtr(`{"version":1,"roles":["official"]}`), names: []string{"official"}},
		{name: "malformed json", raw: strPtr(`["captain"`), names: []string{}},
		{name: "not json", raw: strPtr(`captain,member`), names: []string{}},
		{name: "unknown version", raw: strPtr(`{"version":9,"roles":["official"]}`), names: []string{}},
		{name: "wrong element type", raw: strPtr(`[1,2]`), names: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := storage.NewMemory()
			if tt.raw != nil {
				if err := store.SetItem(context.Background(), StorageKey, *tt.raw); err != nil {
					t.Fatalf("seed: %v", err)
				}
			}

			got := NewCache(store).Load(context.Background()).Names()
			if len(got) != len(tt.names) {
				t.Fatalf("expected %v, got %v", tt.names, got)
			}
			for i := range got {
				if got[i] != tt.names[i] {
					t.Fatalf("expected %v, got %v", tt.names, got)
				}
			}
		})
	}
}

func TestCacheSaveAndInvalidate(t *testing.T) {
	store := storage.NewMemory()
	cache := NewCache(store)
	ctx := context.Background()

	if err := cache.Save(ctx, NewSet("member", "captain")); err != nil {
		t.Fatalf("save: %v", err)
	}
	raw, _, _ := store.GetItem(ctx, StorageKey)
	if raw != `{"version":1,"roles":["captain","member"]}` {
		t.Fatalf("unexpected stored value %s", raw)
	}
	if !Derive(cache.Load(ctx)).IsUser {
		t.Fatal("expected saved roles to grant user capability")
	}

	if err := cache.Invalidate(ctx); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if len(cache.Load(ctx)) != 0 {
		t.Fatal("expected no roles after invalidate")
	}
}

type stubFetcher struct {
	names []string
	err   error
}

func (s stubFetcher) Roles(ctx context.Context) ([]string, error) {
	return s.names, s.err
}

func TestCacheSync(t *testing.T) {
	cache := NewCache(storage.NewMemory())
	ctx := context.Background()

	set, err := cache.Sync(ctx, stubFetcher{names: []string{"official", " "}})
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if len(set) != 1 || !Derive(cache.Load(ctx)).IsOrganizer {
		t.Fatalf("expected synced official role, got %v", set.Names())
	}

	boom := errors.New("backend down")
	if _, err := cache.Sync(ctx, stubFetcher{err: boom}); !errors.Is(err, boom) {
		t.Fatalf("expected fetch error, got %v", err)
	}
	if !Derive(cache.Load(ctx)).IsOfficial {
		t.Fatal("expected failed sync to keep the previous roles")
	}
}

func strPtr(s string) *string {
	return &s
}
