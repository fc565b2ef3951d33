// Package audittest provides an in-memory audit.Store for tests.
package audittest

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"igrejaportal.org/internal/audit"
	"igrejaportal.org/internal/auth"
)

// Store keeps entries in memory with the same filter and ordering rules as
// the Postgres store.
type Store struct {
	mu      sync.Mutex
	entries []audit.Entry

	InsertErr error
	SearchErr error
	CountErr  error
	DeleteErr error
}

func NewStore() *Store { return &Store{} }

func (s *Store) Insert(_ context.Context, e audit.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.InsertErr != nil {
		return s.InsertErr
	}
	e.ActorUserEmail = nil
	e.ActorUserName = nil
	s.entries = append(s.entries, e)
	return nil
}

func (s *Store) Search(_ context.Context, f audit.Filter, limit, offset int) ([]audit.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SearchErr != nil {
		return nil, s.SearchErr
	}
	matched := s.match(f)
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})
	if offset >= len(matched) {
		return []audit.Entry{}, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return append([]audit.Entry(nil), matched[offset:end]...), nil
}

func (s *Store) Count(_ context.Context, f audit.Filter) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CountErr != nil {
		return 0, s.CountErr
	}
	return len(s.match(f)), nil
}

func (s *Store) DeleteOlderThan(_ context.Context, threshold time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.DeleteErr != nil {
		return 0, s.DeleteErr
	}
	kept := s.entries[:0]
	var n int64
	for _, e := range s.entries {
		if e.CreatedAt.Before(threshold) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	s.entries = kept
	return n, nil
}

// All returns a copy of every stored entry in insertion order.
func (s *Store) All() []audit.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Entry(nil), s.entries...)
}

// Put stores e directly, bypassing Record.
func (s *Store) Put(e audit.Entry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
}

// ByAction returns the stored entries tagged with a.
func (s *Store) ByAction(a audit.Action) []audit.Entry {
	var out []audit.Entry
	for _, e := range s.All() {
		if e.Action == a {
			out = append(out, e)
		}
	}
	return out
}

func (s *Store) match(f audit.Filter) []audit.Entry {
	var out []audit.Entry
	action := strings.ToLower(f.Action)
	resource := strings.ToLower(f.ResourceType)
	for _, e := range s.entries {
		if action != "" && !strings.Contains(strings.ToLower(string(e.Action)), action) {
			continue
		}
		if resource != "" && !strings.Contains(strings.ToLower(string(e.ResourceType)), resource) {
			continue
		}
		if f.From != nil && e.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && e.CreatedAt.After(*f.To) {
			continue
		}
		out = append(out, e)
	}
	return out
}

// Users is an audit.UserDirectory backed by a map. Ids listed in Fail
// return an error.
type Users struct {
	mu    sync.Mutex
	Known map[string]auth.Identity
	Fail  map[string]error
	Calls map[string]int
}

func NewUsers() *Users {
	return &Users{Known: map[string]auth.Identity{}, Fail: map[string]error{}, Calls: map[string]int{}}
}

func (u *Users) UserByID(_ context.Context, id string) (*auth.Identity, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.Calls[id]++
	if err, ok := u.Fail[id]; ok {
		return nil, err
	}
	user, ok := u.Known[id]
	if !ok {
		return nil, auth.ErrNotFound
	}
	return &user, nil
}
