// Package directory holds the identity collaborators the engine consumes but
// does not own. Only the lookup surface is modeled here; the real services
// live elsewhere in the platform.
package directory

import (
	"context"
	"sync"

	"github.com/example/eldercare-dispatch/internal/faults"
)

type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
}

type Elder struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	SubscriptionRef string `json:"subscription_ref,omitempty"`
}

type Users interface {
	LookupUser(ctx context.Context, id string) (User, error)
}

type Elders interface {
	LookupElder(ctx context.Context, id string) (Elder, error)
}

// Static is an in-memory directory for local runs and tests.
type Static struct {
	mu     sync.RWMutex
	users  map[string]User
	elders map[string]Elder
}

func NewStatic() *Static {
	return &Static{users: make(map[string]User), elders: make(map[string]Elder)}
}

func (s *Static) AddUser(u User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *Static) AddElder(e Elder) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.elders[e.ID] = e
}

func (s *Static) LookupUser(_ context.Context, id string) (User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, faults.NotFound("user %s", id)
	}
	return u, nil
}

func (s *Static) LookupElder(_ context.Context, id string) (Elder, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.elders[id]
	if !ok {
		return Elder{}, faults.NotFound("elder %s", id)
	}
	return e, nil
}
