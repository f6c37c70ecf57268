// Package users holds the user directory consumed by the ledger and the
// notification gateway for lookup-by-id.
package users

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"lendwatch/internal/domain"
)

var ErrUserNotFound = fmt.Errorf("user %w", domain.ErrNotFound)

// User is a library member. Contact fields are used by the matching
// notification sink (email, sms, telegram); empty means "not reachable there".
type User struct {
	ID             string
	Name           string
	Email          string
	Phone          string
	TelegramChatID int64
}

// Directory is a concurrency-safe in-memory user store.
type Directory struct {
	mu    sync.RWMutex
	users map[string]User
}

func NewDirectory() *Directory {
	return &Directory{users: map[string]User{}}
}

// Add registers u. Re-using an id is rejected so an existing member's
// loans never silently change owner.
func (d *Directory) Add(u User) error {
	id := strings.TrimSpace(u.ID)
	if id == "" {
		return fmt.Errorf("user id required: %w", domain.ErrInvalidOperation)
	}
	u.ID = id

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.users[id]; ok {
		return fmt.Errorf("user %q: %w", id, domain.ErrDuplicate)
	}
	d.users[id] = u
	return nil
}

func (d *Directory) Get(id string) (User, error) {
	d.mu.RLock()
	u, ok := d.users[id]
	d.mu.RUnlock()
	if !ok {
		return User{}, fmt.Errorf("%w: %q", ErrUserNotFound, id)
	}
	return u, nil
}

// Exists reports whether id is registered.
func (d *Directory) Exists(id string) bool {
	d.mu.RLock()
	_, ok := d.users[id]
	d.mu.RUnlock()
	return ok
}

// List returns all users ordered by id.
func (d *Directory) List() []User {
	d.mu.RLock()
	out := make([]User, 0, len(d.users))
	for _, u := range d.users {
		out = append(out, u)
	}
	d.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
