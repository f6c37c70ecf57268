package users

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lendwatch/internal/domain"
)

func TestDirectoryAddGet(t *testing.T) {
	t.Parallel()
	d := NewDirectory()
	require.NoError(t, d.Add(User{ID: "u2", Name: "Bea"}))
	require.NoError(t, d.Add(User{ID: " u1 ", Name: "Ana", Email: "ana@example.org"}))

	u, err := d.Get("u1")
	require.NoError(t, err)
	assert.Equal(t, "ana@example.org", u.Email)
	assert.True(t, d.Exists("u2"))

	list := d.List()
	require.Len(t, list, 2)
	assert.Equal(t, "u1", list[0].ID)
}

func TestDirectoryErrors(t *testing.T) {
	t.Parallel()
	d := NewDirectory()
	require.NoError(t, d.Add(User{ID: "u1"}))

	err := d.Add(User{ID: "u1", Name: "other"})
	assert.ErrorIs(t, err, domain.ErrDuplicate)

	err = d.Add(User{ID: "  "})
	assert.ErrorIs(t, err, domain.ErrInvalidOperation)

	_, err = d.Get("missing")
	assert.ErrorIs(t, err, ErrUserNotFound)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
