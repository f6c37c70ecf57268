package library

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lendwatch/internal/domain"
)

func seedRegistry(t *testing.T) *Registry {
	t.Helper()
	g := NewRegistry()
	require.NoError(t, g.Add(NewBook("b2", "The Go Programming Language")))
	require.NoError(t, g.Add(NewMagazine("m1", "Linux Journal")))
	require.NoError(t, g.Add(NewAudiobook("a1", "Go in Action")))
	require.NoError(t, g.Add(New("o1", "Atlas", "", 0)))
	return g
}

func TestRegistryAddGet(t *testing.T) {
	t.Parallel()
	g := seedRegistry(t)

	r, err := g.Get("b2")
	require.NoError(t, err)
	assert.Equal(t, StateAvailable, r.State)
	assert.True(t, r.Loanable())
	assert.True(t, r.Renewable())

	o, err := g.Get("o1")
	require.NoError(t, err)
	assert.Equal(t, CategoryOther, o.Category)

	_, err = g.Get("nope")
	assert.ErrorIs(t, err, ErrResourceNotFound)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRegistryRejectsDuplicateID(t *testing.T) {
	t.Parallel()
	g := seedRegistry(t)

	err := g.Add(NewMagazine("b2", "Impostor"))
	require.ErrorIs(t, err, domain.ErrDuplicate)

	r, err := g.Get("b2")
	require.NoError(t, err)
	assert.Equal(t, "The Go Programming Language", r.Title)
	assert.Equal(t, 4, g.Len())
}

func TestRegistryQueries(t *testing.T) {
	t.Parallel()
	g := seedRegistry(t)

	ids := func(rs []Resource) []string {
		out := make([]string, 0, len(rs))
		for _, r := range rs {
			out = append(out, r.ID)
		}
		return out
	}

	assert.Equal(t, []string{"a1", "b2", "m1", "o1"}, ids(g.List()))
	assert.Equal(t, []string{"a1", "b2"}, ids(g.SearchByTitle("GO ")))
	assert.Empty(t, g.SearchByTitle("rust"))
	assert.Equal(t, []string{"m1"}, ids(g.FilterByCategory(CategoryMagazine)))
	assert.Equal(t, []string{"o1", "a1", "m1", "b2"}, ids(g.SortedByTitle()))
	assert.Equal(t, []string{"a1", "b2", "m1", "o1"}, ids(g.SortedByCategory()))
}

func TestRegistryStats(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	g := seedRegistry(t)
	l := NewLedger(g)

	_, err := l.Lend(ctx, "b2", "u1")
	require.NoError(t, err)
	_, err = l.Reserve(ctx, "b2", "u2")
	require.NoError(t, err)
	_, err = l.Lend(ctx, "a1", "u3")
	require.NoError(t, err)

	st := g.Stats()
	assert.Equal(t, map[State]int{StateLoaned: 2, StateAvailable: 2}, st.ByState)
	assert.Equal(t, map[Category]int{
		CategoryBook: 1, CategoryAudio: 1, CategoryMagazine: 1, CategoryOther: 1,
	}, st.ByCategory)
	assert.Equal(t, 1, st.Reservations)
}

func TestCapabilities(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		res       Resource
		loanable  bool
		renewable bool
	}{
		{name: "book", res: NewBook("b", "t"), loanable: true, renewable: true},
		{name: "audiobook", res: NewAudiobook("a", "t"), loanable: true},
		{name: "magazine", res: NewMagazine("m", "t")},
		{name: "renewable implies loanable", res: New("x", "t", CategoryOther, CapRenewable), loanable: true, renewable: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.loanable, tt.res.Loanable())
			assert.Equal(t, tt.renewable, tt.res.Renewable())
		})
	}
}

func TestParseCategory(t *testing.T) {
	t.Parallel()
	c, err := ParseCategory(" audio ")
	require.NoError(t, err)
	assert.Equal(t, CategoryAudio, c)

	c, err = ParseCategory("")
	require.NoError(t, err)
	assert.Equal(t, CategoryOther, c)

	_, err = ParseCategory("vinyl")
	assert.Error(t, err)
}
