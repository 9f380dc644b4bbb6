package registry

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSet_AddIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s := NewSet()

	added, err := s.Add(ctx, "http://a")
	require.NoError(t, err)
	assert.True(t, added)

	added, err = s.Add(ctx, "http://a")
	require.NoError(t, err)
	assert.False(t, added)

	list, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"http://a"}, list)
}

func TestSet_RemoveMissingReportsFalse(t *testing.T) {
	ctx := context.Background()
	s := NewSet()

	removed, err := s.Remove(ctx, "http://missing")
	require.NoError(t, err)
	assert.False(t, removed)

	_, _ = s.Add(ctx, "http://a")
	removed, err = s.Remove(ctx, "http://a")
	require.NoError(t, err)
	assert.True(t, removed)

	ok, err := s.Contains(ctx, "http://a")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSet_SnapshotIsIndependent(t *testing.T) {
	ctx := context.Background()
	s := NewSet()
	_, _ = s.Add(ctx, "http://a")
	_, _ = s.Add(ctx, "http://b")

	snap, err := s.List(ctx)
	require.NoError(t, err)

	_, _ = s.Remove(ctx, "http://a")
	_, _ = s.Add(ctx, "http://c")

	assert.Equal(t, []string{"http://a", "http://b"}, snap)
}

// A random sequence of adds and removes must leave exactly the model's members.
func TestSet_MatchesModelUnderRandomOps(t *testing.T) {
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))
	s := NewSet()
	model := map[string]bool{}

	for i := 0; i < 2000; i++ {
		id := fmt.Sprintf("http://t%d", rng.Intn(20))
		if rng.Intn(2) == 0 {
			added, err := s.Add(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, !model[id], added)
			model[id] = true
		} else {
			removed, err := s.Remove(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, model[id], removed)
			delete(model, id)
		}
	}

	want := make([]string, 0, len(model))
	for id := range model {
		want = append(want, id)
	}
	sort.Strings(want)
	got, err := s.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, len(want), s.Len())
}

func TestBatch_PartialSuccessIsNormal(t *testing.T) {
	ctx := context.Background()
	s := NewSet()
	_, _ = s.Add(ctx, "http://b")

	changes, err := AddBatch(ctx, s, []string{"http://a", "http://b", "http://c"})
	require.NoError(t, err)
	assert.Equal(t, []Change{
		{Target: "http://a", Changed: true},
		{Target: "http://b", Changed: false},
		{Target: "http://c", Changed: true},
	}, changes)

	changes, err = RemoveBatch(ctx, s, []string{"http://a", "http://x"})
	require.NoError(t, err)
	assert.Equal(t, []Change{
		{Target: "http://a", Changed: true},
		{Target: "http://x", Changed: false},
	}, changes)

	list, _ := s.List(ctx)
	assert.Equal(t, []string{"http://b", "http://c"}, list)
}
