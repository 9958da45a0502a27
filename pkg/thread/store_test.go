package thread

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateAndGet(t *testing.T) {
	s := NewStore()
	created := s.Create("user-1", "Incident review")

	got, err := s.Get("user-1", created.ID)
	require.NoError(t, err)
	assert.Equal(t, "Incident review", got.Title)
	assert.Equal(t, "user-1", got.UserID)
	assert.Empty(t, got.Messages)
}

func TestCreateDefaultTitle(t *testing.T) {
	s := NewStore()
	created := s.Create("user-1", "")
	assert.Equal(t, "New conversation", created.Title)
}

func TestGetEnforcesOwnership(t *testing.T) {
	s := NewStore()
	created := s.Create("user-1", "private")

	_, err := s.Get("user-2", created.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Get("user-1", "no-such-thread")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRename(t *testing.T) {
	s := NewStore()
	created := s.Create("user-1", "old")

	require.NoError(t, s.Rename("user-1", created.ID, "new"))
	got, err := s.Get("user-1", created.ID)
	require.NoError(t, err)
	assert.Equal(t, "new", got.Title)

	assert.ErrorIs(t, s.Rename("user-2", created.ID, "stolen"), ErrNotFound)
}

func TestDelete(t *testing.T) {
	s := NewStore()
	created := s.Create("user-1", "t")

	assert.ErrorIs(t, s.Delete("user-2", created.ID), ErrNotFound)
	require.NoError(t, s.Delete("user-1", created.ID))
	assert.ErrorIs(t, s.Delete("user-1", created.ID), ErrNotFound)
	assert.Equal(t, 0, s.Count())
}

func TestAddMessage(t *testing.T) {
	s := NewStore()
	created := s.Create("user-1", "t")

	require.NoError(t, s.AddMessage("user-1", created.ID, RoleUser, "hello", map[string]any{"source": "ws"}))
	require.NoError(t, s.AddMessage("user-1", created.ID, RoleAssistant, "hi", nil))

	got, err := s.Get("user-1", created.ID)
	require.NoError(t, err)
	clone := got.Clone()
	require.Len(t, clone.Messages, 2)
	assert.Equal(t, RoleUser, clone.Messages[0].Role)
	assert.Equal(t, "hi", clone.Messages[1].Content)
	assert.True(t, clone.UpdatedAt.After(clone.CreatedAt) || clone.UpdatedAt.Equal(clone.CreatedAt))

	assert.ErrorIs(t, s.AddMessage("user-2", created.ID, RoleUser, "x", nil), ErrNotFound)
}

func TestListScopedAndOrdered(t *testing.T) {
	s := NewStore()
	a := s.Create("user-1", "a")
	s.Create("user-2", "other")
	b := s.Create("user-1", "b")

	// Touching a makes it the most recently updated.
	time.Sleep(time.Millisecond)
	require.NoError(t, s.AddMessage("user-1", a.ID, RoleUser, "bump", nil))

	threads := s.List("user-1")
	require.Len(t, threads, 2)
	assert.Equal(t, a.ID, threads[0].ID)
	assert.Equal(t, b.ID, threads[1].ID)
	assert.Empty(t, s.List("user-3"))
}

func TestCloneIsIndependent(t *testing.T) {
	s := NewStore()
	created := s.Create("user-1", "t")
	require.NoError(t, s.AddMessage("user-1", created.ID, RoleUser, "one", nil))

	clone := created.Clone()
	clone.Messages[0].Content = "mutated"
	clone.Title = "mutated"

	got, err := s.Get("user-1", created.ID)
	require.NoError(t, err)
	fresh := got.Clone()
	assert.Equal(t, "one", fresh.Messages[0].Content)
	assert.Equal(t, "t", fresh.Title)
}

func TestPruneStale(t *testing.T) {
	s := NewStore()
	old := s.Create("user-1", "old")
	old.mu.Lock()
	old.UpdatedAt = time.Now().Add(-48 * time.Hour)
	old.mu.Unlock()
	s.Create("user-1", "fresh")

	assert.Equal(t, 0, s.PruneStale(0), "zero retention disables pruning")
	assert.Equal(t, 1, s.PruneStale(24*time.Hour))
	assert.Equal(t, 1, s.Count())
	_, err := s.Get("user-1", old.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
