package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStoredGroup(t *testing.T, store Store) *GroupLedger {
	t.Helper()
	g, err := NewGroupLedger("casa", "Casa", "alice", "Alice", fixedNow)
	require.NoError(t, err)
	require.NoError(t, store.CreateGroup(context.Background(), g))
	return g
}

func TestMemoryStore_CreateAndRead(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	g := newStoredGroup(t, store)
	assert.Equal(t, int64(1), g.Version)

	err := store.CreateGroup(ctx, g)
	assert.ErrorIs(t, err, ErrGroupExists)

	got, err := store.ReadGroup(ctx, "casa")
	require.NoError(t, err)
	assert.Equal(t, g.Members, got.Members)

	got.Members = append(got.Members, "mallory")
	again, err := store.ReadGroup(ctx, "casa")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, again.Members)

	_, err = store.ReadGroup(ctx, "nope")
	assert.ErrorIs(t, err, ErrGroupNotFound)
}

func TestMemoryStore_RunTransaction_BumpsVersion(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	newStoredGroup(t, store)

	committed, err := store.RunTransaction(ctx, "casa", func(g *GroupLedger) (*GroupLedger, error) {
		g.addMember("bob", "Bob")
		return g, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(2), committed.Version)

	got, err := store.ReadGroup(ctx, "casa")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, got.Members)
	assert.Equal(t, int64(2), got.Version)
}

func TestMemoryStore_RunTransaction_CallbackErrorWritesNothing(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	newStoredGroup(t, store)
	boom := errors.New("boom")

	_, err := store.RunTransaction(ctx, "casa", func(g *GroupLedger) (*GroupLedger, error) {
		g.addMember("bob", "Bob")
		return nil, boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := store.ReadGroup(ctx, "casa")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice"}, got.Members)
	assert.Equal(t, int64(1), got.Version)
}

func TestMemoryStore_RunTransaction_DetectsConflict(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	newStoredGroup(t, store)

	_, err := store.RunTransaction(ctx, "casa", func(g *GroupLedger) (*GroupLedger, error) {
		_, inner := store.RunTransaction(ctx, "casa", func(g *GroupLedger) (*GroupLedger, error) {
			g.addMember("carol", "Carol")
			return g, nil
		})
		require.NoError(t, inner)

		g.addMember("bob", "Bob")
		return g, nil
	})
	assert.ErrorIs(t, err, ErrConcurrentUpdate)

	got, err := store.ReadGroup(ctx, "casa")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "carol"}, got.Members)
	assert.Equal(t, int64(2), got.Version)
}

func TestMemoryStore_RunTransaction_ContextDone(t *testing.T) {
	store := NewMemoryStore()
	newStoredGroup(t, store)

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()

	_, err := store.RunTransaction(ctx, "casa", func(g *GroupLedger) (*GroupLedger, error) {
		<-ctx.Done()
		g.addMember("bob", "Bob")
		return g, nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	got, err := store.ReadGroup(context.Background(), "casa")
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Version)
}
