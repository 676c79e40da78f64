package main

import (
	"bytes"
	"context"
	"testing"

	"github.com/billbatista/acasinha-ledger/ledger"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRebuildGroups(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()
	svc := ledger.NewService(store)

	for _, code := range []string{"casa", "praia"} {
		_, err := svc.CreateGroup(ctx, code, "Group", "alice", "Alice")
		require.NoError(t, err)
		_, err = svc.JoinGroup(ctx, code, "bob", "Bob")
		require.NoError(t, err)
	}

	_, err := store.RunTransaction(ctx, "praia", func(g *ledger.GroupLedger) (*ledger.GroupLedger, error) {
		g.Balances = ledger.Balances{
			"bob":   {"alice": decimal.NewFromInt(12)},
			"alice": {"bob": decimal.NewFromInt(-12)},
		}
		return g, nil
	})
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, rebuildGroups(ctx, svc, []string{"casa", "praia"}, &out))
	assert.Equal(t, "casa\tconsistent\npraia\trebuilt\n", out.String())

	debts, err := svc.Debts(ctx, "praia", "bob")
	require.NoError(t, err)
	assert.Empty(t, debts)

	err = rebuildGroups(ctx, svc, []string{"nope"}, &out)
	assert.ErrorIs(t, err, ledger.ErrGroupNotFound)
}
