package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var groupColumns = []string{
	"code", "name", "creator_id", "members", "member_names", "purchases",
	"balances", "payment_history", "purchase_counter", "version", "created_at", "updated_at",
}

func groupRow(t *testing.T, g *GroupLedger) *sqlmock.Rows {
	t.Helper()
	doc, err := encodeGroup(g)
	require.NoError(t, err)
	return sqlmock.NewRows(groupColumns).AddRow(
		g.Code, g.Name, g.CreatorID,
		doc.members, doc.memberNames, doc.purchases, doc.balances, doc.paymentHistory,
		g.PurchaseCounter, g.Version, g.CreatedAt, g.UpdatedAt,
	)
}

func storedGroup(t *testing.T) *GroupLedger {
	t.Helper()
	g, err := NewGroupLedger("casa", "Casa", "alice", "Alice", fixedNow)
	require.NoError(t, err)
	g.addMember("bob", "Bob")
	g.Version = 4
	return g
}

func TestRepository_CreateGroup(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	g, err := NewGroupLedger("casa", "Casa", "alice", "Alice", fixedNow)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO group_ledgers").
		WithArgs("casa", "Casa", "alice", sqlmock.AnyArg(), sqlmock.AnyArg(), []byte("[]"), sqlmock.AnyArg(), []byte("[]"), 0, fixedNow, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewRepository(db)
	require.NoError(t, repo.CreateGroup(context.Background(), g))
	assert.Equal(t, int64(1), g.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_CreateGroup_Duplicate(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO group_ledgers").
		WillReturnError(&pq.Error{Code: "23505", Message: "duplicate key value violates unique constraint"})

	g, err := NewGroupLedger("casa", "Casa", "alice", "Alice", fixedNow)
	require.NoError(t, err)

	err = NewRepository(db).CreateGroup(context.Background(), g)
	assert.ErrorIs(t, err, ErrGroupExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_ReadGroup(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	want := storedGroup(t)
	mock.ExpectQuery("SELECT code, name, creator_id").
		WithArgs("casa").
		WillReturnRows(groupRow(t, want))

	got, err := NewRepository(db).ReadGroup(context.Background(), "casa")
	require.NoError(t, err)
	assert.Equal(t, []string{"alice", "bob"}, got.Members)
	assert.Equal(t, "Bob", got.DisplayName("bob"))
	assert.Equal(t, int64(4), got.Version)
	assert.NotNil(t, got.Balances)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_ReadGroup_Errors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"not found", sql.ErrNoRows, ErrGroupNotFound},
		{"connection lost", errors.New("driver: bad connection"), ErrStoreUnavailable},
		{"cancelled", context.Canceled, context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			mock.ExpectQuery("SELECT code, name, creator_id").WillReturnError(tt.err)

			_, err = NewRepository(db).ReadGroup(context.Background(), "casa")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRepository_RunTransaction_Commits(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	current := storedGroup(t)
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT code, name, creator_id").WithArgs("casa").WillReturnRows(groupRow(t, current))
	mock.ExpectExec("UPDATE group_ledgers").
		WithArgs("casa", int64(4), "Casa", sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), 0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	committed, err := NewRepository(db).RunTransaction(context.Background(), "casa", func(g *GroupLedger) (*GroupLedger, error) {
		g.addMember("carol", "Carol")
		return g, nil
	})
	require.NoError(t, err)
	assert.Equal(t, int64(5), committed.Version)
	assert.Equal(t, []string{"alice", "bob", "carol"}, committed.Members)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_RunTransaction_VersionConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT code, name, creator_id").WithArgs("casa").WillReturnRows(groupRow(t, storedGroup(t)))
	mock.ExpectExec("UPDATE group_ledgers").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err = NewRepository(db).RunTransaction(context.Background(), "casa", func(g *GroupLedger) (*GroupLedger, error) {
		return g, nil
	})
	assert.ErrorIs(t, err, ErrConcurrentUpdate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_RunTransaction_CallbackError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT code, name, creator_id").WithArgs("casa").WillReturnRows(groupRow(t, storedGroup(t)))
	mock.ExpectRollback()

	_, err = NewRepository(db).RunTransaction(context.Background(), "casa", func(g *GroupLedger) (*GroupLedger, error) {
		return nil, ErrOverpaymentRejected
	})
	assert.ErrorIs(t, err, ErrOverpaymentRejected)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_RunTransaction_SerializationFailure(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT code, name, creator_id").WithArgs("casa").WillReturnRows(groupRow(t, storedGroup(t)))
	mock.ExpectExec("UPDATE group_ledgers").WillReturnError(&pq.Error{Code: "40001"})
	mock.ExpectRollback()

	_, err = NewRepository(db).RunTransaction(context.Background(), "casa", func(g *GroupLedger) (*GroupLedger, error) {
		return g, nil
	})
	assert.ErrorIs(t, err, ErrConcurrentUpdate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_RunTransaction_BeginFails(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin().WillReturnError(errors.New("too many connections"))

	_, err = NewRepository(db).RunTransaction(context.Background(), "casa", func(g *GroupLedger) (*GroupLedger, error) {
		return g, nil
	})
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestEncodeGroup_BalancesRoundTrip(t *testing.T) {
	g := storedGroup(t)
	g.Balances = ApplyPurchase(g.Balances, groceries())

	doc, err := encodeGroup(g)
	require.NoError(t, err)

	var back Balances
	require.NoError(t, json.Unmarshal(doc.balances, &back))
	assert.True(t, back.Equal(g.Balances))
}
