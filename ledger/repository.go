package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// repository stores each group ledger as one row whose collections are JSONB
// documents. The version column is the optimistic lock.
type repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *repository {
	return &repository{db: db}
}

const selectGroup = `SELECT code, name, creator_id, members, member_names, purchases, balances, payment_history, purchase_counter, version, created_at, updated_at
              FROM group_ledgers
              WHERE code = $1`

func (r *repository) CreateGroup(ctx context.Context, g *GroupLedger) error {
	doc, err := encodeGroup(g)
	if err != nil {
		return err
	}

	query := `INSERT INTO group_ledgers (code, name, creator_id, members, member_names, purchases, balances, payment_history, purchase_counter, version, created_at, updated_at)
              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1, $10, $11)`
	_, err = r.db.ExecContext(
		ctx,
		query,
		g.Code,
		g.Name,
		g.CreatorID,
		doc.members,
		doc.memberNames,
		doc.purchases,
		doc.balances,
		doc.paymentHistory,
		g.PurchaseCounter,
		g.CreatedAt,
		g.UpdatedAt,
	)
	if err != nil {
		return storeError("inserting group", err)
	}

	g.Version = 1
	return nil
}

func (r *repository) ReadGroup(ctx context.Context, code string) (*GroupLedger, error) {
	return scanGroup(r.db.QueryRowContext(ctx, selectGroup, code))
}

func (r *repository) RunTransaction(ctx context.Context, code string, fn TxFunc) (*GroupLedger, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeError("beginning transaction", err)
	}
	defer tx.Rollback()

	current, err := scanGroup(tx.QueryRowContext(ctx, selectGroup, code))
	if err != nil {
		return nil, err
	}
	readVersion := current.Version

	next, err := fn(current)
	if err != nil {
		return nil, err
	}

	doc, err := encodeGroup(next)
	if err != nil {
		return nil, err
	}

	query := `UPDATE group_ledgers
              SET name = $3, members = $4, member_names = $5, purchases = $6, balances = $7, payment_history = $8, purchase_counter = $9, updated_at = $10, version = version + 1
              WHERE code = $1 AND version = $2`
	result, err := tx.ExecContext(
		ctx,
		query,
		code,
		readVersion,
		next.Name,
		doc.members,
		doc.memberNames,
		doc.purchases,
		doc.balances,
		doc.paymentHistory,
		next.PurchaseCounter,
		next.UpdatedAt,
	)
	if err != nil {
		return nil, storeError("updating group", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return nil, storeError("reading affected rows", err)
	}
	if rows == 0 {
		return nil, ErrConcurrentUpdate
	}

	if err := tx.Commit(); err != nil {
		return nil, storeError("committing transaction", err)
	}

	next.Code = code
	next.Version = readVersion + 1
	return next, nil
}

type groupDocument struct {
	members        []byte
	memberNames    []byte
	purchases      []byte
	balances       []byte
	paymentHistory []byte
}

func encodeGroup(g *GroupLedger) (groupDocument, error) {
	var doc groupDocument
	fields := []struct {
		dst *[]byte
		src any
	}{
		{&doc.members, nonNil(g.Members)},
		{&doc.memberNames, g.MemberNames},
		{&doc.purchases, nonNil(g.Purchases)},
		{&doc.balances, g.Balances},
		{&doc.paymentHistory, nonNil(g.PaymentHistory)},
	}
	for _, f := range fields {
		b, err := json.Marshal(f.src)
		if err != nil {
			return doc, fmt.Errorf("encoding group %s: %w", g.Code, err)
		}
		*f.dst = b
	}
	return doc, nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func scanGroup(row *sql.Row) (*GroupLedger, error) {
	var g GroupLedger
	var doc groupDocument
	err := row.Scan(
		&g.Code,
		&g.Name,
		&g.CreatorID,
		&doc.members,
		&doc.memberNames,
		&doc.purchases,
		&doc.balances,
		&doc.paymentHistory,
		&g.PurchaseCounter,
		&g.Version,
		&g.CreatedAt,
		&g.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrGroupNotFound
		}
		return nil, storeError("querying group", err)
	}

	fields := []struct {
		src []byte
		dst any
	}{
		{doc.members, &g.Members},
		{doc.memberNames, &g.MemberNames},
		{doc.purchases, &g.Purchases},
		{doc.balances, &g.Balances},
		{doc.paymentHistory, &g.PaymentHistory},
	}
	for _, f := range fields {
		if len(f.src) == 0 {
			continue
		}
		if err := json.Unmarshal(f.src, f.dst); err != nil {
			return nil, fmt.Errorf("decoding group %s: %w", g.Code, err)
		}
	}
	if g.Balances == nil {
		g.Balances = Balances{}
	}
	return &g, nil
}

// storeError maps driver failures onto the ledger's error kinds.
func storeError(action string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505": // unique_violation
			return ErrGroupExists
		case "40001", "40P01": // serialization_failure, deadlock_detected
			return ErrConcurrentUpdate
		}
	}
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, action, err)
}
