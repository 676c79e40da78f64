package ledger

import "context"

// TxFunc receives a private copy of the current group and returns the group
// to commit. It may run more than once, so it must depend only on its input.
type TxFunc func(g *GroupLedger) (*GroupLedger, error)

// Store is the document store holding one GroupLedger per group code.
type Store interface {
	// CreateGroup returns ErrGroupExists when the code is taken.
	CreateGroup(ctx context.Context, g *GroupLedger) error

	// ReadGroup returns ErrGroupNotFound for unknown codes.
	ReadGroup(ctx context.Context, code string) (*GroupLedger, error)

	// RunTransaction makes one read-modify-write attempt. The write only
	// lands if the group is still at the version that was read; otherwise it
	// returns ErrConcurrentUpdate and nothing is written.
	RunTransaction(ctx context.Context, code string, fn TxFunc) (*GroupLedger, error)
}
