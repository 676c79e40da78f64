package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/billbatista/acasinha-ledger/eventlogger"
	"github.com/billbatista/acasinha-ledger/money"
	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
)

const DefaultMaxRetries = 5

// EventLogger receives an event after every committed change.
type EventLogger interface {
	Log(event eventlogger.Event)
}

// GroupCache holds read copies of groups. Set must keep whichever copy has
// the higher Version, so a slow reader can't overwrite a newer commit.
type GroupCache interface {
	Get(ctx context.Context, code string) (*GroupLedger, bool)
	Set(ctx context.Context, g *GroupLedger)
}

// Service runs every ledger change as a read-modify-write transaction
// against the Store, retrying when another writer got there first.
// Member ids are always passed in by the caller, already authenticated.
type Service struct {
	store      Store
	events     EventLogger
	cache      GroupCache
	metrics    *Metrics
	maxRetries uint64
	newBackOff func() backoff.BackOff
	now        func() time.Time
}

type Option func(*Service)

// WithMaxRetries bounds how many times a conflicting transaction is retried.
func WithMaxRetries(n int) Option {
	return func(s *Service) {
		if n >= 0 {
			s.maxRetries = uint64(n)
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

func WithEventLogger(l EventLogger) Option {
	return func(s *Service) {
		s.events = l
	}
}

// WithCache serves Group reads from c and writes every commit through to it.
func WithCache(c GroupCache) Option {
	return func(s *Service) {
		s.cache = c
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithBackOff replaces the wait policy between conflicting attempts.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(s *Service) {
		s.newBackOff = newBackOff
	}
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store:      store,
		maxRetries: DefaultMaxRetries,
		newBackOff: defaultBackOff,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func defaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 10 * time.Millisecond
	b.MaxInterval = 250 * time.Millisecond
	b.MaxElapsedTime = 0
	return b
}

type PurchaseInput struct {
	Purchaser   string
	Cost        decimal.Decimal
	Description string
	Splits      map[string]decimal.Decimal // member -> percentage 0-100
}

func (in PurchaseInput) Validate() error {
	if in.Purchaser == "" {
		return ErrEmptyMember
	}
	if strings.TrimSpace(in.Description) == "" {
		return ErrEmptyDescription
	}
	if err := money.ValidateAmount(in.Cost); err != nil {
		return err
	}
	for member, pct := range in.Splits {
		if member == "" {
			return ErrEmptyMember
		}
		if _, err := money.SplitAmount(in.Cost, pct); err != nil {
			return fmt.Errorf("%w: %s has %s", err, member, pct.String())
		}
	}
	return money.ValidateSplits(in.Splits)
}

func (s *Service) CreateGroup(ctx context.Context, code, name, creatorID, creatorName string) (*GroupLedger, error) {
	start := time.Now()
	g, err := NewGroupLedger(code, name, creatorID, creatorName, s.now())
	if err == nil {
		err = s.store.CreateGroup(ctx, g)
	}
	s.metrics.observe("create_group", err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("creating group: %w", err)
	}
	s.remember(ctx, g)

	s.emit(ctx, EventGroupCreated, g.Code, GroupCreatedEvent{
		GroupCode: g.Code,
		Name:      g.Name,
		CreatorID: g.CreatorID,
		CreatedAt: g.CreatedAt,
	})
	return g, nil
}

// JoinGroup adds a member with a zero balance against everyone. Joining a
// group twice changes nothing.
func (s *Service) JoinGroup(ctx context.Context, code, memberID, name string) (*GroupLedger, error) {
	if memberID == "" {
		return nil, ErrEmptyMember
	}

	var joined bool
	g, err := s.transact(ctx, "join_group", code, func(g *GroupLedger) (*GroupLedger, error) {
		joined = g.addMember(memberID, name)
		if joined {
			g.UpdatedAt = s.now().UTC()
		}
		return g, nil
	})
	if err != nil {
		return nil, fmt.Errorf("joining group %s: %w", code, err)
	}

	if joined {
		s.emit(ctx, EventMemberJoined, code, MemberJoinedEvent{GroupCode: code, MemberID: memberID, Name: name})
	}
	return g, nil
}

// AddPurchase records a purchase and charges every split member their share.
// The purchase gets the next id of the group's counter.
func (s *Service) AddPurchase(ctx context.Context, code string, in PurchaseInput) (Purchase, error) {
	if err := in.Validate(); err != nil {
		return Purchase{}, fmt.Errorf("adding purchase: %w", err)
	}

	g, err := s.transact(ctx, "add_purchase", code, func(g *GroupLedger) (*GroupLedger, error) {
		if !g.IsMember(in.Purchaser) {
			return nil, fmt.Errorf("%w: purchaser %s", ErrNotMember, in.Purchaser)
		}
		for member := range in.Splits {
			if !g.IsMember(member) {
				return nil, fmt.Errorf("%w: split member %s", ErrNotMember, member)
			}
		}

		now := s.now().UTC()
		p := Purchase{
			ID:          g.PurchaseCounter + 1,
			Purchaser:   in.Purchaser,
			Cost:        in.Cost,
			Description: strings.TrimSpace(in.Description),
			Splits:      make(map[string]decimal.Decimal, len(in.Splits)),
			CreatedAt:   now,
		}
		for member, pct := range in.Splits {
			p.Splits[member] = pct
		}

		g.Balances = ApplyPurchase(g.Balances, p)
		g.Purchases = append(g.Purchases, p)
		g.PurchaseCounter = p.ID
		g.UpdatedAt = now
		return g, nil
	})
	if err != nil {
		return Purchase{}, fmt.Errorf("adding purchase to %s: %w", code, err)
	}

	idx, _ := g.findPurchase(g.PurchaseCounter)
	p := g.Purchases[idx]
	s.emit(ctx, EventPurchaseAdded, code, PurchaseAddedEvent{
		GroupCode:   code,
		PurchaseID:  p.ID,
		Purchaser:   p.Purchaser,
		Cost:        p.Cost,
		Description: p.Description,
		Splits:      p.Splits,
	})
	return p, nil
}

// RemovePurchase takes a purchase off the list and reverses its effect on the
// balances. The counter is left alone so ids are never reused.
func (s *Service) RemovePurchase(ctx context.Context, code, actor string, purchaseID int) (Purchase, error) {
	var removed Purchase
	_, err := s.transact(ctx, "remove_purchase", code, func(g *GroupLedger) (*GroupLedger, error) {
		if !g.IsMember(actor) {
			return nil, fmt.Errorf("%w: %s", ErrNotMember, actor)
		}
		idx, ok := g.findPurchase(purchaseID)
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrPurchaseNotFound, purchaseID)
		}

		removed = g.Purchases[idx]
		g.Balances = ReversePurchase(g.Balances, removed)
		for member := range removed.Splits {
			g.Balances = NetZeroCleanup(g.Balances, member, removed.Purchaser)
		}
		g.Purchases = slices.Delete(g.Purchases, idx, idx+1)
		g.UpdatedAt = s.now().UTC()
		return g, nil
	})
	if err != nil {
		return Purchase{}, fmt.Errorf("removing purchase %d from %s: %w", purchaseID, code, err)
	}

	s.emit(ctx, EventPurchaseRemoved, code, PurchaseRemovedEvent{
		GroupCode:  code,
		PurchaseID: removed.ID,
		RemovedBy:  actor,
		Cost:       removed.Cost,
	})
	return removed, nil
}

// SettlePayment records that payer paid receiver amount towards their debt.
// Paying more than is owed is rejected.
func (s *Service) SettlePayment(ctx context.Context, code, payer, receiver string, amount decimal.Decimal) (Payment, error) {
	if payer == "" || receiver == "" {
		return Payment{}, ErrEmptyMember
	}
	if !amount.IsPositive() {
		return Payment{}, fmt.Errorf("settling payment: %w: amount %s is not positive", ErrOverpaymentRejected, amount.String())
	}

	g, err := s.transact(ctx, "settle_payment", code, func(g *GroupLedger) (*GroupLedger, error) {
		for _, m := range []string{payer, receiver} {
			if !g.IsMember(m) {
				return nil, fmt.Errorf("%w: %s", ErrNotMember, m)
			}
		}
		if err := CheckSettlement(g.Balances, payer, receiver, amount); err != nil {
			return nil, err
		}

		now := s.now().UTC()
		g.Balances = ApplySettlement(g.Balances, payer, receiver, amount)
		g.Balances = NetZeroCleanup(g.Balances, payer, receiver)
		g.PaymentHistory = append(g.PaymentHistory, Payment{
			ID:        newPaymentID(),
			Payer:     payer,
			Receiver:  receiver,
			Amount:    amount,
			Timestamp: now,
		})
		g.UpdatedAt = now
		return g, nil
	})
	if err != nil {
		return Payment{}, fmt.Errorf("settling payment in %s: %w", code, err)
	}

	pay := g.PaymentHistory[len(g.PaymentHistory)-1]
	s.emit(ctx, EventPaymentSettled, code, PaymentSettledEvent{
		GroupCode: code,
		PaymentID: pay.ID.String(),
		Payer:     pay.Payer,
		Receiver:  pay.Receiver,
		Amount:    pay.Amount,
		PaidAt:    pay.Timestamp,
	})
	return pay, nil
}

// Rebuild recomputes the balances from the purchases and payments and
// reports whether the stored matrix had drifted from them.
func (s *Service) Rebuild(ctx context.Context, code string) (bool, error) {
	var drifted bool
	_, err := s.transact(ctx, "rebuild", code, func(g *GroupLedger) (*GroupLedger, error) {
		fresh := Recompute(g.Members, g.Purchases, g.PaymentHistory)
		drifted = !fresh.Equal(g.Balances)
		g.Balances = fresh
		if drifted {
			g.UpdatedAt = s.now().UTC()
		}
		return g, nil
	})
	if err != nil {
		return false, fmt.Errorf("rebuilding balances of %s: %w", code, err)
	}

	if drifted {
		slog.Warn("balances drifted from purchases, rebuilt", "group_code", code)
		s.emit(ctx, EventBalancesRebuilt, code, map[string]string{"group_code": code})
	}
	return drifted, nil
}

// Group returns the cached copy when there is one, otherwise the stored group.
func (s *Service) Group(ctx context.Context, code string) (*GroupLedger, error) {
	if s.cache != nil {
		if g, ok := s.cache.Get(ctx, code); ok {
			return g, nil
		}
	}
	g, err := s.store.ReadGroup(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("reading group %s: %w", code, err)
	}
	s.remember(ctx, g)
	return g, nil
}

// MemberGroup is Group for callers that must belong to the group.
func (s *Service) MemberGroup(ctx context.Context, code, viewer string) (*GroupLedger, error) {
	g, err := s.Group(ctx, code)
	if err != nil {
		return nil, err
	}
	if !g.IsMember(viewer) {
		return nil, fmt.Errorf("%w: %s", ErrNotMember, viewer)
	}
	return g, nil
}

// Debts lists what viewer owes the other members of the group.
func (s *Service) Debts(ctx context.Context, code, viewer string) ([]Debt, error) {
	g, err := s.MemberGroup(ctx, code, viewer)
	if err != nil {
		return nil, err
	}
	return g.named(Project(g.Balances, viewer)), nil
}

// Payments lists the settlements of the group, oldest first.
func (s *Service) Payments(ctx context.Context, code, viewer string) ([]Payment, error) {
	g, err := s.MemberGroup(ctx, code, viewer)
	if err != nil {
		return nil, err
	}
	return g.PaymentHistory, nil
}

func (s *Service) transact(ctx context.Context, op, code string, fn TxFunc) (*GroupLedger, error) {
	start := time.Now()
	var committed *GroupLedger

	attempt := func() error {
		g, err := s.store.RunTransaction(ctx, code, fn)
		switch {
		case err == nil:
			committed = g
			return nil
		case isConflict(err):
			s.metrics.conflict(op)
			slog.Debug("ledger transaction conflict, retrying", "operation", op, "group_code", code)
			return err
		default:
			return backoff.Permanent(err)
		}
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(s.newBackOff(), s.maxRetries), ctx)
	err := backoff.Retry(attempt, policy)
	s.metrics.observe(op, err, time.Since(start).Seconds())

	switch {
	case err == nil:
		s.remember(ctx, committed)
		return committed, nil
	case isConflict(err):
		slog.Warn("ledger transaction retries exhausted", "operation", op, "group_code", code, "max_retries", s.maxRetries)
	case isStoreFailure(err):
		slog.Error("ledger store failure", "operation", op, "group_code", code, "error", err)
	}
	return nil, err
}

func (s *Service) remember(ctx context.Context, g *GroupLedger) {
	if s.cache != nil {
		s.cache.Set(ctx, g)
	}
}

func (s *Service) emit(ctx context.Context, eventType, code string, data any) {
	if s.events == nil {
		return
	}
	s.events.Log(eventlogger.NewEvent(
		eventlogger.WithType(eventType),
		eventlogger.WithGroup(code),
		eventlogger.WithData(data),
		eventlogger.WithMetadata(eventlogger.MetadataFromContext(ctx)),
	))
}

func isConflict(err error) bool {
	return errors.Is(err, ErrConcurrentUpdate)
}

func isStoreFailure(err error) bool {
	return errors.Is(err, ErrStoreUnavailable)
}
