package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventGroupCreated    = "group.created"
	EventMemberJoined    = "member.joined"
	EventPurchaseAdded   = "purchase.added"
	EventPurchaseRemoved = "purchase.removed"
	EventPaymentSettled  = "payment.settled"
	EventBalancesRebuilt = "balances.rebuilt"
)

type GroupCreatedEvent struct {
	GroupCode string
	Name      string
	CreatorID string
	CreatedAt time.Time
}

type MemberJoinedEvent struct {
	GroupCode string
	MemberID  string
	Name      string
}

type PurchaseAddedEvent struct {
	GroupCode   string
	PurchaseID  int
	Purchaser   string
	Cost        decimal.Decimal
	Description string
	Splits      map[string]decimal.Decimal // member -> percentage 0-100
}

type PurchaseRemovedEvent struct {
	GroupCode  string
	PurchaseID int
	RemovedBy  string
	Cost       decimal.Decimal
}

type PaymentSettledEvent struct {
	GroupCode string
	PaymentID string
	Payer     string
	Receiver  string
	Amount    decimal.Decimal
	PaidAt    time.Time
}
