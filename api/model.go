package api

import (
	"errors"
	"regexp"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/shopspring/decimal"
)

var groupCodePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

type createGroupRequest struct {
	Code string `json:"code"`
	Name string `json:"name"`
}

func (r createGroupRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Code, validation.Required, validation.Length(3, 32), validation.Match(groupCodePattern)),
		validation.Field(&r.Name, validation.Required, validation.Length(1, 120)),
	)
}

type joinGroupRequest struct {
	Name string `json:"name"`
}

func (r joinGroupRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Name, validation.Length(0, 120)),
	)
}

type purchaseRequest struct {
	Cost        decimal.Decimal            `json:"cost"`
	Description string                     `json:"description"`
	Splits      map[string]decimal.Decimal `json:"splits"`
}

func (r purchaseRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Cost, validation.By(positive)),
		validation.Field(&r.Description, validation.Required, validation.Length(1, 500)),
		validation.Field(&r.Splits, validation.Required),
	)
}

type settleRequest struct {
	Receiver string          `json:"receiver"`
	Amount   decimal.Decimal `json:"amount"`
}

func (r settleRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Receiver, validation.Required),
		validation.Field(&r.Amount, validation.By(positive)),
	)
}

func positive(value interface{}) error {
	d, ok := value.(decimal.Decimal)
	if !ok || !d.IsPositive() {
		return errors.New("must be a positive amount")
	}
	return nil
}

type debtResponse struct {
	Member  string          `json:"member"`
	Name    string          `json:"name"`
	Amount  decimal.Decimal `json:"amount"`
	Display string          `json:"display"`
}
