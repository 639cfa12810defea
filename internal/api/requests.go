package api

import (
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type credentialsRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

func (c *credentialsRequest) Validate() error {
	return validate.Struct(c)
}

type createEventRequest struct {
	Name           string    `json:"name" validate:"required,max=200"`
	LabelA         string    `json:"label_a" validate:"required,max=100"`
	LabelB         string    `json:"label_b" validate:"required,max=100"`
	OddsA          int64     `json:"odds_a" validate:"required,gt=0"`
	OddsB          int64     `json:"odds_b" validate:"required,gt=0"`
	OpenTime       time.Time `json:"open_time" validate:"required"`
	CloseTime      time.Time `json:"close_time" validate:"required"`
	SettlementTime time.Time `json:"settlement_time" validate:"required"`
}

func (c *createEventRequest) Validate() error {
	return validate.Struct(c)
}

type betRequest struct {
	Side   string `json:"side" validate:"required,oneof=A B"`
	Amount int64  `json:"amount" validate:"required,gt=0"`
}

func (b *betRequest) Validate() error {
	return validate.Struct(b)
}

type approveRequest struct {
	Side   string `json:"side" validate:"required,oneof=A B"`
	Amount int64  `json:"amount" validate:"gte=0"`
}

func (a *approveRequest) Validate() error {
	return validate.Struct(a)
}

type settleRequest struct {
	Winner string `json:"winner" validate:"required,oneof=A B"`
}

func (s *settleRequest) Validate() error {
	return validate.Struct(s)
}

type mintRequest struct {
	Username string `json:"username" validate:"required"`
	Amount   int64  `json:"amount" validate:"required,gt=0"`
}

func (m *mintRequest) Validate() error {
	return validate.Struct(m)
}

type treasuryRequest struct {
	Treasury   string `json:"treasury" validate:"required"`
	FeePercent *int64 `json:"fee_percent,omitempty" validate:"omitempty,gte=0,lte=100"`
}

func (t *treasuryRequest) Validate() error {
	return validate.Struct(t)
}
