package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	cbus "github.com/next-trace/scg-event-bus/contract/bus"
	"github.com/next-trace/scg-event-bus/servicebus"
)

// FundsTransferred is published once money has left AccountID.
type FundsTransferred struct {
	AccountID    int     `json:"account_id"`
	Counterparty int     `json:"counterparty,omitempty"`
	Amount       float64 `json:"amount"`
}

// TransferFunds asks the banking service to move Amount between two accounts.
type TransferFunds struct {
	cbus.CommandBase

	From   int
	To     int
	Amount float64
}

type transferResult struct {
	From   int
	To     int
	Amount float64
}

var errInvalidTransfer = errors.New("invalid transfer")

// transferHandler validates the command and announces the transfer on the bus.
type transferHandler struct {
	bus *servicebus.Bus
}

func (h transferHandler) Handle(ctx context.Context, c TransferFunds) (transferResult, error) {
	if c.Amount <= 0 {
		return transferResult{}, fmt.Errorf("%w: amount must be positive, got %v", errInvalidTransfer, c.Amount)
	}

	if c.From == c.To {
		return transferResult{}, fmt.Errorf("%w: source and target account are both %d", errInvalidTransfer, c.From)
	}

	if err := h.bus.Publish(ctx, FundsTransferred{AccountID: c.From, Counterparty: c.To, Amount: c.Amount}); err != nil {
		return transferResult{}, err
	}

	return transferResult{From: c.From, To: c.To, Amount: c.Amount}, nil
}

// transferLogger is the handler behind the subscribe command.
type transferLogger struct {
	logger zerolog.Logger
}

func (h transferLogger) Handle(_ context.Context, e FundsTransferred) error {
	h.logger.Info().
		Int("account", e.AccountID).
		Int("counterparty", e.Counterparty).
		Float64("amount", e.Amount).
		Msg("funds transferred")

	return nil
}
