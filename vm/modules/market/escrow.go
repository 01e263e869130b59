package market

import (
	"encoding/json"
	"fmt"

	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/vm"
)

// debit takes payment out of the buyer's native balance. The matching
// credits land in seller escrow, never directly in seller accounts.
func debit(ctx *vm.Context, address string, amount uint64) error {
	acc, err := ctx.State.GetAccount(address)
	if err != nil {
		return err
	}
	if acc.Balance < amount {
		return fmt.Errorf("insufficient balance: have %d, need %d", acc.Balance, amount)
	}
	acc.Balance -= amount
	return ctx.State.SetAccount(acc)
}

func creditEscrow(st core.State, address string, amount uint64) error {
	bal, err := st.GetEscrow(address)
	if err != nil {
		return err
	}
	return st.SetEscrow(address, bal+amount)
}

// handleWithdraw pays out the caller's accumulated escrow. Pull payment
// only: a failing seller account can never block someone else's purchase.
func handleWithdraw(ctx *vm.Context, payload json.RawMessage) error {
	var p core.MarketWithdrawPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode market_withdraw payload: %w", err)
	}

	bal, err := ctx.State.GetEscrow(ctx.Tx.From)
	if err != nil {
		return err
	}
	if bal == 0 {
		return ErrNothingToWithdraw
	}
	if err := ctx.State.SetEscrow(ctx.Tx.From, 0); err != nil {
		return err
	}
	acc, err := ctx.State.GetAccount(ctx.Tx.From)
	if err != nil {
		return err
	}
	acc.Balance += bal
	if err := ctx.State.SetAccount(acc); err != nil {
		return err
	}

	ctx.Queue(events.EventMarketPayout, map[string]any{
		"seller": ctx.Tx.From, "amount": bal,
	})
	return nil
}
