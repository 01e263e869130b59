// Package ledger is the unit ledger for asset classes: issuance, minting
// and transfers. A transfer whose recipient is the market vault doubles as
// the deposit notification and is dispatched to the market engine inside
// the same transaction.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/crypto"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/vm"
	"github.com/tolelom/tolmarket/vm/modules/market"
)

func init() {
	vm.Register(core.TxLedgerIssue, handleIssue)
	vm.Register(core.TxLedgerMint, handleMint)
	vm.Register(core.TxLedgerTransfer, handleTransfer)
	vm.Register(core.TxLedgerTransferBatch, handleTransferBatch)
}

func handleIssue(ctx *vm.Context, payload json.RawMessage) error {
	var p core.LedgerIssuePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode ledger_issue payload: %w", err)
	}
	if p.Supply == 0 {
		return errors.New("supply must be > 0")
	}

	kind := core.KindFungible
	if p.Supply == 1 {
		kind = core.KindSingleton
	}

	id, err := ctx.State.NextClassID()
	if err != nil {
		return err
	}
	class := &core.AssetClass{
		ID:       id,
		Issuer:   ctx.Tx.From,
		Kind:     kind,
		Supply:   p.Supply,
		URI:      p.URI,
		IssuedAt: ctx.Block.Header.Timestamp,
	}
	if err := ctx.State.SetClass(class); err != nil {
		return err
	}
	if err := ctx.State.SetHolding(id, ctx.Tx.From, p.Supply); err != nil {
		return err
	}

	ctx.Queue(events.EventClassIssued, map[string]any{
		"class_id": id, "issuer": ctx.Tx.From, "kind": string(kind), "supply": p.Supply,
	})
	return nil
}

func handleMint(ctx *vm.Context, payload json.RawMessage) error {
	var p core.LedgerMintPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode ledger_mint payload: %w", err)
	}
	if p.Amount == 0 {
		return errors.New("mint amount must be > 0")
	}

	class, err := ctx.State.GetClass(p.ClassID)
	if err != nil {
		return fmt.Errorf("class %d not found: %w", p.ClassID, err)
	}
	if class.Issuer != ctx.Tx.From {
		return errors.New("only the class issuer can mint")
	}
	// A singleton stays a singleton; extra units would break every
	// uniqueness assumption downstream.
	if class.Kind != core.KindFungible {
		return fmt.Errorf("class %d is not fungible", p.ClassID)
	}
	if p.Amount > math.MaxUint64-class.Supply {
		return fmt.Errorf("class %d supply overflow", p.ClassID)
	}

	class.Supply += p.Amount
	if err := ctx.State.SetClass(class); err != nil {
		return err
	}
	held, err := ctx.State.GetHolding(p.ClassID, ctx.Tx.From)
	if err != nil {
		return err
	}
	if err := ctx.State.SetHolding(p.ClassID, ctx.Tx.From, held+p.Amount); err != nil {
		return err
	}

	ctx.Queue(events.EventUnitsMinted, map[string]any{
		"class_id": p.ClassID, "issuer": ctx.Tx.From, "amount": p.Amount,
	})
	return nil
}

func handleTransfer(ctx *vm.Context, payload json.RawMessage) error {
	var p core.LedgerTransferPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode ledger_transfer payload: %w", err)
	}
	return transferOne(ctx, p.ClassID, p.To, p.Amount)
}

func handleTransferBatch(ctx *vm.Context, payload json.RawMessage) error {
	var p core.LedgerTransferBatchPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode ledger_transfer_batch payload: %w", err)
	}
	if len(p.ClassIDs) == 0 {
		return errors.New("class_ids required")
	}
	if len(p.ClassIDs) != len(p.Amounts) {
		return errors.New("class_ids and amounts length mismatch")
	}
	for i, classID := range p.ClassIDs {
		if err := transferOne(ctx, classID, p.To, p.Amounts[i]); err != nil {
			return fmt.Errorf("batch item %d: %w", i, err)
		}
	}
	return nil
}

func transferOne(ctx *vm.Context, classID uint64, to string, amount uint64) error {
	if to == "" {
		return errors.New("to address required")
	}
	if amount == 0 {
		return errors.New("transfer amount must be > 0")
	}
	// The vault is a reserved principal, everything else must be a real key.
	if to != core.MarketVault {
		if _, err := crypto.PubKeyFromHex(to); err != nil {
			return fmt.Errorf("invalid to pubkey: %w", err)
		}
	}

	class, err := ctx.State.GetClass(classID)
	if err != nil {
		return fmt.Errorf("class %d not found: %w", classID, err)
	}
	if err := core.MoveUnits(ctx.State, classID, ctx.Tx.From, to, amount); err != nil {
		return err
	}

	ctx.Queue(events.EventUnitsMoved, map[string]any{
		"class_id": classID, "from": ctx.Tx.From, "to": to, "amount": amount,
	})

	// Units arriving in the vault are a market deposit; register them in
	// the same transaction so the whole thing commits or reverts at once.
	if to == core.MarketVault {
		return market.Deposit(ctx, class, ctx.Tx.From, amount)
	}
	return nil
}

