package market

import (
	"fmt"
	"math"

	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/vm"
)

// Deposit registers units that just arrived in the market vault. The ledger
// module calls it synchronously on every transfer to core.MarketVault, so a
// deposit and its registration commit (or roll back) as one transaction.
//
// Singletons are put on the listing board; fungible units join the tail of
// the per-class sale queue.
func Deposit(ctx *vm.Context, class *core.AssetClass, from string, amount uint64) error {
	switch class.Kind {
	case core.KindSingleton:
		return depositSingleton(ctx, class.ID, from, amount)
	case core.KindFungible:
		return depositFungible(ctx, class.ID, from, amount)
	default:
		return fmt.Errorf("class %d has unknown kind %q", class.ID, class.Kind)
	}
}

func depositSingleton(ctx *vm.Context, classID uint64, from string, amount uint64) error {
	if amount != 1 {
		return fmt.Errorf("singleton deposit must be exactly 1 unit, got %d", amount)
	}
	board, err := ctx.State.GetListingBoard()
	if err != nil {
		return err
	}
	if _, listed := board.Owners[classID]; listed {
		return fmt.Errorf("class %d: %w", classID, ErrAlreadyListed)
	}
	board.IDs = append(board.IDs, classID)
	board.Owners[classID] = from
	if err := ctx.State.SetListingBoard(board); err != nil {
		return err
	}

	ctx.Queue(events.EventMarketDeposit, map[string]any{
		"class_id": classID, "seller": from, "amount": uint64(1), "kind": string(core.KindSingleton),
	})
	return nil
}

func depositFungible(ctx *vm.Context, classID uint64, from string, amount uint64) error {
	if amount == 0 {
		return ErrZeroAmount
	}
	meta, err := ctx.State.GetQueueMeta(classID)
	if err != nil {
		return err
	}
	// Tail indices are never reused, so the queue dies when the index
	// space runs out. Fail before touching anything.
	if meta.Tail == math.MaxUint64 {
		return fmt.Errorf("class %d: %w", classID, ErrQueueOverflow)
	}
	entry := &core.QueueEntry{Seller: from, Amount: amount}
	if err := ctx.State.SetQueueEntry(classID, meta.Tail, entry); err != nil {
		return err
	}
	index := meta.Tail
	meta.Tail++
	if err := ctx.State.SetQueueMeta(classID, meta); err != nil {
		return err
	}

	ctx.Queue(events.EventMarketDeposit, map[string]any{
		"class_id": classID, "seller": from, "amount": amount,
		"kind": string(core.KindFungible), "index": index,
	})
	return nil
}
