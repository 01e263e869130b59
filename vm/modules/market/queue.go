package market

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/vm"
)

func handlePriceQueue(ctx *vm.Context, payload json.RawMessage) error {
	var p core.MarketPriceQueuePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode market_price_queue payload: %w", err)
	}

	admin, err := ctx.State.GetMarketAdmin()
	if err != nil {
		return err
	}
	if admin == "" || ctx.Tx.From != admin {
		return ErrNotAdmin
	}

	class, err := ctx.State.GetClass(p.ClassID)
	if err != nil {
		return fmt.Errorf("class %d: %w", p.ClassID, err)
	}
	if class.Kind != core.KindFungible {
		return fmt.Errorf("class %d: %w", p.ClassID, ErrNotFungible)
	}
	if p.Price == 0 {
		return fmt.Errorf("class %d: %w", p.ClassID, ErrInvalidPrice)
	}
	if err := ctx.State.SetPrice(p.ClassID, p.Price); err != nil {
		return err
	}

	ctx.Queue(events.EventMarketPrice, map[string]any{
		"class_id": p.ClassID, "price": p.Price, "setter": ctx.Tx.From,
	})
	return nil
}

// handleBuyQueue fills a purchase from the oldest active queue entries.
// The entry at the head is partially drained in place when the order is
// smaller than its amount, so one purchase can span several sellers while
// deposit order is always respected.
func handleBuyQueue(ctx *vm.Context, payload json.RawMessage) error {
	var p core.MarketBuyQueuePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode market_buy_queue payload: %w", err)
	}
	if p.Amount == 0 {
		return ErrZeroAmount
	}

	class, err := ctx.State.GetClass(p.ClassID)
	if err != nil {
		return fmt.Errorf("class %d: %w", p.ClassID, err)
	}
	if class.Kind != core.KindFungible {
		return fmt.Errorf("class %d: %w", p.ClassID, ErrNotFungible)
	}

	// Conservation ties the vault holding to the sum of active entries,
	// so checking the vault up front rejects unfillable orders before any
	// mutation.
	vaultUnits, err := ctx.State.GetHolding(p.ClassID, core.MarketVault)
	if err != nil {
		return err
	}
	if vaultUnits < p.Amount {
		return fmt.Errorf("class %d: want %d, offered %d: %w", p.ClassID, p.Amount, vaultUnits, ErrInsufficientSupply)
	}

	price, err := ctx.State.GetPrice(p.ClassID)
	if err != nil {
		return err
	}
	if price == 0 {
		return fmt.Errorf("class %d: %w", p.ClassID, ErrPriceNotSet)
	}
	if p.Amount > math.MaxUint64/price {
		return fmt.Errorf("class %d: amount %d at price %d overflows: %w", p.ClassID, p.Amount, price, ErrWrongPayment)
	}
	if p.Payment != p.Amount*price {
		return fmt.Errorf("class %d: paid %d, cost %d: %w", p.ClassID, p.Payment, p.Amount*price, ErrWrongPayment)
	}

	if err := debit(ctx, ctx.Tx.From, p.Payment); err != nil {
		return err
	}

	meta, err := ctx.State.GetQueueMeta(p.ClassID)
	if err != nil {
		return err
	}
	remaining := p.Amount
	for remaining > 0 && meta.Head < meta.Tail {
		entry, err := ctx.State.GetQueueEntry(p.ClassID, meta.Head)
		if err != nil {
			return err
		}
		if entry.Amount == 0 {
			// Tombstone left by a cancellation; skip it now that it
			// reached the head.
			meta.Head++
			continue
		}
		take := entry.Amount
		if take > remaining {
			take = remaining
		}
		entry.Amount -= take
		remaining -= take
		if err := creditEscrow(ctx.State, entry.Seller, take*price); err != nil {
			return err
		}
		if entry.Amount == 0 {
			if err := ctx.State.DeleteQueueEntry(p.ClassID, meta.Head); err != nil {
				return err
			}
			meta.Head++
		} else {
			// Partially filled entries stay at the head for the next
			// purchase.
			if err := ctx.State.SetQueueEntry(p.ClassID, meta.Head, entry); err != nil {
				return err
			}
		}
	}
	if remaining > 0 {
		// Unreachable while conservation holds; the returned error makes
		// the executor revert everything either way.
		return fmt.Errorf("class %d: queue exhausted with %d unfilled: %w", p.ClassID, remaining, ErrInsufficientSupply)
	}
	if err := ctx.State.SetQueueMeta(p.ClassID, meta); err != nil {
		return err
	}
	if err := core.MoveUnits(ctx.State, p.ClassID, core.MarketVault, ctx.Tx.From, p.Amount); err != nil {
		return err
	}

	ctx.Queue(events.EventMarketTrade, map[string]any{
		"class_id": p.ClassID, "buyer": ctx.Tx.From,
		"amount": p.Amount, "payment": p.Payment, "kind": string(core.KindFungible),
	})
	return nil
}

// handleCancelQueue zeroes every active entry the caller owns, without
// advancing the head or compacting, so the relative order of all other
// sellers is untouched. The freed units come back in a single transfer.
func handleCancelQueue(ctx *vm.Context, payload json.RawMessage) error {
	var p core.MarketCancelQueuePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode market_cancel_queue payload: %w", err)
	}

	class, err := ctx.State.GetClass(p.ClassID)
	if err != nil {
		return fmt.Errorf("class %d: %w", p.ClassID, err)
	}
	if class.Kind != core.KindFungible {
		return fmt.Errorf("class %d: %w", p.ClassID, ErrNotFungible)
	}

	meta, err := ctx.State.GetQueueMeta(p.ClassID)
	if err != nil {
		return err
	}
	var refund uint64
	for i := meta.Head; i < meta.Tail; i++ {
		entry, err := ctx.State.GetQueueEntry(p.ClassID, i)
		if err != nil {
			return err
		}
		if entry.Seller != ctx.Tx.From || entry.Amount == 0 {
			continue
		}
		refund += entry.Amount
		if err := ctx.State.DeleteQueueEntry(p.ClassID, i); err != nil {
			return err
		}
	}
	if refund == 0 {
		return fmt.Errorf("class %d: %w", p.ClassID, ErrNotInQueue)
	}
	if err := core.MoveUnits(ctx.State, p.ClassID, core.MarketVault, ctx.Tx.From, refund); err != nil {
		return err
	}

	ctx.Queue(events.EventMarketCancel, map[string]any{
		"class_id": p.ClassID, "seller": ctx.Tx.From, "amount": refund, "kind": string(core.KindFungible),
	})
	return nil
}

// PlacesOf returns the absolute queue indices at which seller currently has
// an active entry. Subtract the queue head to get a human-facing position.
func PlacesOf(st core.State, classID uint64, seller string) ([]uint64, error) {
	meta, err := st.GetQueueMeta(classID)
	if err != nil {
		return nil, err
	}
	var places []uint64
	for i := meta.Head; i < meta.Tail; i++ {
		entry, err := st.GetQueueEntry(classID, i)
		if err != nil {
			return nil, err
		}
		if entry.Seller == seller && entry.Amount > 0 {
			places = append(places, i)
		}
	}
	return places, nil
}
