package market

import (
	"encoding/json"
	"fmt"

	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/vm"
)

// swapRemove deletes classID from the board in O(1) by overwriting its slot
// with the last slot. Listing order is not stable across removals.
func swapRemove(board *core.ListingBoard, classID uint64) {
	for i, id := range board.IDs {
		if id == classID {
			last := len(board.IDs) - 1
			board.IDs[i] = board.IDs[last]
			board.IDs = board.IDs[:last]
			break
		}
	}
	delete(board.Owners, classID)
}

func handlePriceListing(ctx *vm.Context, payload json.RawMessage) error {
	var p core.MarketPriceListingPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode market_price_listing payload: %w", err)
	}
	if len(p.ClassIDs) == 0 {
		return fmt.Errorf("class_ids required")
	}
	if len(p.ClassIDs) != len(p.Prices) {
		return ErrLengthMismatch
	}

	board, err := ctx.State.GetListingBoard()
	if err != nil {
		return err
	}
	for i, classID := range p.ClassIDs {
		class, err := ctx.State.GetClass(classID)
		if err != nil {
			return fmt.Errorf("class %d: %w", classID, err)
		}
		if class.Kind != core.KindSingleton {
			return fmt.Errorf("class %d: %w", classID, ErrNotSingleton)
		}
		owner, listed := board.Owners[classID]
		if !listed {
			return fmt.Errorf("class %d: %w", classID, ErrNotListed)
		}
		if owner != ctx.Tx.From {
			return fmt.Errorf("class %d: %w", classID, ErrNotOwner)
		}
		if p.Prices[i] == 0 {
			return fmt.Errorf("class %d: %w", classID, ErrInvalidPrice)
		}
		if err := ctx.State.SetPrice(classID, p.Prices[i]); err != nil {
			return err
		}
		ctx.Queue(events.EventMarketPrice, map[string]any{
			"class_id": classID, "price": p.Prices[i], "setter": ctx.Tx.From,
		})
	}
	return nil
}

func handleBuyListing(ctx *vm.Context, payload json.RawMessage) error {
	var p core.MarketBuyListingPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode market_buy_listing payload: %w", err)
	}

	class, err := ctx.State.GetClass(p.ClassID)
	if err != nil {
		return fmt.Errorf("class %d: %w", p.ClassID, err)
	}
	if class.Kind != core.KindSingleton {
		return fmt.Errorf("class %d: %w", p.ClassID, ErrNotSingleton)
	}

	board, err := ctx.State.GetListingBoard()
	if err != nil {
		return err
	}
	seller, listed := board.Owners[p.ClassID]
	if !listed {
		return fmt.Errorf("class %d: %w", p.ClassID, ErrNotListed)
	}

	price, err := ctx.State.GetPrice(p.ClassID)
	if err != nil {
		return err
	}
	if price == 0 {
		return fmt.Errorf("class %d: %w", p.ClassID, ErrPriceNotSet)
	}
	if p.Payment != price {
		return fmt.Errorf("class %d: paid %d, price %d: %w", p.ClassID, p.Payment, price, ErrWrongPayment)
	}

	// All preconditions hold; mutate.
	if err := debit(ctx, ctx.Tx.From, p.Payment); err != nil {
		return err
	}
	if err := creditEscrow(ctx.State, seller, price); err != nil {
		return err
	}
	swapRemove(board, p.ClassID)
	if err := ctx.State.SetListingBoard(board); err != nil {
		return err
	}
	// A future relisting must be re-priced by its new seller.
	if err := ctx.State.DeletePrice(p.ClassID); err != nil {
		return err
	}
	if err := core.MoveUnits(ctx.State, p.ClassID, core.MarketVault, ctx.Tx.From, 1); err != nil {
		return err
	}

	ctx.Queue(events.EventMarketTrade, map[string]any{
		"class_id": p.ClassID, "buyer": ctx.Tx.From, "seller": seller,
		"amount": uint64(1), "payment": p.Payment, "kind": string(core.KindSingleton),
	})
	return nil
}

func handleCancelListing(ctx *vm.Context, payload json.RawMessage) error {
	var p core.MarketCancelListingPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return fmt.Errorf("decode market_cancel_listing payload: %w", err)
	}
	if len(p.ClassIDs) == 0 {
		return fmt.Errorf("class_ids required")
	}

	board, err := ctx.State.GetListingBoard()
	if err != nil {
		return err
	}
	for _, classID := range p.ClassIDs {
		class, err := ctx.State.GetClass(classID)
		if err != nil {
			return fmt.Errorf("class %d: %w", classID, err)
		}
		if class.Kind != core.KindSingleton {
			return fmt.Errorf("class %d: %w", classID, ErrNotSingleton)
		}
		owner, listed := board.Owners[classID]
		if !listed {
			return fmt.Errorf("class %d: %w", classID, ErrNotListed)
		}
		if owner != ctx.Tx.From {
			return fmt.Errorf("class %d: %w", classID, ErrNotOwner)
		}
		swapRemove(board, classID)
		if err := ctx.State.DeletePrice(classID); err != nil {
			return err
		}
		if err := core.MoveUnits(ctx.State, classID, core.MarketVault, ctx.Tx.From, 1); err != nil {
			return err
		}
		ctx.Queue(events.EventMarketCancel, map[string]any{
			"class_id": classID, "seller": ctx.Tx.From, "amount": uint64(1), "kind": string(core.KindSingleton),
		})
	}
	return ctx.State.SetListingBoard(board)
}
