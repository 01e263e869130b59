package vm

import (
	"fmt"
	"math"

	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/events"
)

// Context is passed to every Handler and provides access to the chain state,
// the current block, and the triggering transaction.
// Tx.From is the authenticated principal for all authorization checks:
// the executor only dispatches transactions whose signature verified.
type Context struct {
	State core.State
	Block *core.Block
	Tx    *core.Transaction

	queued []events.Event
}

// Queue records an event for delivery after the transaction succeeds.
// Handlers must not publish events directly: a queued event is discarded
// together with the state writes when the transaction reverts, so
// subscribers never observe effects that did not commit.
func (c *Context) Queue(typ events.EventType, data map[string]any) {
	c.queued = append(c.queued, events.Event{
		Type:        typ,
		TxID:        c.Tx.ID,
		BlockHeight: c.Block.Header.Height,
		Data:        data,
	})
}

// Executor applies transactions to the state using the global Handler registry.
type Executor struct {
	state   core.State
	emitter *events.Emitter
}

// NewExecutor creates an Executor with the given state and event emitter.
func NewExecutor(state core.State, emitter *events.Emitter) *Executor {
	return &Executor{state: state, emitter: emitter}
}

// ExecuteBlock applies all transactions in block sequentially. A failing
// transaction rejects the whole block: the writes of every earlier
// transaction in the block are rolled back and no events are delivered.
// EventBlockCommit is emitted by the caller (consensus) after signing so
// the event carries the correct block hash.
func (e *Executor) ExecuteBlock(block *core.Block) error {
	snapID, err := e.state.Snapshot()
	if err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}

	var queued []events.Event
	for _, tx := range block.Transactions {
		evs, err := e.executeTx(block, tx)
		if err != nil {
			if revertErr := e.state.RevertToSnapshot(snapID); revertErr != nil {
				return fmt.Errorf("revert block after tx failure: %w (revert: %v)", err, revertErr)
			}
			return fmt.Errorf("tx %s failed: %w", tx.ID, err)
		}
		queued = append(queued, evs...)
	}

	e.deliver(queued)
	return nil
}

// ExecuteTx verifies and executes a single transaction with snapshot/rollback.
// Either every effect of the transaction commits, or none do; events queued
// by the handler are delivered only on success.
func (e *Executor) ExecuteTx(block *core.Block, tx *core.Transaction) error {
	evs, err := e.executeTx(block, tx)
	if err != nil {
		return err
	}
	e.deliver(evs)
	return nil
}

func (e *Executor) executeTx(block *core.Block, tx *core.Transaction) ([]events.Event, error) {
	if err := tx.Verify(); err != nil {
		return nil, fmt.Errorf("signature: %w", err)
	}

	snapID, err := e.state.Snapshot()
	if err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}

	ctx := &Context{State: e.state, Block: block, Tx: tx}
	if err := e.applyTx(ctx); err != nil {
		if revertErr := e.state.RevertToSnapshot(snapID); revertErr != nil {
			return nil, fmt.Errorf("revert snapshot after tx failure: %w (revert: %v)", err, revertErr)
		}
		return nil, err
	}

	ctx.queued = append(ctx.queued, events.Event{
		Type:        events.EventTxExecuted,
		TxID:        tx.ID,
		BlockHeight: block.Header.Height,
		Data:        map[string]any{"type": string(tx.Type), "from": tx.From},
	})
	return ctx.queued, nil
}

func (e *Executor) deliver(evs []events.Event) {
	if e.emitter == nil {
		return
	}
	for _, ev := range evs {
		e.emitter.Emit(ev)
	}
}

// applyTx deducts the fee, increments the nonce, then dispatches to the handler.
func (e *Executor) applyTx(ctx *Context) error {
	tx := ctx.Tx
	acc, err := e.state.GetAccount(tx.From)
	if err != nil {
		return fmt.Errorf("get account: %w", err)
	}
	if acc.Nonce != tx.Nonce {
		return fmt.Errorf("invalid nonce: expected %d got %d", acc.Nonce, tx.Nonce)
	}
	if acc.Balance < tx.Fee {
		return fmt.Errorf("insufficient balance for fee: have %d need %d", acc.Balance, tx.Fee)
	}
	if acc.Nonce == math.MaxUint64 {
		return fmt.Errorf("nonce overflow for account %s", tx.From)
	}
	acc.Balance -= tx.Fee
	acc.Nonce++
	if err := e.state.SetAccount(acc); err != nil {
		return err
	}

	return globalRegistry.Execute(tx.Type, ctx, tx.Payload)
}
