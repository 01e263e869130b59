package storage_test

import (
	"testing"

	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/internal/testutil"
)

// TestSnapshotRevert verifies that reverting a snapshot undoes writes and
// deletes made after the snapshot was taken.
func TestSnapshotRevert(t *testing.T) {
	state := testutil.NewStateDB()

	if err := state.SetAccount(&core.Account{Address: "alice", Balance: 100}); err != nil {
		t.Fatal(err)
	}
	if err := state.SetPrice(7, 300); err != nil {
		t.Fatal(err)
	}

	snap, err := state.Snapshot()
	if err != nil {
		t.Fatal(err)
	}

	if err := state.SetAccount(&core.Account{Address: "alice", Balance: 1}); err != nil {
		t.Fatal(err)
	}
	if err := state.DeletePrice(7); err != nil {
		t.Fatal(err)
	}
	if err := state.SetEscrow("bob", 42); err != nil {
		t.Fatal(err)
	}

	if err := state.RevertToSnapshot(snap); err != nil {
		t.Fatal(err)
	}

	acc, err := state.GetAccount("alice")
	if err != nil {
		t.Fatal(err)
	}
	if acc.Balance != 100 {
		t.Errorf("balance after revert: got %d want 100", acc.Balance)
	}
	price, err := state.GetPrice(7)
	if err != nil {
		t.Fatal(err)
	}
	if price != 300 {
		t.Errorf("price after revert: got %d want 300", price)
	}
	escrow, err := state.GetEscrow("bob")
	if err != nil {
		t.Fatal(err)
	}
	if escrow != 0 {
		t.Errorf("escrow after revert: got %d want 0", escrow)
	}
}

// TestQueueEntryTombstone verifies that a deleted queue entry reads back as
// the zero entry rather than an error.
func TestQueueEntryTombstone(t *testing.T) {
	state := testutil.NewStateDB()

	if err := state.SetQueueEntry(3, 0, &core.QueueEntry{Seller: "s", Amount: 10}); err != nil {
		t.Fatal(err)
	}
	if err := state.DeleteQueueEntry(3, 0); err != nil {
		t.Fatal(err)
	}
	entry, err := state.GetQueueEntry(3, 0)
	if err != nil {
		t.Fatalf("deleted entry should not error: %v", err)
	}
	if entry.Amount != 0 || entry.Seller != "" {
		t.Errorf("deleted entry: got {%q %d} want zero entry", entry.Seller, entry.Amount)
	}
	// Never-written entries behave the same way.
	entry, err = state.GetQueueEntry(3, 99)
	if err != nil {
		t.Fatalf("missing entry should not error: %v", err)
	}
	if entry.Amount != 0 {
		t.Errorf("missing entry amount: got %d want 0", entry.Amount)
	}
}

// TestZeroValuesAreDeleted verifies missing and zero are indistinguishable
// for holdings, prices and escrow.
func TestZeroValuesAreDeleted(t *testing.T) {
	state := testutil.NewStateDB()

	if err := state.SetHolding(1, "alice", 50); err != nil {
		t.Fatal(err)
	}
	if err := state.SetHolding(1, "alice", 0); err != nil {
		t.Fatal(err)
	}
	root := state.ComputeRoot()

	fresh := testutil.NewStateDB()
	if root != fresh.ComputeRoot() {
		t.Error("state with only zeroed values should hash like an empty state")
	}

	held, err := state.GetHolding(1, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if held != 0 {
		t.Errorf("zeroed holding: got %d want 0", held)
	}
}

// TestComputeRootDeterministic verifies the root reflects content, not
// write order, and survives a commit unchanged.
func TestComputeRootDeterministic(t *testing.T) {
	a := testutil.NewStateDB()
	b := testutil.NewStateDB()

	_ = a.SetHolding(1, "x", 10)
	_ = a.SetPrice(1, 5)
	_ = a.SetEscrow("x", 99)

	_ = b.SetEscrow("x", 99)
	_ = b.SetPrice(1, 5)
	_ = b.SetHolding(1, "x", 10)

	if a.ComputeRoot() != b.ComputeRoot() {
		t.Error("same content in different write order must hash equal")
	}

	root := a.ComputeRoot()
	if err := a.Commit(); err != nil {
		t.Fatal(err)
	}
	if a.ComputeRoot() != root {
		t.Error("root must not change across Commit")
	}
}

// TestListingBoardDefaults verifies a fresh board is usable without writes.
func TestListingBoardDefaults(t *testing.T) {
	state := testutil.NewStateDB()
	board, err := state.GetListingBoard()
	if err != nil {
		t.Fatal(err)
	}
	if board.Owners == nil {
		t.Fatal("Owners map must be non-nil on a fresh board")
	}
	board.IDs = append(board.IDs, 4)
	board.Owners[4] = "seller"
	if err := state.SetListingBoard(board); err != nil {
		t.Fatal(err)
	}

	got, err := state.GetListingBoard()
	if err != nil {
		t.Fatal(err)
	}
	if len(got.IDs) != 1 || got.Owners[4] != "seller" {
		t.Errorf("board roundtrip: ids=%v owners=%v", got.IDs, got.Owners)
	}
}

// TestNextClassID verifies sequential allocation across commits.
func TestNextClassID(t *testing.T) {
	state := testutil.NewStateDB()
	for want := uint64(0); want < 3; want++ {
		id, err := state.NextClassID()
		if err != nil {
			t.Fatal(err)
		}
		if id != want {
			t.Errorf("class id: got %d want %d", id, want)
		}
	}
	if err := state.Commit(); err != nil {
		t.Fatal(err)
	}
	id, err := state.NextClassID()
	if err != nil {
		t.Fatal(err)
	}
	if id != 3 {
		t.Errorf("class id after commit: got %d want 3", id)
	}
}
