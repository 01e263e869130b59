package ledger_test

import (
	"testing"

	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/internal/testutil"
	"github.com/tolelom/tolmarket/vm"
	"github.com/tolelom/tolmarket/wallet"

	_ "github.com/tolelom/tolmarket/vm/modules/ledger"
)

const testChainID = "test-chain"

func setup(t *testing.T) (core.State, *vm.Executor, *core.Block) {
	t.Helper()
	state := testutil.NewStateDB()
	exec := vm.NewExecutor(state, events.NewEmitter())
	block := core.NewBlock(1, "0000", "proposer", nil)
	return state, exec, block
}

func fundedWallet(t *testing.T, state core.State) *wallet.Wallet {
	t.Helper()
	w, err := wallet.Generate()
	if err != nil {
		t.Fatal(err)
	}
	if err := state.SetAccount(&core.Account{Address: w.PubKey(), Balance: 1_000}); err != nil {
		t.Fatal(err)
	}
	return w
}

// TestIssueClassKinds verifies that supply determines the class kind and
// that the issuer receives the full supply.
func TestIssueClassKinds(t *testing.T) {
	state, exec, block := setup(t)
	issuer := fundedWallet(t, state)

	tx, err := issuer.IssueClass(testChainID, 1, "ipfs://sword", 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := exec.ExecuteTx(block, tx); err != nil {
		t.Fatalf("issue singleton: %v", err)
	}

	tx, err = issuer.IssueClass(testChainID, 1_000_000, "", 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := exec.ExecuteTx(block, tx); err != nil {
		t.Fatalf("issue fungible: %v", err)
	}

	single, err := state.GetClass(0)
	if err != nil {
		t.Fatal(err)
	}
	if single.Kind != core.KindSingleton {
		t.Errorf("class 0 kind: got %s want singleton", single.Kind)
	}
	if single.URI != "ipfs://sword" {
		t.Errorf("class 0 uri: got %q want ipfs://sword", single.URI)
	}

	fungible, err := state.GetClass(1)
	if err != nil {
		t.Fatal(err)
	}
	if fungible.Kind != core.KindFungible {
		t.Errorf("class 1 kind: got %s want fungible", fungible.Kind)
	}
	if held, _ := state.GetHolding(1, issuer.PubKey()); held != 1_000_000 {
		t.Errorf("issuer holding: got %d want 1000000", held)
	}
}

// TestMintRules verifies that only the issuer can mint, and only into
// fungible classes.
func TestMintRules(t *testing.T) {
	state, exec, block := setup(t)
	issuer := fundedWallet(t, state)
	other := fundedWallet(t, state)

	tx, _ := issuer.IssueClass(testChainID, 1, "", 0, 0)
	if err := exec.ExecuteTx(block, tx); err != nil {
		t.Fatal(err)
	}
	tx, _ = issuer.IssueClass(testChainID, 500, "", 1, 0)
	if err := exec.ExecuteTx(block, tx); err != nil {
		t.Fatal(err)
	}

	// Singleton mint must fail.
	mintTx, _ := issuer.NewTx(testChainID, core.TxLedgerMint, 2, 0, core.LedgerMintPayload{ClassID: 0, Amount: 1})
	if err := exec.ExecuteTx(block, mintTx); err == nil {
		t.Error("minting into a singleton should fail")
	}
	// Non-issuer mint must fail.
	mintTx, _ = other.NewTx(testChainID, core.TxLedgerMint, 0, 0, core.LedgerMintPayload{ClassID: 1, Amount: 100})
	if err := exec.ExecuteTx(block, mintTx); err == nil {
		t.Error("minting by a non-issuer should fail")
	}
	// Issuer mint into the fungible class succeeds.
	mintTx, _ = issuer.NewTx(testChainID, core.TxLedgerMint, 2, 0, core.LedgerMintPayload{ClassID: 1, Amount: 100})
	if err := exec.ExecuteTx(block, mintTx); err != nil {
		t.Fatalf("mint: %v", err)
	}
	class, _ := state.GetClass(1)
	if class.Supply != 600 {
		t.Errorf("supply after mint: got %d want 600", class.Supply)
	}
	if held, _ := state.GetHolding(1, issuer.PubKey()); held != 600 {
		t.Errorf("holding after mint: got %d want 600", held)
	}
}

// TestTransferUnits moves units between principals with validation.
func TestTransferUnits(t *testing.T) {
	state, exec, block := setup(t)
	sender := fundedWallet(t, state)
	receiver := fundedWallet(t, state)

	tx, _ := sender.IssueClass(testChainID, 100, "", 0, 0)
	if err := exec.ExecuteTx(block, tx); err != nil {
		t.Fatal(err)
	}

	tx, _ = sender.TransferUnits(testChainID, 0, receiver.PubKey(), 40, 1, 0)
	if err := exec.ExecuteTx(block, tx); err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if held, _ := state.GetHolding(0, sender.PubKey()); held != 60 {
		t.Errorf("sender holding: got %d want 60", held)
	}
	if held, _ := state.GetHolding(0, receiver.PubKey()); held != 40 {
		t.Errorf("receiver holding: got %d want 40", held)
	}

	// Over-transfer must fail and leave holdings alone.
	tx, _ = sender.TransferUnits(testChainID, 0, receiver.PubKey(), 100, 2, 0)
	if err := exec.ExecuteTx(block, tx); err == nil {
		t.Error("over-transfer should fail")
	}
	if held, _ := state.GetHolding(0, sender.PubKey()); held != 60 {
		t.Errorf("sender holding after failed transfer: got %d want 60", held)
	}

	// A garbage recipient is rejected (the vault is the only non-key principal).
	tx, _ = sender.NewTx(testChainID, core.TxLedgerTransfer, 2, 0, core.LedgerTransferPayload{
		ClassID: 0, To: "not-a-pubkey", Amount: 1,
	})
	if err := exec.ExecuteTx(block, tx); err == nil {
		t.Error("transfer to invalid pubkey should fail")
	}
}

// TestTransferBatchAtomicity verifies that one bad item reverts the batch.
func TestTransferBatchAtomicity(t *testing.T) {
	state, exec, block := setup(t)
	sender := fundedWallet(t, state)
	receiver := fundedWallet(t, state)

	tx, _ := sender.IssueClass(testChainID, 100, "", 0, 0)
	if err := exec.ExecuteTx(block, tx); err != nil {
		t.Fatal(err)
	}
	tx, _ = sender.IssueClass(testChainID, 50, "", 1, 0)
	if err := exec.ExecuteTx(block, tx); err != nil {
		t.Fatal(err)
	}

	// Second item asks for more than the sender holds.
	tx, _ = sender.NewTx(testChainID, core.TxLedgerTransferBatch, 2, 0, core.LedgerTransferBatchPayload{
		ClassIDs: []uint64{0, 1},
		To:       receiver.PubKey(),
		Amounts:  []uint64{10, 80},
	})
	if err := exec.ExecuteTx(block, tx); err == nil {
		t.Fatal("batch with failing item should fail")
	}
	// The first item's transfer must have been rolled back too.
	if held, _ := state.GetHolding(0, receiver.PubKey()); held != 0 {
		t.Errorf("receiver holding after reverted batch: got %d want 0", held)
	}
	if held, _ := state.GetHolding(0, sender.PubKey()); held != 100 {
		t.Errorf("sender holding after reverted batch: got %d want 100", held)
	}

	// A valid batch moves both classes at once.
	tx, _ = sender.NewTx(testChainID, core.TxLedgerTransferBatch, 2, 0, core.LedgerTransferBatchPayload{
		ClassIDs: []uint64{0, 1},
		To:       receiver.PubKey(),
		Amounts:  []uint64{10, 20},
	})
	if err := exec.ExecuteTx(block, tx); err != nil {
		t.Fatalf("valid batch: %v", err)
	}
	if held, _ := state.GetHolding(1, receiver.PubKey()); held != 20 {
		t.Errorf("receiver class-1 holding: got %d want 20", held)
	}
}

// TestDepositIsAtomicWithTransfer verifies that transferring units to the
// vault registers the market deposit in the same transaction.
func TestDepositIsAtomicWithTransfer(t *testing.T) {
	state, exec, block := setup(t)
	seller := fundedWallet(t, state)

	tx, _ := seller.IssueClass(testChainID, 1, "", 0, 0)
	if err := exec.ExecuteTx(block, tx); err != nil {
		t.Fatal(err)
	}

	tx, _ = seller.TransferUnits(testChainID, 0, core.MarketVault, 1, 1, 0)
	if err := exec.ExecuteTx(block, tx); err != nil {
		t.Fatalf("deposit transfer: %v", err)
	}

	if held, _ := state.GetHolding(0, core.MarketVault); held != 1 {
		t.Errorf("vault holding: got %d want 1", held)
	}
	board, err := state.GetListingBoard()
	if err != nil {
		t.Fatal(err)
	}
	if board.Owners[0] != seller.PubKey() {
		t.Errorf("listing owner: got %q want seller", board.Owners[0])
	}
}
