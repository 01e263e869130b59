package consensus_test

import (
	"testing"

	"github.com/tolelom/tolmarket/config"
	"github.com/tolelom/tolmarket/consensus"
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/internal/testutil"
	"github.com/tolelom/tolmarket/vm"
	"github.com/tolelom/tolmarket/wallet"

	// Register VM modules
	_ "github.com/tolelom/tolmarket/vm/modules/economy"
)

const testChainID = "test-chain"

func newTestPoA(t *testing.T, validator *wallet.Wallet, alloc map[string]uint64) (*consensus.PoA, core.State, *core.Mempool) {
	t.Helper()
	state := testutil.NewStateDB()
	bc := core.NewBlockchain(testutil.NewMemBlockStore())
	cfg := &config.Config{
		MaxBlockTxs: 500,
		Validators:  []string{validator.PubKey()},
		Genesis: config.GenesisConfig{
			ChainID: testChainID,
			Alloc:   alloc,
		},
	}
	genesis, err := config.CreateGenesisBlock(cfg, state, validator.PrivKey())
	if err != nil {
		t.Fatal(err)
	}
	if err := bc.AddBlock(genesis); err != nil {
		t.Fatal(err)
	}
	mempool := core.NewMempool()
	emitter := events.NewEmitter()
	exec := vm.NewExecutor(state, emitter)
	return consensus.New(cfg, bc, state, mempool, exec, emitter, validator.PrivKey()), state, mempool
}

// TestProduceBlockDropsFailingTx verifies that a transaction rejected at
// execution time is excluded from the proposal and evicted from the mempool
// rather than stalling block production.
func TestProduceBlockDropsFailingTx(t *testing.T) {
	validator, err := wallet.Generate()
	if err != nil {
		t.Fatal(err)
	}
	alice, err := wallet.Generate()
	if err != nil {
		t.Fatal(err)
	}
	bob, err := wallet.Generate()
	if err != nil {
		t.Fatal(err)
	}

	poa, state, mempool := newTestPoA(t, validator, map[string]uint64{alice.PubKey(): 1_000})

	good, err := alice.Transfer(testChainID, bob.PubKey(), 400, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	// Admission only checks the signature, so this underfunded transfer
	// enters the mempool and fails during execution.
	bad, err := alice.Transfer(testChainID, bob.PubKey(), 1_000_000, 1, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := mempool.Add(good); err != nil {
		t.Fatal(err)
	}
	if err := mempool.Add(bad); err != nil {
		t.Fatal(err)
	}

	block, err := poa.ProduceBlock()
	if err != nil {
		t.Fatalf("produce block: %v", err)
	}
	if len(block.Transactions) != 1 || block.Transactions[0].ID != good.ID {
		t.Fatalf("proposal should hold only the funded transfer, got %d txs", len(block.Transactions))
	}
	if mempool.Size() != 0 {
		t.Fatalf("failing tx still in mempool: size %d", mempool.Size())
	}

	acc, err := state.GetAccount(bob.PubKey())
	if err != nil {
		t.Fatal(err)
	}
	if acc.Balance != 400 {
		t.Fatalf("bob balance: got %d want 400", acc.Balance)
	}

	// The next round proposes cleanly instead of replaying the failure.
	next, err := poa.ProduceBlock()
	if err != nil {
		t.Fatalf("produce next block: %v", err)
	}
	if next.Header.Height != block.Header.Height+1 {
		t.Fatalf("height: got %d want %d", next.Header.Height, block.Header.Height+1)
	}
}

// TestProduceBlockRequiresProposer verifies that a non-validator node
// refuses to propose.
func TestProduceBlockRequiresProposer(t *testing.T) {
	validator, err := wallet.Generate()
	if err != nil {
		t.Fatal(err)
	}
	poa, _, _ := newTestPoA(t, validator, nil)

	stranger, err := wallet.Generate()
	if err != nil {
		t.Fatal(err)
	}
	other := consensus.New(&config.Config{Validators: []string{validator.PubKey()}},
		core.NewBlockchain(testutil.NewMemBlockStore()), nil, nil, nil, nil, stranger.PrivKey())
	if other.IsProposer() {
		t.Fatal("non-validator must not be the proposer")
	}

	if !poa.IsProposer() {
		t.Fatal("sole validator should propose every round")
	}
}
