package tests

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/tolelom/tolmarket/config"
	"github.com/tolelom/tolmarket/consensus"
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/indexer"
	"github.com/tolelom/tolmarket/internal/testutil"
	"github.com/tolelom/tolmarket/network"
	"github.com/tolelom/tolmarket/rpc"
	"github.com/tolelom/tolmarket/storage"
	"github.com/tolelom/tolmarket/vm"
	"github.com/tolelom/tolmarket/wallet"

	_ "github.com/tolelom/tolmarket/vm/modules/economy"
	_ "github.com/tolelom/tolmarket/vm/modules/ledger"
	_ "github.com/tolelom/tolmarket/vm/modules/market"
)

const testChainID = "test-chain"

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// rpcTry sends a JSON-RPC request and returns either the result or the
// server's error, without failing the test.
func rpcTry(t *testing.T, url, method string, params any) (json.RawMessage, *rpcError) {
	t.Helper()
	body := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      1,
	}
	data, _ := json.Marshal(body)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("rpc %s: %v", method, err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(resp.Body)

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *rpcError       `json:"error"`
	}
	if err := json.Unmarshal(raw, &rpcResp); err != nil {
		t.Fatalf("rpc %s decode: %v (raw: %s)", method, err, raw)
	}
	return rpcResp.Result, rpcResp.Error
}

// rpcCall is like rpcTry but fails the test on an RPC-level error.
func rpcCall(t *testing.T, url, method string, params any) json.RawMessage {
	t.Helper()
	result, rpcErr := rpcTry(t, url, method, params)
	if rpcErr != nil {
		t.Fatalf("rpc %s error: [%d] %s", method, rpcErr.Code, rpcErr.Message)
	}
	return result
}

// sendTx signs and submits a transaction via RPC.
func sendTx(t *testing.T, url string, tx *core.Transaction) string {
	t.Helper()
	data, _ := json.Marshal(tx)
	var params json.RawMessage = data
	result := rpcCall(t, url, "sendTx", params)
	var out struct {
		TxID string `json:"tx_id"`
	}
	json.Unmarshal(result, &out)
	return out.TxID
}

// waitUntil polls cond (via RPC) until it holds or the deadline passes.
func waitUntil(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func getBalance(t *testing.T, url, address string) uint64 {
	t.Helper()
	result := rpcCall(t, url, "getBalance", map[string]string{"address": address})
	var out struct {
		Balance uint64 `json:"balance"`
	}
	json.Unmarshal(result, &out)
	return out.Balance
}

func getHolding(t *testing.T, url string, classID uint64, holder string) uint64 {
	t.Helper()
	result := rpcCall(t, url, "getHolding", map[string]any{"class_id": classID, "holder": holder})
	var out struct {
		Amount uint64 `json:"amount"`
	}
	json.Unmarshal(result, &out)
	return out.Amount
}

func getEscrow(t *testing.T, url, address string) uint64 {
	t.Helper()
	result := rpcCall(t, url, "getEscrow", map[string]string{"address": address})
	var out struct {
		Escrow uint64 `json:"escrow"`
	}
	json.Unmarshal(result, &out)
	return out.Escrow
}

// startTestNode starts a full node (P2P + RPC + consensus) and returns its
// RPC URL and a cleanup func. admin doubles as validator and market admin.
func startTestNode(t *testing.T, admin *wallet.Wallet, alloc map[string]uint64) (rpcURL string, cleanup func()) {
	t.Helper()

	db := testutil.NewMemDB()
	stateDB := storage.NewStateDB(db)
	bc := core.NewBlockchain(testutil.NewMemBlockStore())
	if err := bc.Init(); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		NodeID:      "test-node",
		DataDir:     "./data",
		RPCPort:     0,
		P2PPort:     0,
		MaxBlockTxs: 500,
		Validators:  []string{admin.PubKey()},
		Genesis: config.GenesisConfig{
			ChainID:     testChainID,
			Alloc:       alloc,
			MarketAdmin: admin.PubKey(),
		},
	}

	genesis, err := config.CreateGenesisBlock(cfg, stateDB, admin.PrivKey())
	if err != nil {
		t.Fatal(err)
	}
	if err := bc.AddBlock(genesis); err != nil {
		t.Fatal(err)
	}

	emitter := events.NewEmitter()
	idx := indexer.New(db, emitter)
	mempool := core.NewMempool()
	exec := vm.NewExecutor(stateDB, emitter)
	poa := consensus.New(cfg, bc, stateDB, mempool, exec, emitter, admin.PrivKey())

	node := network.NewNode("test-node", ":0", mempool, nil)
	_ = network.NewSyncer(node, bc, poa, exec, stateDB)
	if err := node.Start(); err != nil {
		t.Fatal(err)
	}

	handler := rpc.NewHandler(bc, mempool, stateDB, idx, testChainID)
	rpcServer := rpc.NewServer(":0", handler, "", nil)
	if err := rpcServer.Start(); err != nil {
		t.Fatal(err)
	}
	url := fmt.Sprintf("http://%s/", rpcServer.Addr())

	done := make(chan struct{})
	go poa.Run(300*time.Millisecond, done)

	// Wait for the first produced block so the node is live.
	waitUntil(t, "first block", func() bool {
		result := rpcCall(t, url, "getBlockHeight", map[string]any{})
		var h int64
		json.Unmarshal(result, &h)
		return h >= 1
	})

	return url, func() {
		close(done)
		rpcServer.Stop()
		node.Stop()
	}
}

func TestMarketIntegration(t *testing.T) {
	if os.Getenv("SKIP_INTEGRATION") != "" {
		t.Skip("SKIP_INTEGRATION set")
	}

	admin, _ := wallet.Generate()
	seller, _ := wallet.Generate()
	buyer, _ := wallet.Generate()

	url, cleanup := startTestNode(t, admin, map[string]uint64{
		admin.PubKey():  10_000_000,
		seller.PubKey(): 1_000_000,
		buyer.PubKey():  1_000_000,
	})
	defer cleanup()

	var sellerNonce, buyerNonce, adminNonce uint64

	// ---- issue one singleton and one fungible class ----
	t.Run("1_Issue", func(t *testing.T) {
		tx, _ := seller.IssueClass(testChainID, 1, "ipfs://unique-item", sellerNonce, 0)
		sendTx(t, url, tx)
		sellerNonce++

		tx, _ = seller.IssueClass(testChainID, 10_000, "", sellerNonce, 0)
		sendTx(t, url, tx)
		sellerNonce++

		waitUntil(t, "classes issued", func() bool {
			return getHolding(t, url, 1, seller.PubKey()) == 10_000
		})

		result := rpcCall(t, url, "getClassesByIssuer", map[string]string{"issuer": seller.PubKey()})
		var ids []uint64
		json.Unmarshal(result, &ids)
		if len(ids) != 2 {
			t.Fatalf("issuer classes: got %v want two ids", ids)
		}
	})

	// ---- deposit both into the market ----
	t.Run("2_Deposit", func(t *testing.T) {
		tx, _ := seller.Deposit(testChainID, 0, 1, sellerNonce, 0)
		sendTx(t, url, tx)
		sellerNonce++

		tx, _ = seller.Deposit(testChainID, 1, 10_000, sellerNonce, 0)
		sendTx(t, url, tx)
		sellerNonce++

		waitUntil(t, "deposits mined", func() bool {
			return getHolding(t, url, 1, core.MarketVault) == 10_000
		})

		result := rpcCall(t, url, "getListings", map[string]any{})
		var listings []struct {
			ClassID uint64 `json:"class_id"`
			Seller  string `json:"seller"`
			Price   uint64 `json:"price"`
		}
		json.Unmarshal(result, &listings)
		if len(listings) != 1 || listings[0].Seller != seller.PubKey() {
			t.Fatalf("listings: got %+v", listings)
		}
		if listings[0].Price != 0 {
			t.Fatalf("fresh listing must be unpriced, got %d", listings[0].Price)
		}

		result = rpcCall(t, url, "getListingsBySeller", map[string]string{"seller": seller.PubKey()})
		var ids []uint64
		json.Unmarshal(result, &ids)
		if len(ids) != 1 || ids[0] != 0 {
			t.Fatalf("seller listings index: got %v want [0]", ids)
		}
	})

	// ---- price: seller prices the singleton, admin prices the queue ----
	t.Run("3_Price", func(t *testing.T) {
		// No price set yet: the view refuses rather than reporting zero.
		if _, rpcErr := rpcTry(t, url, "getPrice", map[string]uint64{"class_id": 1}); rpcErr == nil {
			t.Fatal("getPrice before pricing should return an error")
		}

		tx, _ := seller.PriceListings(testChainID, []uint64{0}, []uint64{600_000}, sellerNonce, 0)
		sendTx(t, url, tx)
		sellerNonce++

		tx, _ = admin.PriceQueue(testChainID, 1, 50, adminNonce, 0)
		sendTx(t, url, tx)
		adminNonce++

		waitUntil(t, "prices set", func() bool {
			result, rpcErr := rpcTry(t, url, "getPrice", map[string]uint64{"class_id": 1})
			if rpcErr != nil {
				return false
			}
			var out struct {
				Price uint64 `json:"price"`
			}
			json.Unmarshal(result, &out)
			return out.Price == 50
		})
	})

	// ---- buy: the singleton outright, 4000 units from the queue ----
	t.Run("4_Buy", func(t *testing.T) {
		tx, _ := buyer.BuyListing(testChainID, 0, 600_000, buyerNonce, 0)
		sendTx(t, url, tx)
		buyerNonce++

		tx, _ = buyer.BuyQueue(testChainID, 1, 4_000, 200_000, buyerNonce, 0)
		sendTx(t, url, tx)
		buyerNonce++

		waitUntil(t, "purchases mined", func() bool {
			return getHolding(t, url, 1, buyer.PubKey()) == 4_000
		})

		if got := getHolding(t, url, 0, buyer.PubKey()); got != 1 {
			t.Fatalf("buyer singleton holding: got %d want 1", got)
		}
		if got := getBalance(t, url, buyer.PubKey()); got != 200_000 {
			t.Fatalf("buyer balance: got %d want 200000", got)
		}
		if got := getEscrow(t, url, seller.PubKey()); got != 800_000 {
			t.Fatalf("seller escrow: got %d want 800000", got)
		}

		// Queue view: partially drained head entry.
		result := rpcCall(t, url, "getQueue", map[string]uint64{"class_id": 1})
		var q struct {
			Head    uint64 `json:"head"`
			Tail    uint64 `json:"tail"`
			Offered uint64 `json:"offered"`
		}
		json.Unmarshal(result, &q)
		if q.Head != 0 || q.Offered != 6_000 {
			t.Fatalf("queue after partial fill: %+v", q)
		}

		result = rpcCall(t, url, "getQueuePlaces", map[string]any{"class_id": 1, "seller": seller.PubKey()})
		var places []uint64
		json.Unmarshal(result, &places)
		if len(places) != 1 || places[0] != 0 {
			t.Fatalf("seller places: got %v want [0]", places)
		}

		// The singleton left the board, and the index followed.
		result = rpcCall(t, url, "getListingsBySeller", map[string]string{"seller": seller.PubKey()})
		var ids []uint64
		json.Unmarshal(result, &ids)
		if len(ids) != 0 {
			t.Fatalf("seller listings index after sale: got %v want none", ids)
		}
	})

	// ---- withdraw proceeds ----
	t.Run("5_Withdraw", func(t *testing.T) {
		tx, _ := seller.Withdraw(testChainID, sellerNonce, 0)
		sendTx(t, url, tx)
		sellerNonce++

		waitUntil(t, "withdraw mined", func() bool {
			return getEscrow(t, url, seller.PubKey()) == 0
		})
		if got := getBalance(t, url, seller.PubKey()); got != 1_800_000 {
			t.Fatalf("seller balance after withdraw: got %d want 1800000", got)
		}
	})
}
