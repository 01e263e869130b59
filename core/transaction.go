package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tolelom/tolmarket/crypto"
)

// TxType identifies the kind of operation a transaction performs.
type TxType string

const (
	TxTransfer TxType = "transfer"

	// Unit ledger
	TxLedgerIssue         TxType = "ledger_issue"
	TxLedgerMint          TxType = "ledger_mint"
	TxLedgerTransfer      TxType = "ledger_transfer"
	TxLedgerTransferBatch TxType = "ledger_transfer_batch"

	// Market
	TxMarketPriceListing TxType = "market_price_listing"
	TxMarketPriceQueue   TxType = "market_price_queue"
	TxMarketBuyListing   TxType = "market_buy_listing"
	TxMarketBuyQueue     TxType = "market_buy_queue"
	TxMarketCancelList   TxType = "market_cancel_listing"
	TxMarketCancelQueue  TxType = "market_cancel_queue"
	TxMarketWithdraw     TxType = "market_withdraw"
)

// Transaction is the atomic unit of work on the chain.
// From holds the sender's full hex-encoded ed25519 public key (64 chars).
// Signature covers all fields except Signature itself.
type Transaction struct {
	ID        string          `json:"id"`
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"` // hex-encoded ed25519 public key
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
	Signature string          `json:"signature"`
}

// signingBody holds the fields that are covered by the signature.
type signingBody struct {
	ChainID   string          `json:"chain_id"`
	Type      TxType          `json:"type"`
	From      string          `json:"from"`
	Nonce     uint64          `json:"nonce"`
	Fee       uint64          `json:"fee"`
	Timestamp int64           `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// Hash returns a deterministic hash of the transaction (sans Signature).
// Returns an empty string if marshalling fails (which cannot happen in practice).
func (tx *Transaction) Hash() string {
	body := signingBody{
		ChainID:   tx.ChainID,
		Type:      tx.Type,
		From:      tx.From,
		Nonce:     tx.Nonce,
		Fee:       tx.Fee,
		Timestamp: tx.Timestamp,
		Payload:   tx.Payload,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return ""
	}
	return crypto.Hash(data)
}

// Sign computes the signature and sets ID.
func (tx *Transaction) Sign(priv crypto.PrivateKey) {
	hash := tx.Hash()
	tx.Signature = crypto.Sign(priv, []byte(hash))
	tx.ID = hash
}

// Verify checks the signature and that From is a valid public key.
func (tx *Transaction) Verify() error {
	if tx.From == "" {
		return errors.New("missing from field")
	}
	pub, err := crypto.PubKeyFromHex(tx.From)
	if err != nil {
		return fmt.Errorf("invalid from (must be ed25519 pubkey hex): %w", err)
	}
	return crypto.Verify(pub, []byte(tx.Hash()), tx.Signature)
}

// NewTransaction creates an unsigned transaction with the current timestamp.
func NewTransaction(chainID string, typ TxType, from string, nonce, fee uint64, payload any) (*Transaction, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}
	return &Transaction{
		ChainID:   chainID,
		Type:      typ,
		From:      from,
		Nonce:     nonce,
		Fee:       fee,
		Timestamp: time.Now().UnixNano(),
		Payload:   raw,
	}, nil
}

// ---- Payload types ----

// TransferPayload transfers native currency.
type TransferPayload struct {
	To     string `json:"to"`
	Amount uint64 `json:"amount"`
}

// LedgerIssuePayload creates a new asset class owned by the sender.
// Supply 1 issues a singleton; anything larger issues a fungible class.
type LedgerIssuePayload struct {
	Supply uint64 `json:"supply"`
	URI    string `json:"uri"`
}

// LedgerMintPayload adds supply to an existing fungible class.
type LedgerMintPayload struct {
	ClassID uint64 `json:"class_id"`
	Amount  uint64 `json:"amount"`
}

// LedgerTransferPayload moves asset units to another principal.
// Sending units to core.MarketVault deposits them into the market.
type LedgerTransferPayload struct {
	ClassID uint64 `json:"class_id"`
	To      string `json:"to"`
	Amount  uint64 `json:"amount"`
}

// LedgerTransferBatchPayload moves units of several classes in one call.
// ClassIDs and Amounts must have the same length.
type LedgerTransferBatchPayload struct {
	ClassIDs []uint64 `json:"class_ids"`
	To       string   `json:"to"`
	Amounts  []uint64 `json:"amounts"`
}

// MarketPriceListingPayload sets sale prices for listed singletons owned by
// the sender. ClassIDs and Prices must have the same length.
type MarketPriceListingPayload struct {
	ClassIDs []uint64 `json:"class_ids"`
	Prices   []uint64 `json:"prices"`
}

// MarketPriceQueuePayload sets the unit price of a fungible class.
// Only the market administrator may send it.
type MarketPriceQueuePayload struct {
	ClassID uint64 `json:"class_id"`
	Price   uint64 `json:"price"`
}

// MarketBuyListingPayload purchases a listed singleton. Payment is debited
// from the sender's native balance and must equal the listing price.
type MarketBuyListingPayload struct {
	ClassID uint64 `json:"class_id"`
	Payment uint64 `json:"payment"`
}

// MarketBuyQueuePayload purchases Amount units of a fungible class.
// Payment must equal Amount times the current unit price.
type MarketBuyQueuePayload struct {
	ClassID uint64 `json:"class_id"`
	Amount  uint64 `json:"amount"`
	Payment uint64 `json:"payment"`
}

// MarketCancelListingPayload delists singletons owned by the sender and
// returns them.
type MarketCancelListingPayload struct {
	ClassIDs []uint64 `json:"class_ids"`
}

// MarketCancelQueuePayload withdraws all of the sender's unsold units of a
// fungible class from the sale queue.
type MarketCancelQueuePayload struct {
	ClassID uint64 `json:"class_id"`
}

// MarketWithdrawPayload claims the sender's accumulated sale proceeds.
type MarketWithdrawPayload struct{}
