package wallet

import (
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/crypto"
)

// Wallet holds a key pair and provides transaction-building helpers.
type Wallet struct {
	priv crypto.PrivateKey
	pub  crypto.PublicKey
}

// New creates a Wallet from an existing private key.
func New(priv crypto.PrivateKey) *Wallet {
	return &Wallet{priv: priv, pub: priv.Public()}
}

// Generate creates a Wallet with a freshly generated key pair.
func Generate() (*Wallet, error) {
	priv, _, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	return New(priv), nil
}

// PrivKey returns the raw private key (handle with care).
func (w *Wallet) PrivKey() crypto.PrivateKey {
	return w.priv
}

// PubKey returns the hex-encoded ed25519 public key (used as "from" address).
func (w *Wallet) PubKey() string {
	return w.pub.Hex()
}

// Address returns the short human-readable address (first 20 bytes of SHA-256(pubkey)).
func (w *Wallet) Address() string {
	return w.pub.Address()
}

// NewTx creates a signed transaction. chainID must match the target network.
// nonce should match the account's current nonce.
func (w *Wallet) NewTx(chainID string, typ core.TxType, nonce, fee uint64, payload any) (*core.Transaction, error) {
	tx, err := core.NewTransaction(chainID, typ, w.pub.Hex(), nonce, fee, payload)
	if err != nil {
		return nil, err
	}
	tx.Sign(w.priv)
	return tx, nil
}

// Transfer creates a signed native-currency transfer.
func (w *Wallet) Transfer(chainID, to string, amount, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxTransfer, nonce, fee, core.TransferPayload{
		To:     to,
		Amount: amount,
	})
}

// IssueClass creates a signed asset-class issuance. supply 1 issues a
// singleton, anything larger a fungible class.
func (w *Wallet) IssueClass(chainID string, supply uint64, uri string, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxLedgerIssue, nonce, fee, core.LedgerIssuePayload{
		Supply: supply,
		URI:    uri,
	})
}

// TransferUnits creates a signed unit transfer of one asset class.
func (w *Wallet) TransferUnits(chainID string, classID uint64, to string, amount, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxLedgerTransfer, nonce, fee, core.LedgerTransferPayload{
		ClassID: classID,
		To:      to,
		Amount:  amount,
	})
}

// Deposit places amount units of classID for sale on the market.
func (w *Wallet) Deposit(chainID string, classID, amount, nonce, fee uint64) (*core.Transaction, error) {
	return w.TransferUnits(chainID, classID, core.MarketVault, amount, nonce, fee)
}

// PriceListings sets sale prices for listed singletons owned by this wallet.
func (w *Wallet) PriceListings(chainID string, classIDs, prices []uint64, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxMarketPriceListing, nonce, fee, core.MarketPriceListingPayload{
		ClassIDs: classIDs,
		Prices:   prices,
	})
}

// PriceQueue sets the unit price of a fungible class (market admin only).
func (w *Wallet) PriceQueue(chainID string, classID, price, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxMarketPriceQueue, nonce, fee, core.MarketPriceQueuePayload{
		ClassID: classID,
		Price:   price,
	})
}

// BuyListing purchases a listed singleton, attaching payment.
func (w *Wallet) BuyListing(chainID string, classID, payment, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxMarketBuyListing, nonce, fee, core.MarketBuyListingPayload{
		ClassID: classID,
		Payment: payment,
	})
}

// BuyQueue purchases amount units of a fungible class, attaching payment.
func (w *Wallet) BuyQueue(chainID string, classID, amount, payment, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxMarketBuyQueue, nonce, fee, core.MarketBuyQueuePayload{
		ClassID: classID,
		Amount:  amount,
		Payment: payment,
	})
}

// CancelListings delists singletons owned by this wallet and takes them back.
func (w *Wallet) CancelListings(chainID string, classIDs []uint64, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxMarketCancelList, nonce, fee, core.MarketCancelListingPayload{
		ClassIDs: classIDs,
	})
}

// CancelQueue withdraws all of this wallet's unsold units of a fungible class.
func (w *Wallet) CancelQueue(chainID string, classID, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxMarketCancelQueue, nonce, fee, core.MarketCancelQueuePayload{
		ClassID: classID,
	})
}

// Withdraw claims this wallet's accumulated sale proceeds.
func (w *Wallet) Withdraw(chainID string, nonce, fee uint64) (*core.Transaction, error) {
	return w.NewTx(chainID, core.TxMarketWithdraw, nonce, fee, core.MarketWithdrawPayload{})
}
