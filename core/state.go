package core

// MarketVault is the reserved principal that holds all asset units placed
// for sale. It is not a valid public key, so no transaction can ever be
// signed by it; units only leave the vault through market settlement.
const MarketVault = "tolmarket:vault"

// AssetKind distinguishes unique assets from divisible ones.
type AssetKind string

const (
	// KindSingleton is an asset class with exactly one issued unit.
	KindSingleton AssetKind = "singleton"
	// KindFungible is an asset class with interchangeable, divisible units.
	KindFungible AssetKind = "fungible"
)

// Account holds a participant's native-currency balance and replay-protection
// nonce. Address is the hex-encoded ed25519 public key.
type Account struct {
	Address string `json:"address"` // pubkey hex
	Balance uint64 `json:"balance"`
	Nonce   uint64 `json:"nonce"`
}

// AssetClass describes one asset id on the unit ledger. Kind is fixed at
// issuance: a class issued with supply 1 is a singleton forever.
type AssetClass struct {
	ID       uint64    `json:"id"`
	Issuer   string    `json:"issuer"` // pubkey hex
	Kind     AssetKind `json:"kind"`
	Supply   uint64    `json:"supply"` // total issued units
	URI      string    `json:"uri"`    // off-chain metadata pointer
	IssuedAt int64     `json:"issued_at"`
}

// ListingBoard is the registry of singleton assets currently offered for
// sale. IDs is maintained with swap-remove, so iteration order is not
// stable across removals; Owners maps each listed class to its seller.
type ListingBoard struct {
	IDs    []uint64          `json:"ids"`
	Owners map[uint64]string `json:"owners"` // classID → seller pubkey hex
}

// QueueEntry is one seller's position in a fungible sale queue.
// A zero Amount marks a tombstone: the entry was cancelled or fully
// drained but keeps its index so later entries do not shift.
type QueueEntry struct {
	Seller string `json:"seller"` // pubkey hex
	Amount uint64 `json:"amount"`
}

// QueueMeta tracks the active window of a fungible sale queue.
// Indices below Head are inactive; Tail only grows and is never reused.
type QueueMeta struct {
	Head uint64 `json:"head"`
	Tail uint64 `json:"tail"`
}

// State is the full chain state interface. Implementations must be
// snapshot-able so the executor can roll back failed transactions.
type State interface {
	// Accounts (native currency)
	GetAccount(address string) (*Account, error)
	SetAccount(account *Account) error

	// Asset classes
	GetClass(id uint64) (*AssetClass, error)
	SetClass(c *AssetClass) error
	// NextClassID returns the next unused class id and advances the counter.
	NextClassID() (uint64, error)

	// Unit holdings: how many units of a class a principal holds.
	GetHolding(classID uint64, holder string) (uint64, error)
	SetHolding(classID uint64, holder string, amount uint64) error

	// Singleton listings
	GetListingBoard() (*ListingBoard, error)
	SetListingBoard(b *ListingBoard) error

	// Fungible sale queues
	GetQueueMeta(classID uint64) (*QueueMeta, error)
	SetQueueMeta(classID uint64, m *QueueMeta) error
	GetQueueEntry(classID, index uint64) (*QueueEntry, error)
	SetQueueEntry(classID, index uint64, e *QueueEntry) error
	DeleteQueueEntry(classID, index uint64) error

	// Prices. GetPrice returns 0 when no price has been set.
	GetPrice(classID uint64) (uint64, error)
	SetPrice(classID, price uint64) error
	DeletePrice(classID uint64) error

	// Escrow: withdrawable sale proceeds per principal.
	GetEscrow(address string) (uint64, error)
	SetEscrow(address string, amount uint64) error

	// MarketAdmin is the only principal allowed to price fungible classes.
	GetMarketAdmin() (string, error)
	SetMarketAdmin(address string) error

	// Snapshot / rollback / commit
	Snapshot() (int, error)
	RevertToSnapshot(id int) error
	// ComputeRoot returns the deterministic state root from the current write
	// buffer without flushing. Call this before signing a block.
	ComputeRoot() string
	// Commit flushes the write buffer to the underlying DB and clears it.
	// Always call ComputeRoot() first to obtain the root for the block header.
	Commit() error
}
