package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/crypto"
)

// registerPrefix records a state-key prefix into statePrefixes so that
// ComputeRoot() always covers it.  All prefix constants must be declared
// via this function; manually editing statePrefixes is not required.
func registerPrefix(p string) string {
	statePrefixes = append(statePrefixes, p)
	return p
}

// statePrefixes is populated automatically by registerPrefix() below.
// ComputeRoot() iterates these prefixes to build the full world-state view.
var statePrefixes []string

var (
	prefixAccount  = registerPrefix("acct:")
	prefixClass    = registerPrefix("class:")
	prefixClassSeq = registerPrefix("classseq")
	prefixHolding  = registerPrefix("hold:")
	prefixMarket   = registerPrefix("market:")
	prefixQueue    = registerPrefix("q:")
	prefixQMeta    = registerPrefix("qmeta:")
	prefixPrice    = registerPrefix("price:")
	prefixEscrow   = registerPrefix("escrow:")
)

const (
	keyListingBoard = "market:board"
	keyMarketAdmin  = "market:admin"
)

// classKey renders a class id with fixed width so that iteration over the
// prefix yields ids in numeric order.
func classKey(id uint64) string {
	return fmt.Sprintf("%020d", id)
}

type stateSnapshot struct {
	dirty   map[string][]byte
	deleted map[string]bool
}

// StateDB implements core.State on top of a DB with in-memory write buffer,
// snapshot/rollback, and deterministic state-root computation.
type StateDB struct {
	db        DB
	dirty     map[string][]byte
	deleted   map[string]bool
	snapshots []stateSnapshot
}

// NewStateDB creates a StateDB backed by db.
func NewStateDB(db DB) *StateDB {
	return &StateDB{
		db:      db,
		dirty:   make(map[string][]byte),
		deleted: make(map[string]bool),
	}
}

// ---- internal helpers ----

func (s *StateDB) get(key string) ([]byte, error) {
	if s.deleted[key] {
		return nil, core.ErrNotFound
	}
	if v, ok := s.dirty[key]; ok {
		return v, nil
	}
	return s.db.Get([]byte(key))
}

func (s *StateDB) set(key string, val []byte) {
	delete(s.deleted, key)
	s.dirty[key] = val
}

func (s *StateDB) del(key string) {
	delete(s.dirty, key)
	s.deleted[key] = true
}

// getUint reads a decimal-encoded uint64, returning 0 for a missing key.
func (s *StateDB) getUint(key string) (uint64, error) {
	data, err := s.get(key)
	if errors.Is(err, core.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(string(data), 10, 64)
}

// setUint writes a uint64 as decimal; zero values are deleted so missing
// and zero are indistinguishable, which every caller relies on.
func (s *StateDB) setUint(key string, v uint64) {
	if v == 0 {
		s.del(key)
		return
	}
	s.set(key, []byte(strconv.FormatUint(v, 10)))
}

// ---- Account ----

func (s *StateDB) GetAccount(address string) (*core.Account, error) {
	data, err := s.get(prefixAccount + address)
	if errors.Is(err, core.ErrNotFound) {
		return &core.Account{Address: address}, nil // zero-value account
	}
	if err != nil {
		return nil, err
	}
	var acc core.Account
	if err := json.Unmarshal(data, &acc); err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *StateDB) SetAccount(acc *core.Account) error {
	data, err := json.Marshal(acc)
	if err != nil {
		return err
	}
	s.set(prefixAccount+acc.Address, data)
	return nil
}

// ---- Asset classes ----

func (s *StateDB) GetClass(id uint64) (*core.AssetClass, error) {
	data, err := s.get(prefixClass + classKey(id))
	if err != nil {
		return nil, err
	}
	var c core.AssetClass
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *StateDB) SetClass(c *core.AssetClass) error {
	data, err := json.Marshal(c)
	if err != nil {
		return err
	}
	s.set(prefixClass+classKey(c.ID), data)
	return nil
}

func (s *StateDB) NextClassID() (uint64, error) {
	next, err := s.getUint(prefixClassSeq)
	if err != nil {
		return 0, err
	}
	s.setUint(prefixClassSeq, next+1)
	return next, nil
}

// ---- Holdings ----

func holdingKey(classID uint64, holder string) string {
	return prefixHolding + classKey(classID) + ":" + holder
}

func (s *StateDB) GetHolding(classID uint64, holder string) (uint64, error) {
	return s.getUint(holdingKey(classID, holder))
}

func (s *StateDB) SetHolding(classID uint64, holder string, amount uint64) error {
	s.setUint(holdingKey(classID, holder), amount)
	return nil
}

// ---- Singleton listings ----

func (s *StateDB) GetListingBoard() (*core.ListingBoard, error) {
	data, err := s.get(keyListingBoard)
	if errors.Is(err, core.ErrNotFound) {
		return &core.ListingBoard{Owners: make(map[uint64]string)}, nil
	}
	if err != nil {
		return nil, err
	}
	var b core.ListingBoard
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, err
	}
	if b.Owners == nil {
		b.Owners = make(map[uint64]string)
	}
	return &b, nil
}

func (s *StateDB) SetListingBoard(b *core.ListingBoard) error {
	data, err := json.Marshal(b)
	if err != nil {
		return err
	}
	s.set(keyListingBoard, data)
	return nil
}

// ---- Fungible sale queues ----

func (s *StateDB) GetQueueMeta(classID uint64) (*core.QueueMeta, error) {
	data, err := s.get(prefixQMeta + classKey(classID))
	if errors.Is(err, core.ErrNotFound) {
		return &core.QueueMeta{}, nil
	}
	if err != nil {
		return nil, err
	}
	var m core.QueueMeta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *StateDB) SetQueueMeta(classID uint64, m *core.QueueMeta) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	s.set(prefixQMeta+classKey(classID), data)
	return nil
}

func queueEntryKey(classID, index uint64) string {
	return prefixQueue + classKey(classID) + ":" + fmt.Sprintf("%020d", index)
}

// GetQueueEntry returns the entry at index. A missing record comes back as
// a zero entry: that is exactly what a tombstoned position looks like.
func (s *StateDB) GetQueueEntry(classID, index uint64) (*core.QueueEntry, error) {
	data, err := s.get(queueEntryKey(classID, index))
	if errors.Is(err, core.ErrNotFound) {
		return &core.QueueEntry{}, nil
	}
	if err != nil {
		return nil, err
	}
	var e core.QueueEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *StateDB) SetQueueEntry(classID, index uint64, e *core.QueueEntry) error {
	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	s.set(queueEntryKey(classID, index), data)
	return nil
}

func (s *StateDB) DeleteQueueEntry(classID, index uint64) error {
	s.del(queueEntryKey(classID, index))
	return nil
}

// ---- Prices ----

func (s *StateDB) GetPrice(classID uint64) (uint64, error) {
	return s.getUint(prefixPrice + classKey(classID))
}

func (s *StateDB) SetPrice(classID, price uint64) error {
	s.setUint(prefixPrice+classKey(classID), price)
	return nil
}

func (s *StateDB) DeletePrice(classID uint64) error {
	s.del(prefixPrice + classKey(classID))
	return nil
}

// ---- Escrow ----

func (s *StateDB) GetEscrow(address string) (uint64, error) {
	return s.getUint(prefixEscrow + address)
}

func (s *StateDB) SetEscrow(address string, amount uint64) error {
	s.setUint(prefixEscrow+address, amount)
	return nil
}

// ---- Market administrator ----

func (s *StateDB) GetMarketAdmin() (string, error) {
	data, err := s.get(keyMarketAdmin)
	if errors.Is(err, core.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (s *StateDB) SetMarketAdmin(address string) error {
	s.set(keyMarketAdmin, []byte(address))
	return nil
}

// ---- Snapshot / Rollback / Commit ----

// Snapshot saves the current write buffer and returns a snapshot ID.
func (s *StateDB) Snapshot() (int, error) {
	snap := stateSnapshot{
		dirty:   make(map[string][]byte, len(s.dirty)),
		deleted: make(map[string]bool, len(s.deleted)),
	}
	for k, v := range s.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		snap.dirty[k] = cp
	}
	for k, v := range s.deleted {
		snap.deleted[k] = v
	}
	s.snapshots = append(s.snapshots, snap)
	return len(s.snapshots) - 1, nil
}

// RevertToSnapshot restores the write buffer to a previously saved snapshot.
// The snapshot maps are deep-copied so that subsequent writes cannot corrupt them.
func (s *StateDB) RevertToSnapshot(id int) error {
	if id < 0 || id >= len(s.snapshots) {
		return fmt.Errorf("invalid snapshot id %d", id)
	}
	snap := s.snapshots[id]

	dirty := make(map[string][]byte, len(snap.dirty))
	for k, v := range snap.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		dirty[k] = cp
	}
	deleted := make(map[string]bool, len(snap.deleted))
	for k, v := range snap.deleted {
		deleted[k] = v
	}

	s.dirty = dirty
	s.deleted = deleted
	s.snapshots = s.snapshots[:id]
	return nil
}

// ComputeRoot returns the deterministic hash of the complete world state.
// It merges all persisted state entries (scanned from DB by the known state
// prefixes) with the current write buffer, then hashes the sorted key-value
// pairs using length-prefix encoding.  It does NOT flush or modify state,
// so it is safe to call before signing a block.
func (s *StateDB) ComputeRoot() string {
	// Step 1: collect all persisted state entries from DB.
	merged := make(map[string][]byte)
	for _, prefix := range statePrefixes {
		it := s.db.NewIterator([]byte(prefix))
		for it.Next() {
			k := string(it.Key())
			v := make([]byte, len(it.Value()))
			copy(v, it.Value())
			merged[k] = v
		}
		it.Release()
	}

	// Step 2: apply in-memory write buffer (uncommitted changes this block).
	for k, v := range s.dirty {
		merged[k] = v
	}

	// Step 3: exclude deleted keys.
	for k := range s.deleted {
		delete(merged, k)
	}

	// Step 4: sort keys for determinism.
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	// Step 5: length-prefix encode each key-value pair and hash.
	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, k := range keys {
		v := merged[k]
		kb := []byte(k)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(kb)))
		buf.Write(lenBuf[:])
		buf.Write(kb)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
		buf.Write(lenBuf[:])
		buf.Write(v)
	}
	return crypto.Hash(buf.Bytes())
}

// Commit atomically flushes the write buffer to the underlying DB via a
// WriteBatch and then clears it. Call ComputeRoot() before signing the block,
// then call Commit() after the block is safely stored.
func (s *StateDB) Commit() error {
	batch := s.db.NewBatch()
	for k, v := range s.dirty {
		batch.Set([]byte(k), v)
	}
	for k := range s.deleted {
		batch.Delete([]byte(k))
	}
	if err := batch.Write(); err != nil {
		return err
	}
	s.dirty = make(map[string][]byte)
	s.deleted = make(map[string]bool)
	s.snapshots = nil
	return nil
}
