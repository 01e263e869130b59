// Package indexer maintains secondary indexes over committed market events
// so storefronts can query listings and classes by principal without
// scanning full state.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/events"
	"github.com/tolelom/tolmarket/storage"
)

const (
	prefixSellerListings = "idx:seller:listing:"
	prefixIssuerClasses  = "idx:issuer:class:"
)

// Indexer subscribes to chain events and updates secondary lookup tables.
type Indexer struct {
	db      storage.DB
	emitter *events.Emitter
}

// New creates an Indexer backed by db and subscribes to relevant events.
func New(db storage.DB, emitter *events.Emitter) *Indexer {
	idx := &Indexer{db: db, emitter: emitter}
	emitter.Subscribe(events.EventClassIssued, idx.onClassIssued)
	emitter.Subscribe(events.EventMarketDeposit, idx.onMarketDeposit)
	emitter.Subscribe(events.EventMarketTrade, idx.onListingGone)
	emitter.Subscribe(events.EventMarketCancel, idx.onListingGone)
	return idx
}

// GetListingsBySeller returns the singleton class ids a seller has listed.
func (idx *Indexer) GetListingsBySeller(seller string) ([]uint64, error) {
	return idx.getList(prefixSellerListings + seller)
}

// GetClassesByIssuer returns all class ids issued by the given pubkey.
func (idx *Indexer) GetClassesByIssuer(issuer string) ([]uint64, error) {
	return idx.getList(prefixIssuerClasses + issuer)
}

// ---- event handlers ----

func (idx *Indexer) onClassIssued(ev events.Event) {
	issuer, _ := ev.Data["issuer"].(string)
	classID, ok := ev.Data["class_id"].(uint64)
	if issuer == "" || !ok {
		return
	}
	_ = idx.addToList(prefixIssuerClasses+issuer, classID)
}

func (idx *Indexer) onMarketDeposit(ev events.Event) {
	kind, _ := ev.Data["kind"].(string)
	if kind != string(core.KindSingleton) {
		return // queue deposits are tracked in state, not here
	}
	seller, _ := ev.Data["seller"].(string)
	classID, ok := ev.Data["class_id"].(uint64)
	if seller == "" || !ok {
		return
	}
	_ = idx.addToList(prefixSellerListings+seller, classID)
}

func (idx *Indexer) onListingGone(ev events.Event) {
	kind, _ := ev.Data["kind"].(string)
	if kind != string(core.KindSingleton) {
		return
	}
	seller, _ := ev.Data["seller"].(string)
	classID, ok := ev.Data["class_id"].(uint64)
	if seller == "" || !ok {
		return
	}
	_ = idx.removeFromList(prefixSellerListings+seller, classID)
}

// ---- list helpers ----

func (idx *Indexer) getList(key string) ([]uint64, error) {
	data, err := idx.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil // empty list
		}
		return nil, err
	}
	var ids []uint64
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("indexer unmarshal: %w", err)
	}
	return ids, nil
}

func (idx *Indexer) addToList(key string, value uint64) error {
	ids, _ := idx.getList(key)
	ids = append(ids, value)
	data, err := json.Marshal(ids)
	if err != nil {
		return err
	}
	return idx.db.Set([]byte(key), data)
}

func (idx *Indexer) removeFromList(key string, value uint64) error {
	ids, _ := idx.getList(key)
	filtered := ids[:0]
	for _, id := range ids {
		if id != value {
			filtered = append(filtered, id)
		}
	}
	data, err := json.Marshal(filtered)
	if err != nil {
		return err
	}
	return idx.db.Set([]byte(key), data)
}
