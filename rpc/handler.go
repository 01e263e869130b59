package rpc

import (
	"encoding/json"
	"fmt"

	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/indexer"
	"github.com/tolelom/tolmarket/vm/modules/market"
)

// Handler holds all dependencies needed to serve RPC methods.
type Handler struct {
	bc      *core.Blockchain
	mempool *core.Mempool
	state   core.State
	indexer *indexer.Indexer
	chainID string // expected chain_id; used to reject cross-chain replay transactions
}

// NewHandler creates an RPC Handler.
func NewHandler(bc *core.Blockchain, mempool *core.Mempool, state core.State, idx *indexer.Indexer, chainID string) *Handler {
	return &Handler{bc: bc, mempool: mempool, state: state, indexer: idx, chainID: chainID}
}

// Dispatch routes an RPC request to the correct method.
func (h *Handler) Dispatch(req Request) Response {
	switch req.Method {
	case "getBlockHeight":
		return okResponse(req.ID, h.bc.Height())

	case "getBlock":
		return h.getBlock(req)

	case "getBalance":
		return h.getBalance(req)

	case "getClass":
		return h.getClass(req)

	case "getHolding":
		return h.getHolding(req)

	case "getListings":
		return h.getListings(req)

	case "getPrice":
		return h.getPrice(req)

	case "getQueue":
		return h.getQueue(req)

	case "getQueueEntry":
		return h.getQueueEntry(req)

	case "getQueuePlaces":
		return h.getQueuePlaces(req)

	case "getEscrow":
		return h.getEscrow(req)

	case "getListingsBySeller":
		return h.getListingsBySeller(req)

	case "getClassesByIssuer":
		return h.getClassesByIssuer(req)

	case "sendTx":
		return h.sendTx(req)

	case "getMempoolSize":
		return okResponse(req.ID, h.mempool.Size())

	default:
		return errResponse(req.ID, CodeMethodNotFound, fmt.Sprintf("method %q not found", req.Method))
	}
}

func (h *Handler) getBlock(req Request) Response {
	var params struct {
		Hash   string `json:"hash"`
		Height *int64 `json:"height"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, "params: "+err.Error())
	}

	var block *core.Block
	var err error
	if params.Hash != "" {
		block, err = h.bc.GetBlock(params.Hash)
	} else if params.Height != nil {
		block, err = h.bc.GetBlockByHeight(*params.Height)
	} else {
		block = h.bc.Tip()
	}
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	if block == nil {
		return errResponse(req.ID, CodeInternalError, "no block found")
	}
	return okResponse(req.ID, block)
}

func (h *Handler) getBalance(req Request) Response {
	var params struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Address == "" {
		return errResponse(req.ID, CodeInvalidParams, "address is required")
	}
	acc, err := h.state.GetAccount(params.Address)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]any{"address": params.Address, "balance": acc.Balance, "nonce": acc.Nonce})
}

func (h *Handler) getClass(req Request) Response {
	var params struct {
		ClassID uint64 `json:"class_id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	class, err := h.state.GetClass(params.ClassID)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	if class == nil {
		return errResponse(req.ID, CodeInternalError, fmt.Sprintf("class %d not found", params.ClassID))
	}
	return okResponse(req.ID, class)
}

func (h *Handler) getHolding(req Request) Response {
	var params struct {
		ClassID uint64 `json:"class_id"`
		Holder  string `json:"holder"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Holder == "" {
		return errResponse(req.ID, CodeInvalidParams, "holder is required")
	}
	amount, err := h.state.GetHolding(params.ClassID, params.Holder)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]any{"class_id": params.ClassID, "holder": params.Holder, "amount": amount})
}

// getListings returns the singleton listing board: every listed class id
// with its seller and asking price (0 if the seller has not priced it yet).
func (h *Handler) getListings(req Request) Response {
	board, err := h.state.GetListingBoard()
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	type listing struct {
		ClassID uint64 `json:"class_id"`
		Seller  string `json:"seller"`
		Price   uint64 `json:"price"`
	}
	listings := make([]listing, 0, len(board.IDs))
	for _, id := range board.IDs {
		price, err := h.state.GetPrice(id)
		if err != nil {
			return errResponse(req.ID, CodeInternalError, err.Error())
		}
		listings = append(listings, listing{ClassID: id, Seller: board.Owners[id], Price: price})
	}
	return okResponse(req.ID, listings)
}

func (h *Handler) getPrice(req Request) Response {
	var params struct {
		ClassID uint64 `json:"class_id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	price, err := h.state.GetPrice(params.ClassID)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	// A set price is never zero, so zero means "not for sale".
	if price == 0 {
		return errResponse(req.ID, CodeNotFound, fmt.Sprintf("class %d has no price set", params.ClassID))
	}
	return okResponse(req.ID, map[string]any{"class_id": params.ClassID, "price": price})
}

// getQueue returns the active window of a fungible sale queue along with
// the total amount currently offered.
func (h *Handler) getQueue(req Request) Response {
	var params struct {
		ClassID uint64 `json:"class_id"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	meta, err := h.state.GetQueueMeta(params.ClassID)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	var offered uint64
	for i := meta.Head; i < meta.Tail; i++ {
		entry, err := h.state.GetQueueEntry(params.ClassID, i)
		if err != nil {
			return errResponse(req.ID, CodeInternalError, err.Error())
		}
		offered += entry.Amount
	}
	return okResponse(req.ID, map[string]any{
		"class_id": params.ClassID, "head": meta.Head, "tail": meta.Tail, "offered": offered,
	})
}

func (h *Handler) getQueueEntry(req Request) Response {
	var params struct {
		ClassID uint64 `json:"class_id"`
		Index   uint64 `json:"index"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	entry, err := h.state.GetQueueEntry(params.ClassID, params.Index)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]any{
		"class_id": params.ClassID, "index": params.Index,
		"seller": entry.Seller, "amount": entry.Amount,
	})
}

// getQueuePlaces returns the indices of a seller's active entries in a
// fungible sale queue, oldest first.
func (h *Handler) getQueuePlaces(req Request) Response {
	var params struct {
		ClassID uint64 `json:"class_id"`
		Seller  string `json:"seller"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Seller == "" {
		return errResponse(req.ID, CodeInvalidParams, "seller is required")
	}
	places, err := market.PlacesOf(h.state, params.ClassID, params.Seller)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, places)
}

func (h *Handler) getEscrow(req Request) Response {
	var params struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Address == "" {
		return errResponse(req.ID, CodeInvalidParams, "address is required")
	}
	escrow, err := h.state.GetEscrow(params.Address)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]any{"address": params.Address, "escrow": escrow})
}

func (h *Handler) getListingsBySeller(req Request) Response {
	var params struct {
		Seller string `json:"seller"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Seller == "" {
		return errResponse(req.ID, CodeInvalidParams, "seller is required")
	}
	ids, err := h.indexer.GetListingsBySeller(params.Seller)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, ids)
}

func (h *Handler) getClassesByIssuer(req Request) Response {
	var params struct {
		Issuer string `json:"issuer"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if params.Issuer == "" {
		return errResponse(req.ID, CodeInvalidParams, "issuer is required")
	}
	ids, err := h.indexer.GetClassesByIssuer(params.Issuer)
	if err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, ids)
}

func (h *Handler) sendTx(req Request) Response {
	var tx core.Transaction
	if err := json.Unmarshal(req.Params, &tx); err != nil {
		return errResponse(req.ID, CodeInvalidParams, err.Error())
	}
	// Reject transactions destined for a different network to prevent
	// cross-chain replay attacks.
	if tx.ChainID != h.chainID {
		return errResponse(req.ID, CodeInvalidParams,
			fmt.Sprintf("chain ID mismatch: got %q want %q", tx.ChainID, h.chainID))
	}
	// Recompute the ID server-side; do not trust the client-provided value.
	tx.ID = tx.Hash()
	if err := h.mempool.Add(&tx); err != nil {
		return errResponse(req.ID, CodeInternalError, err.Error())
	}
	return okResponse(req.ID, map[string]string{"tx_id": tx.ID})
}
