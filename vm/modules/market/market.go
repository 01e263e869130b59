// Package market implements the listing-and-settlement engine: singleton
// listings with swap-remove deletion, per-class FIFO sale queues with lazy
// tombstoning, a pricing table, and pull-payment escrow. Every handler runs
// inside the executor's snapshot, so a failed precondition rolls the whole
// operation back.
package market

import (
	"github.com/tolelom/tolmarket/core"
	"github.com/tolelom/tolmarket/vm"
)

func init() {
	vm.Register(core.TxMarketPriceListing, handlePriceListing)
	vm.Register(core.TxMarketPriceQueue, handlePriceQueue)
	vm.Register(core.TxMarketBuyListing, handleBuyListing)
	vm.Register(core.TxMarketBuyQueue, handleBuyQueue)
	vm.Register(core.TxMarketCancelList, handleCancelListing)
	vm.Register(core.TxMarketCancelQueue, handleCancelQueue)
	vm.Register(core.TxMarketWithdraw, handleWithdraw)
}
