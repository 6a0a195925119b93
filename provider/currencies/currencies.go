package currencies

import "github.com/sig-0/p2pquotes/storage/types"

// Fiat
var (
	USD types.Currency = "USD"
	EUR types.Currency = "EUR"
	NGN types.Currency = "NGN"
	XAF types.Currency = "XAF"
)

// Assets traded on the P2P marketplaces
var (
	USDT types.Currency = "USDT"
	USDC types.Currency = "USDC"
)
