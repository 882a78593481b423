// Package base holds the Base mainnet constants the engine defaults to.
// Base is EVM-compatible and is served by the evm client.
package base

import (
	"github.com/hedeqiang/dropwatch/event"
)

// ChainID is the Base mainnet network id.
const ChainID uint64 = 8453

// ExplorerURL is the block explorer used for links in notifications.
const ExplorerURL = "https://basescan.org"

var (
	// WETH is the canonical wrapped native token.
	WETH = event.MustParseAddress("0x4200000000000000000000000000000000000006")

	// USDC is the quote token for USD estimates.
	USDC = event.MustParseAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913")

	// UniswapV2Router answers getAmountsOut quotes.
	UniswapV2Router = event.MustParseAddress("0x4752ba5dbc23f44d87826276bf6fd6b1c372ad24")
)

// USDCDecimals is the number of decimals of USDC on Base.
const USDCDecimals uint8 = 6

// Endpoints is the default ordered endpoint list. Push endpoints come first
// so a healthy socket is preferred when push mode is enabled.
var Endpoints = []string{
	"wss://base.gateway.tenderly.co",
	"wss://base-rpc.publicnode.com",
	"https://base.public.blockpi.network/v1/rpc/public",
	"https://gateway.tenderly.co/public/base",
	"https://base.gateway.tenderly.co",
	"https://base.drpc.org",
	"https://base.llamarpc.com",
	"https://mainnet.base.org",
	"https://base-rpc.publicnode.com",
}
