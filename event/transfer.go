package event

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// Transfer is a decoded ERC-20 Transfer(address,address,uint256) event.
type Transfer struct {
	Token Address
	From  Address
	To    Address
	// Value is the raw, unscaled token amount.
	Value *big.Int
}

// Direction is the side of a transfer relative to a watched wallet.
type Direction int

const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	if d == Outbound {
		return "outbound"
	}
	return "inbound"
}

// TransferRecord is a transfer seen from the perspective of one watched wallet,
// enriched with token metadata and an optional USD estimate.
type TransferRecord struct {
	TxHash         Hash
	LogIndex       uint
	Token          Address
	Symbol         string
	Decimals       uint8
	Amount         decimal.Decimal
	USDValue       float64
	Direction      Direction
	WatchedAddress Address
	Counterparty   Address
	ObservedAt     time.Time
}
