package decoder

import (
	"fmt"
	"math/big"

	"github.com/hedeqiang/dropwatch/event"
	"github.com/hedeqiang/dropwatch/filter"
	"github.com/hedeqiang/dropwatch/internal/abi"
)

// TransferSignature is the ERC-20 Transfer event.
const TransferSignature = "Transfer(address indexed from, address indexed to, uint256 value)"

// MinDataLength is the smallest data payload that can hold a uint256 amount.
const MinDataLength = 32

var transferEvent = abi.MustParseEvent(TransferSignature)

// TransferTopic is topic0 of every ERC-20 Transfer log.
var TransferTopic = transferEvent.Topic()

// TransferDecoder validates and decodes ERC-20 Transfer logs.
type TransferDecoder struct {
	match filter.Filter
}

// NewTransferDecoder creates a decoder for ERC-20 Transfer logs. ERC-721
// transfers share topic0 but carry a fourth topic and are rejected.
func NewTransferDecoder() *TransferDecoder {
	return &TransferDecoder{
		match: filter.All(
			filter.Topic(0, TransferTopic),
			filter.TopicCount(1+transferEvent.Indexed()),
		),
	}
}

// Decode validates log and extracts the transfer.
func (d *TransferDecoder) Decode(log event.Log) (event.Transfer, error) {
	if len(log.Data) < MinDataLength {
		return event.Transfer{}, malformed("short_data", fmt.Sprintf("%d bytes", len(log.Data)))
	}
	if log.Address.IsZero() {
		return event.Transfer{}, malformed("bad_emitter", "")
	}
	if !d.match.Match(log) {
		return event.Transfer{}, malformed("not_transfer", fmt.Sprintf("%d topics", len(log.Topics)))
	}

	from, err := event.AddressFromTopic(log.Topics[1])
	if err != nil {
		return event.Transfer{}, malformed("bad_from", err.Error())
	}
	to, err := event.AddressFromTopic(log.Topics[2])
	if err != nil {
		return event.Transfer{}, malformed("bad_to", err.Error())
	}

	value := new(big.Int).SetBytes(log.Data[:MinDataLength])
	if value.Sign() <= 0 {
		return event.Transfer{}, malformed("zero_value", "")
	}

	return event.Transfer{Token: log.Address, From: from, To: to, Value: value}, nil
}
