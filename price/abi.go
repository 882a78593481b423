package price

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/hedeqiang/dropwatch/event"
)

const routerJSON = `[{"type":"function","name":"getAmountsOut","stateMutability":"view",
"inputs":[{"name":"amountIn","type":"uint256"},{"name":"path","type":"address[]"}],
"outputs":[{"name":"amounts","type":"uint256[]"}]}]`

const erc20JSON = `[
{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]},
{"type":"function","name":"decimals","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}]`

// Some early tokens return symbol as bytes32.
const erc20Bytes32JSON = `[{"type":"function","name":"symbol","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"bytes32"}]}]`

var (
	routerABI       = mustABI(routerJSON)
	erc20ABI        = mustABI(erc20JSON)
	erc20Bytes32ABI = mustABI(erc20Bytes32JSON)
)

func mustABI(def string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(def))
	if err != nil {
		panic(fmt.Sprintf("price: parse abi: %v", err))
	}
	return parsed
}

func packAmountsOut(amountIn *big.Int, path ...event.Address) ([]byte, error) {
	addrs := make([]common.Address, len(path))
	for i, a := range path {
		addrs[i] = common.Address(a)
	}
	return routerABI.Pack("getAmountsOut", amountIn, addrs)
}

func unpackAmountsOut(data []byte) (*big.Int, error) {
	out, err := routerABI.Unpack("getAmountsOut", data)
	if err != nil {
		return nil, err
	}
	amounts, ok := out[0].([]*big.Int)
	if !ok || len(amounts) == 0 {
		return nil, fmt.Errorf("empty amounts")
	}
	return amounts[len(amounts)-1], nil
}

func unpackDecimals(data []byte) (uint8, error) {
	out, err := erc20ABI.Unpack("decimals", data)
	if err != nil {
		return 0, err
	}
	return out[0].(uint8), nil
}

func unpackSymbol(data []byte) (string, error) {
	if out, err := erc20ABI.Unpack("symbol", data); err == nil {
		return out[0].(string), nil
	}
	out, err := erc20Bytes32ABI.Unpack("symbol", data)
	if err != nil {
		return "", err
	}
	raw := out[0].([32]byte)
	return strings.TrimRight(string(raw[:]), "\x00"), nil
}
