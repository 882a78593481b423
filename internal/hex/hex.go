// Package hex encodes and decodes the "0x"-prefixed quantities used by
// EVM JSON-RPC.
package hex

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// Encode returns the hexadecimal encoding of src with "0x" prefix.
func Encode(src []byte) string {
	return "0x" + hex.EncodeToString(src)
}

// Decode decodes a hex string (with or without "0x" prefix) into bytes.
func Decode(s string) ([]byte, error) {
	s = trim(s)
	if len(s)%2 != 0 {
		s = "0" + s
	}
	return hex.DecodeString(s)
}

// EncodeUint64 encodes a uint64 as a JSON-RPC quantity.
func EncodeUint64(n uint64) string {
	return fmt.Sprintf("0x%x", n)
}

// DecodeUint64 parses a JSON-RPC quantity such as "0x1b4".
func DecodeUint64(s string) (uint64, error) {
	s = trim(s)
	if s == "" {
		return 0, fmt.Errorf("hex: empty quantity")
	}
	n, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, fmt.Errorf("hex: invalid quantity %q: %w", s, err)
	}
	return n, nil
}

func trim(s string) string {
	return strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
}
