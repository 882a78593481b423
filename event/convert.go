package event

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidAddress is returned when a string is not a 20-byte hex address.
var ErrInvalidAddress = errors.New("event: invalid address")

// ParseAddress strictly parses a "0x"-prefixed 40 hex digit address.
// Case is ignored.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if len(s) != 42 || !(strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X")) {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	var addr Address
	if _, err := hex.Decode(addr[:], []byte(s[2:])); err != nil {
		return Address{}, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	return addr, nil
}

// MustParseAddress is like ParseAddress but panics on error.
func MustParseAddress(s string) Address {
	addr, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return addr
}

// AddressFromTopic extracts the address stored in the low 20 bytes of an
// indexed topic. It fails when the high 12 bytes are not zero.
func AddressFromTopic(h Hash) (Address, error) {
	for _, b := range h[:12] {
		if b != 0 {
			return Address{}, fmt.Errorf("%w: topic %s", ErrInvalidAddress, h.Hex())
		}
	}
	var addr Address
	copy(addr[:], h[12:])
	return addr, nil
}

// HexToHash converts a "0x"-prefixed hex string to a Hash.
func HexToHash(s string) (Hash, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) > 64 {
		return Hash{}, fmt.Errorf("event: hash %q longer than 32 bytes", s)
	}
	if len(s)%2 != 0 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, fmt.Errorf("event: invalid hash %q: %w", s, err)
	}
	var h Hash
	copy(h[32-len(b):], b)
	return h, nil
}

// MustHexToHash is like HexToHash but panics on error.
func MustHexToHash(s string) Hash {
	h, err := HexToHash(s)
	if err != nil {
		panic(err)
	}
	return h
}

// Hex returns the lower-case "0x"-prefixed encoding of the address.
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

func (a Address) String() string {
	return a.Hex()
}

// IsZero reports whether a is the zero address.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Short renders the address as its first four and last four characters.
func (a Address) Short() string {
	s := a.Hex()
	return s[:4] + ".." + s[len(s)-4:]
}

// Hex returns the "0x"-prefixed hex encoding of the hash.
func (h Hash) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

func (h Hash) String() string {
	return h.Hex()
}
