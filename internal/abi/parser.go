// Package abi hashes Solidity event signatures into log topics.
package abi

import (
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/hedeqiang/dropwatch/event"
)

// Keccak256 returns the legacy Keccak-256 digest used by the EVM.
func Keccak256(data []byte) event.Hash {
	h := sha3.NewLegacyKeccak256()
	h.Write(data)
	var out event.Hash
	copy(out[:], h.Sum(nil))
	return out
}

// Event is a parsed event signature.
type Event struct {
	Name   string
	Params []Param
}

// Param is one event parameter.
type Param struct {
	Type    string
	Name    string
	Indexed bool
}

// Canonical returns the signature used for hashing, e.g. "Transfer(address,address,uint256)".
func (e *Event) Canonical() string {
	types := make([]string, len(e.Params))
	for i, p := range e.Params {
		types[i] = p.Type
	}
	return fmt.Sprintf("%s(%s)", e.Name, strings.Join(types, ","))
}

// Topic returns the topic0 hash for the event.
func (e *Event) Topic() event.Hash {
	return Keccak256([]byte(e.Canonical()))
}

// Indexed returns the number of indexed parameters, which is the number of
// topics a matching log carries after topic0.
func (e *Event) Indexed() int {
	n := 0
	for _, p := range e.Params {
		if p.Indexed {
			n++
		}
	}
	return n
}

// ParseEvent parses either form of a signature:
//   - "Transfer(address,address,uint256)"
//   - "Transfer(address indexed from, address indexed to, uint256 value)"
func ParseEvent(sig string) (*Event, error) {
	sig = strings.TrimSpace(sig)

	open := strings.IndexByte(sig, '(')
	closing := strings.LastIndexByte(sig, ')')
	if open < 0 || closing < 0 || closing <= open {
		return nil, fmt.Errorf("abi: malformed event signature: %q", sig)
	}

	name := strings.TrimSpace(sig[:open])
	if name == "" {
		return nil, fmt.Errorf("abi: empty event name in signature: %q", sig)
	}

	list := strings.TrimSpace(sig[open+1 : closing])
	if list == "" {
		return &Event{Name: name}, nil
	}

	var params []Param
	for _, part := range strings.Split(list, ",") {
		fields := strings.Fields(part)
		if len(fields) == 0 {
			return nil, fmt.Errorf("abi: empty parameter in signature %q", sig)
		}
		p := Param{Type: fields[0]}
		for _, f := range fields[1:] {
			if f == "indexed" {
				p.Indexed = true
			} else {
				p.Name = f
			}
		}
		params = append(params, p)
	}
	return &Event{Name: name, Params: params}, nil
}

// MustParseEvent is like ParseEvent but panics on error.
func MustParseEvent(sig string) *Event {
	e, err := ParseEvent(sig)
	if err != nil {
		panic(err)
	}
	return e
}
