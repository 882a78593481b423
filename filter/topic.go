package filter

import (
	"github.com/hedeqiang/dropwatch/event"
)

// Topic matches logs whose topic at position (0 is the event signature)
// is one of hashes.
func Topic(position int, hashes ...event.Hash) Filter {
	set := make(map[event.Hash]struct{}, len(hashes))
	for _, h := range hashes {
		set[h] = struct{}{}
	}
	return Func(func(log event.Log) bool {
		if position < 0 || position >= len(log.Topics) {
			return false
		}
		_, ok := set[log.Topics[position]]
		return ok
	})
}

// TopicCount matches logs carrying exactly n topics. Standard ERC-20
// transfers carry 3; the ERC-721 variant with an indexed id carries 4.
func TopicCount(n int) Filter {
	return Func(func(log event.Log) bool { return len(log.Topics) == n })
}

// MinData matches logs whose data payload is at least n bytes.
func MinData(n int) Filter {
	return Func(func(log event.Log) bool { return len(log.Data) >= n })
}
