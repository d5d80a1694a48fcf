package signer

import (
	"fmt"

	"gitlab.com/distributed_lab/logan/v3/errors"
)

// AssembleGroup merges per-party SignGroup outputs into one submit-ready
// blob. Every list must have the same length and every position must be
// signed by exactly one party; foreign holes (nil or empty entries) are
// filled by the list that carries the signature for that position.
// Positions are concatenated in order.
func AssembleGroup(signedLists ...[][]byte) ([]byte, error) {
	if len(signedLists) == 0 {
		return nil, errors.New("no signed lists to assemble")
	}

	groupLen := len(signedLists[0])
	for i, list := range signedLists {
		if len(list) != groupLen {
			return nil, errors.New(fmt.Sprintf("signed list %d has %d entries, expected %d", i, len(list), groupLen))
		}
	}

	var blob []byte
	for idx := 0; idx < groupLen; idx++ {
		var entry []byte
		for _, list := range signedLists {
			if len(list[idx]) == 0 {
				continue
			}
			if entry != nil {
				return nil, fmt.Errorf("%w: slot %d", ErrConflictingSigner, idx)
			}
			entry = list[idx]
		}
		if entry == nil {
			return nil, fmt.Errorf("%w: slot %d", ErrMissingSigner, idx)
		}
		blob = append(blob, entry...)
	}
	return blob, nil
}
