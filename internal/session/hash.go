package session

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Terms are the full economics of one proposed swap, always expressed
// from the buyer's perspective: offer is what the buyer gives, want is
// what the buyer receives.
type Terms struct {
	Buyer       string
	Seller      string
	OfferAsset  uint64
	OfferAmount uint64
	WantAsset   uint64
	WantAmount  uint64
}

// ProposalHash binds a session to its terms: both parties derive it
// independently and any disagreement on any field yields different
// hashes. The value is the first 16 hex characters of the sha256 of the
// canonical terms encoding.
func ProposalHash(terms Terms) string {
	sum := sha256.Sum256(canonicalTerms(terms))
	return hex.EncodeToString(sum[:])[:16]
}

// canonicalTerms is compact JSON with sorted keys, so the bytes are
// identical no matter which side computes them.
func canonicalTerms(terms Terms) []byte {
	raw, err := json.Marshal(map[string]interface{}{
		"buyer":        terms.Buyer,
		"seller":       terms.Seller,
		"offer_asa":    terms.OfferAsset,
		"offer_amount": terms.OfferAmount,
		"want_asa":     terms.WantAsset,
		"want_amount":  terms.WantAmount,
	})
	if err != nil {
		// a map of strings and integers cannot fail to marshal
		panic(err)
	}
	return raw
}
