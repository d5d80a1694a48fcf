package notes

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeTypeComesFirst(t *testing.T) {
	raw, err := Encode("swap_propose", map[string]interface{}{
		"want_amount":  uint64(1000),
		"buyer":        "BUYERADDR",
		"offer_amount": uint64(25),
	})
	require.NoError(t, err)

	require.True(t, bytes.HasPrefix(raw, []byte(`{"type":"swap_propose",`)), string(raw))
	require.True(t, bytes.HasPrefix(raw, Prefix("swap_")))
	// remaining keys are sorted, output is compact
	require.Equal(t, `{"type":"swap_propose","buyer":"BUYERADDR","offer_amount":25,"want_amount":1000}`, string(raw))
}

func TestEncodeNoBody(t *testing.T) {
	raw, err := Encode("htlc_accept", nil)
	require.NoError(t, err)
	require.Equal(t, `{"type":"htlc_accept"}`, string(raw))
	require.True(t, bytes.HasPrefix(raw, Prefix("htlc_")))
}

func TestEncodeDeterministic(t *testing.T) {
	body := map[string]interface{}{"b": uint64(2), "a": uint64(1), "c": "x"}
	first, err := Encode("swap_partial", body)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := Encode("swap_partial", map[string]interface{}{"c": "x", "a": uint64(1), "b": uint64(2)})
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestEncodeRejectsOversizedNote(t *testing.T) {
	_, err := Encode("swap_partial", map[string]interface{}{
		"exchange": strings.Repeat("a", MaxNoteSize),
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "1024")
}

func TestEncodeRequiresType(t *testing.T) {
	_, err := Encode("", nil)
	require.Error(t, err)
}

func TestDecodeRoundTrip(t *testing.T) {
	raw, err := Encode("swap_propose", map[string]interface{}{
		"buyer":        "BUYER",
		"offer_asa":    uint64(0),
		"offer_amount": uint64(250000),
		"proposal":     "abcd1234",
	})
	require.NoError(t, err)

	note, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, "swap_propose", note.Type)
	require.Equal(t, "BUYER", note.Str("buyer"))
	require.Equal(t, uint64(250000), note.Uint("offer_amount"))
	require.Equal(t, uint64(0), note.Uint("offer_asa"))
	require.True(t, note.Has("proposal"))
	require.False(t, note.Has("missing"))
	require.Equal(t, uint64(0), note.Uint("missing"))
}

func TestDecodeLargeAmountsSurviveExactly(t *testing.T) {
	raw, err := Encode("swap_propose", map[string]interface{}{
		"amount": uint64(18446744073709551615),
	})
	require.NoError(t, err)

	note, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, uint64(18446744073709551615), note.Uint("amount"))
}

func TestDecodeRejectsMalformedNotes(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	require.Error(t, err)

	_, err = Decode([]byte(`[1,2,3]`))
	require.Error(t, err)

	_, err = Decode([]byte(`{"kind":"swap_propose"}`))
	require.Error(t, err)

	_, err = Decode([]byte(`{"type":42}`))
	require.Error(t, err)
}
