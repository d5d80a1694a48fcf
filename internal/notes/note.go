package notes

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"gitlab.com/distributed_lab/logan/v3/errors"
)

// MaxNoteSize is the ledger's cap on transaction note bytes.
const MaxNoteSize = 1024

// Note is one typed message carried in a transaction note. The wire form
// is compact JSON with the "type" key first, so indexer note-prefix
// filters can select a whole message family by its leading bytes.
type Note struct {
	Type string
	Body map[string]json.Number
	raw  map[string]interface{}
}

// Prefix returns the leading note bytes shared by every message whose type
// starts with family (for example "swap_" or "htlc_").
func Prefix(family string) []byte {
	return []byte(`{"type":"` + family)
}

// Encode serializes a note canonically: compact separators, "type" first,
// remaining keys sorted. Fails when the result exceeds MaxNoteSize.
func Encode(noteType string, body map[string]interface{}) ([]byte, error) {
	if noteType == "" {
		return nil, errors.New("note type is required")
	}

	typeValue, err := json.Marshal(noteType)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal note type")
	}

	var buf bytes.Buffer
	buf.WriteString(`{"type":`)
	buf.Write(typeValue)

	if len(body) > 0 {
		rest, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal note body")
		}
		buf.WriteByte(',')
		buf.Write(rest[1:]) // body already carries the closing brace
	} else {
		buf.WriteByte('}')
	}

	raw := buf.Bytes()
	if len(raw) > MaxNoteSize {
		return nil, errors.New(fmt.Sprintf("note exceeds %d bytes (%d)", MaxNoteSize, len(raw)))
	}
	return raw, nil
}

// Decode parses a note. Returns an error for notes that are not JSON
// objects with a string "type" field.
func Decode(raw []byte) (*Note, error) {
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()

	var fields map[string]interface{}
	if err := decoder.Decode(&fields); err != nil {
		return nil, errors.Wrap(err, "note is not a json object")
	}

	noteType, ok := fields["type"].(string)
	if !ok || noteType == "" {
		return nil, errors.New("note has no type field")
	}

	note := &Note{Type: noteType, Body: make(map[string]json.Number), raw: fields}
	for key, value := range fields {
		if key == "type" {
			continue
		}
		if num, ok := value.(json.Number); ok {
			note.Body[key] = num
		}
	}
	return note, nil
}

// Str returns a string field of the note body, empty when absent.
func (n *Note) Str(key string) string {
	s, _ := n.raw[key].(string)
	return s
}

// Uint returns a numeric field of the note body, 0 when absent or not a
// non-negative integer.
func (n *Note) Uint(key string) uint64 {
	num, ok := n.Body[key]
	if !ok {
		return 0
	}
	v, err := strconv.ParseUint(num.String(), 10, 64)
	if err != nil {
		return 0
	}
	return v
}

// Has reports whether the note body carries the key.
func (n *Note) Has(key string) bool {
	_, ok := n.raw[key]
	return ok
}
