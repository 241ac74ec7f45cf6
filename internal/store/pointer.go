package store

import (
	"encoding/json"

	"github.com/jra3/contexthub/internal/errs"
)

// encodePointer serializes a Pointer into the opaque container payload
// the CRDT carries (spec §3: "nested maps (pointer containers)").
func encodePointer(p Pointer) ([]byte, error) {
	b, err := json.Marshal(p)
	if err != nil {
		return nil, errs.Wrap("store.encode_pointer", errs.Serialization, err)
	}
	return b, nil
}

func decodePointer(payload []byte) (Pointer, error) {
	var p Pointer
	if err := json.Unmarshal(payload, &p); err != nil {
		return Pointer{}, errs.Wrap("store.decode_pointer", errs.Serialization, err)
	}
	return p, nil
}
