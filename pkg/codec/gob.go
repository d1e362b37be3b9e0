package codec

import (
	"bytes"
	"encoding/gob"
)

// Gob encodes payloads with encoding/gob.
type Gob struct{}

// Name returns the registered name of the codec.
func (Gob) Name() string { return GobType }

// Marshal serializes v using gob encoding.
func (Gob) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes gob data into v.
func (Gob) Unmarshal(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}
