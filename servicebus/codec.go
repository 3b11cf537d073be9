package servicebus

import "encoding/json"

// Codec is the Strategy for encoding/decoding event payloads on the wire.
// Implementations must round-trip: Unmarshal(Marshal(e)) yields a value equal to e.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
	ContentType() string
}

// JSONCodec is the default codec. Field names are kept as declared on the Go struct
// unless json tags say otherwise.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)   { return json.Marshal(v) }
func (JSONCodec) Unmarshal(b []byte, v any) error { return json.Unmarshal(b, v) }
func (JSONCodec) ContentType() string             { return "application/json" }

// decodeAs unmarshals payload into a fresh E and returns it by value.
func decodeAs[E any](c Codec, payload []byte) (any, error) {
	var v E
	if err := c.Unmarshal(payload, &v); err != nil {
		return nil, err
	}

	return v, nil
}
