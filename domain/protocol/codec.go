package protocol

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Encode serializes an application record for use as a packet payload.
func Encode[T any](value T) ([]byte, error) {
	data, err := encMode.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return data, nil
}

// Decode deserializes a packet payload into an application record.
func Decode[T any](data []byte) (T, error) {
	var value T
	if err := cbor.Unmarshal(data, &value); err != nil {
		return value, fmt.Errorf("decode payload: %w", err)
	}
	return value, nil
}

// EncodeString and DecodeString cover the common string payload, e.g.
// disconnect reasons. An empty input encodes to an empty payload.
func EncodeString(value string) ([]byte, error) {
	if value == "" {
		return nil, nil
	}
	return Encode(value)
}

func DecodeString(data []byte) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	return Decode[string](data)
}
