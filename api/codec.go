package api

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/snappy"
)

// Encode marshals a message to JSON and compresses it with snappy.
func Encode(msg any) ([]byte, error) {
	marshalled, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal message: %w", err)
	}
	return snappy.Encode(nil, marshalled), nil
}

// Decode reverses Encode.
func Decode(data []byte, msg any) error {
	decompressed, err := snappy.Decode(nil, data)
	if err != nil {
		return fmt.Errorf("failed to decompress message: %w", err)
	}
	if err := json.Unmarshal(decompressed, msg); err != nil {
		return fmt.Errorf("failed to unmarshal message: %w", err)
	}
	return nil
}

// PeekHeader decodes only the header of a streaming message.
func PeekHeader(data []byte) (Header, error) {
	var h Header
	err := Decode(data, &h)
	return h, err
}
