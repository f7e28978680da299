// Package codec abstracts the byte-sequence encoding used for event
// payloads and stored state. The engine treats it as a black box
package codec

import (
	"encoding/json"
	"errors"
	"fmt"
)

type (
	// Codec encodes and decodes opaque payloads
	Codec interface {
		Encode(v any) ([]byte, error)
		Decode(data []byte, v any) error
	}

	jsonCodec struct{}
)

var (
	ErrEncode = errors.New("failed to encode payload")
	ErrDecode = errors.New("failed to decode payload")
)

// JSON returns the default JSON-backed codec
func JSON() Codec {
	return jsonCodec{}
}

func (jsonCodec) Encode(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncode, err)
	}
	return data, nil
}

func (jsonCodec) Decode(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %w", ErrDecode, err)
	}
	return nil
}
