// Package codec is the JSON codec for websocket frames and bus envelopes.
package codec

import jsoniter "github.com/json-iterator/go"

var (
	// JSON is drop-in compatible with encoding/json, including struct tags
	// and json.Marshaler implementations.
	JSON = jsoniter.ConfigCompatibleWithStandardLibrary

	Marshal    = JSON.Marshal
	Unmarshal  = JSON.Unmarshal
	NewDecoder = JSON.NewDecoder
	NewEncoder = JSON.NewEncoder
)

// RawMessage defers decoding of an embedded payload until the event type
// is known.
type RawMessage = jsoniter.RawMessage
