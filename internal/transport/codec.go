package transport

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	peoplecounter "github.com/e7canasta/orion-care-sensor/modules/people-counter"
)

// Payload encodings accepted in configuration.
const (
	EncodingJSON    = "json"
	EncodingMsgpack = "msgpack"
)

// Marshaler returns the payload encoder for encoding. Empty means JSON.
func Marshaler(encoding string) (peoplecounter.MarshalFunc, error) {
	switch encoding {
	case "", EncodingJSON:
		return json.Marshal, nil
	case EncodingMsgpack:
		return msgpack.Marshal, nil
	default:
		return nil, fmt.Errorf("transport: unknown encoding %q (must be %s or %s)",
			encoding, EncodingJSON, EncodingMsgpack)
	}
}
