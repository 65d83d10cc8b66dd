package internal

import (
	"encoding/json"
)

// Marshal converts a payload into bytes for the wire or the cache.
// Raw byte and string payloads pass through untouched, everything else is JSON.
func Marshal(payload any) ([]byte, error) {
	switch v := payload.(type) {
	case []byte:
		return v, nil
	case json.RawMessage:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return json.Marshal(payload)
	}
}

// Unmarshal fills holder from data. Holder must be a pointer.
func Unmarshal(data []byte, holder any) error {
	switch v := holder.(type) {
	case *[]byte:
		*v = data
		return nil
	case *json.RawMessage:
		*v = json.RawMessage(data)
		return nil
	case *string:
		*v = string(data)
		return nil
	default:
		return json.Unmarshal(data, holder)
	}
}
