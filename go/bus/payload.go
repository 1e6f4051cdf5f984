package bus

import (
	"github.com/pkg/errors"
)

// Payload is a decoded message body. Values are int64, uint64, bool, string,
// []byte, nil, or []interface{} of those.
type Payload map[string]interface{}

func (p Payload) Uint(key string) (uint64, error) {
	switch v := p[key].(type) {
	case uint64:
		return v, nil
	case int64:
		return uint64(v), nil
	case int:
		return uint64(v), nil
	case uint32:
		return uint64(v), nil
	case uint8:
		return uint64(v), nil
	case bool:
		if v {
			return 1, nil
		}
		return 0, nil
	case nil:
		return 0, errors.Errorf("payload missing %q", key)
	default:
		return 0, errors.Errorf("payload %q: expected integer, got %T", key, v)
	}
}

func (p Payload) String(key string) (string, error) {
	switch v := p[key].(type) {
	case string:
		return v, nil
	case []byte:
		return string(v), nil
	case nil:
		return "", errors.Errorf("payload missing %q", key)
	default:
		return "", errors.Errorf("payload %q: expected string, got %T", key, v)
	}
}

// Bytes accepts raw bytes, strings, and integer lists.
func (p Payload) Bytes(key string) ([]byte, error) {
	switch v := p[key].(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case []interface{}:
		out := make([]byte, len(v))
		for i, e := range v {
			n, err := Payload{"": e}.Uint("")
			if err != nil {
				return nil, errors.Wrapf(err, "payload %q[%d]", key, i)
			}
			out[i] = byte(n)
		}
		return out, nil
	case nil:
		return nil, errors.Errorf("payload missing %q", key)
	default:
		return nil, errors.Errorf("payload %q: expected bytes, got %T", key, v)
	}
}

// List returns a list value, with nil entries kept as nil.
func (p Payload) List(key string) ([]interface{}, error) {
	switch v := p[key].(type) {
	case []interface{}:
		return v, nil
	case []byte:
		out := make([]interface{}, len(v))
		for i, b := range v {
			out[i] = uint64(b)
		}
		return out, nil
	case nil:
		return nil, errors.Errorf("payload missing %q", key)
	default:
		return nil, errors.Errorf("payload %q: expected list, got %T", key, v)
	}
}

// Message is one frame on the bus.
type Message struct {
	Topic   string
	Payload Payload
}
