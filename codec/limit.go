package codec

import (
	"errors"
	"fmt"
)

// ErrTooLarge is matched by errors returned from Limit.
var ErrTooLarge = errors.New("codec: payload too large")

// Limit wraps Inner and rejects payloads over the configured sizes, on Decode
// (input from a shared cache or a remote you do not control) and on Encode
// (values your own providers would refuse). A limit <= 0 disables that check.
type Limit[V any] struct {
	Inner     Codec[V]
	MaxEncode int
	MaxDecode int
}

func (c Limit[V]) Encode(v V) ([]byte, error) {
	b, err := c.Inner.Encode(v)
	if err != nil {
		return nil, err
	}
	if c.MaxEncode > 0 && len(b) > c.MaxEncode {
		return nil, fmt.Errorf("%w: encoded %d > %d", ErrTooLarge, len(b), c.MaxEncode)
	}
	return b, nil
}

func (c Limit[V]) Decode(b []byte) (V, error) {
	if c.MaxDecode > 0 && len(b) > c.MaxDecode {
		var zero V
		return zero, fmt.Errorf("%w: %d > %d", ErrTooLarge, len(b), c.MaxDecode)
	}
	return c.Inner.Decode(b)
}

func (c Limit[V]) ContentType() string {
	return ContentTypeOf(c.Inner, "application/octet-stream")
}
