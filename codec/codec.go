// Package codec turns entities into bytes for cache providers and remote sources.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}

// ContentTyper is implemented by codecs that know the media type of their output.
// HTTP remotes use it for Content-Type and Accept headers.
type ContentTyper interface {
	ContentType() string
}

// ContentTypeOf returns c's media type, or def if c does not declare one.
func ContentTypeOf[V any](c Codec[V], def string) string {
	if ct, ok := c.(ContentTyper); ok {
		return ct.ContentType()
	}
	return def
}
