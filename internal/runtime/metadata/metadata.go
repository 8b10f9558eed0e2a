// Package metadata holds the header map that travels with every published
// envelope.
package metadata

import "github.com/ThreeDotsLabs/watermill/message"

// Headers represents the headers carried alongside a message.
type Headers map[string]string

func (h Headers) cloneWithExtra(extra int) Headers {
	size := len(h) + extra
	if size <= 0 {
		return Headers{}
	}

	cloned := make(Headers, size)
	for k, v := range h {
		cloned[k] = v
	}
	return cloned
}

// Clone returns a shallow copy of the header map. The result is never nil.
func (h Headers) Clone() Headers {
	return h.cloneWithExtra(0)
}

// With returns a cloned header map containing the provided key/value pair.
func (h Headers) With(key, value string) Headers {
	cloned := h.cloneWithExtra(1)
	cloned[key] = value
	return cloned
}

// WithAll returns a cloned header map where entries override existing keys.
func (h Headers) WithAll(entries Headers) Headers {
	cloned := h.cloneWithExtra(len(entries))
	for k, v := range entries {
		cloned[k] = v
	}
	return cloned
}

// Has reports whether key is present.
func (h Headers) Has(key string) bool {
	_, ok := h[key]
	return ok
}

// New constructs a Headers map from alternating key/value pairs.
func New(pairs ...string) Headers {
	h := make(Headers, len(pairs)/2)
	for i := 0; i < len(pairs)-1; i += 2 {
		h[pairs[i]] = pairs[i+1]
	}
	return h
}

// FromMap copies a plain map into Headers.
func FromMap(m map[string]string) Headers {
	return Headers(m).Clone()
}

// FromWatermill converts Watermill metadata into Headers.
func FromWatermill(md message.Metadata) Headers {
	if len(md) == 0 {
		return Headers{}
	}

	result := make(Headers, len(md))
	for k, v := range md {
		result[k] = v
	}
	return result
}

// ToWatermill converts Headers into a Watermill metadata map.
func ToWatermill(h Headers) message.Metadata {
	if len(h) == 0 {
		return message.Metadata{}
	}

	wm := make(message.Metadata, len(h))
	for k, v := range h {
		wm[k] = v
	}
	return wm
}
