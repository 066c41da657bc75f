// Package codec converts values to and from the bytes handed to a provider.
//
// The cache store encodes response snapshots with Msgpack by default; the
// badger mutation store encodes queue records with CBOR. Any Codec[V] can be
// swapped in through the corresponding Options.
package codec

// Codec encodes/decodes values V to []byte for storage.
type Codec[V any] interface {
	Encode(V) ([]byte, error)
	Decode([]byte) (V, error)
}
