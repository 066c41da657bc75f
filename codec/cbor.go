package codec

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// CBOR encodes with fxamacker/cbor. Build it with NewCBOR; the zero value has
// no modes and panics on use.
//
// Times are written as RFC3339Nano strings so a mutation's CreatedAt keeps its
// nanoseconds and FIFO order survives a round trip. Decoding rejects duplicate
// map keys: a record that has them was not written by Encode.
type CBOR[V any] struct {
	em cbor.EncMode
	dm cbor.DecMode
}

var _ Codec[struct{}] = CBOR[struct{}]{}

// NewCBOR builds the codec. deterministic selects RFC 8949 core deterministic
// encoding, so equal values always produce equal bytes.
func NewCBOR[V any](deterministic bool) (CBOR[V], error) {
	eo := cbor.PreferredUnsortedEncOptions()
	if deterministic {
		eo = cbor.CoreDetEncOptions()
	}
	eo.Time = cbor.TimeRFC3339Nano

	em, err := eo.EncMode()
	if err != nil {
		return CBOR[V]{}, fmt.Errorf("codec: cbor encoder: %w", err)
	}
	dm, err := cbor.DecOptions{DupMapKey: cbor.DupMapKeyEnforcedAPF}.DecMode()
	if err != nil {
		return CBOR[V]{}, fmt.Errorf("codec: cbor decoder: %w", err)
	}
	return CBOR[V]{em: em, dm: dm}, nil
}

func (c CBOR[V]) Encode(v V) ([]byte, error) { return c.em.Marshal(v) }

func (c CBOR[V]) Decode(b []byte) (V, error) {
	var v V
	err := c.dm.Unmarshal(b, &v)
	return v, err
}
