package codec

import "fmt"

// Names lists the codecs ByName knows.
var Names = []string{"msgpack", "json", "cbor"}

// ByName returns the codec registered under name. "" means msgpack.
func ByName[V any](name string) (Codec[V], error) {
	switch name {
	case "", "msgpack":
		return Msgpack[V]{}, nil
	case "json":
		return JSON[V]{}, nil
	case "cbor":
		return NewCBOR[V](false)
	}
	return nil, fmt.Errorf("codec: unknown codec %q", name)
}
