package codec

import (
	"errors"
	"testing"
	"time"
)

type record struct {
	ID        string    `json:"id" msgpack:"id" cbor:"id"`
	Body      []byte    `json:"body" msgpack:"body" cbor:"body"`
	CreatedAt time.Time `json:"created_at" msgpack:"created_at" cbor:"created_at"`
}

func mustCBOR(t *testing.T, deterministic bool) CBOR[record] {
	t.Helper()
	c, err := NewCBOR[record](deterministic)
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestCodecsPreserveRecord(t *testing.T) {
	in := record{ID: "m-1", Body: []byte(`{"room":"kitchen"}`), CreatedAt: time.Unix(1700000000, 0).UTC()}

	codecs := map[string]Codec[record]{
		"json":     JSON[record]{},
		"msgpack":  Msgpack[record]{},
		"cbor":     mustCBOR(t, false),
		"cbor-det": mustCBOR(t, true),
	}
	for name, c := range codecs {
		t.Run(name, func(t *testing.T) {
			b, err := c.Encode(in)
			if err != nil {
				t.Fatalf("encode: %v", err)
			}
			out, err := c.Decode(b)
			if err != nil {
				t.Fatalf("decode: %v", err)
			}
			if out.ID != in.ID || string(out.Body) != string(in.Body) || !out.CreatedAt.Equal(in.CreatedAt) {
				t.Fatalf("got %+v want %+v", out, in)
			}
		})
	}
}

func TestCBORKeepsNanosAndRejectsDuplicateKeys(t *testing.T) {
	c := mustCBOR(t, true)
	in := record{ID: "m-1", CreatedAt: time.Unix(1700000000, 42)}
	a, _ := c.Encode(in)
	b, _ := c.Encode(in)
	if string(a) != string(b) {
		t.Fatalf("deterministic encoding differs")
	}
	out, err := c.Decode(a)
	if err != nil || !out.CreatedAt.Equal(in.CreatedAt) {
		t.Fatalf("out=%+v err=%v", out, err)
	}

	// {"id":"a","id":"b"}
	dup := []byte{0xa2, 0x62, 'i', 'd', 0x61, 'a', 0x62, 'i', 'd', 0x61, 'b'}
	if _, err := c.Decode(dup); err == nil {
		t.Fatalf("duplicate keys accepted")
	}
}

func TestLimitCodecRejectsOversized(t *testing.T) {
	c := LimitCodec[record]{Inner: JSON[record]{}, MaxDecode: 16}
	if _, err := c.Decode([]byte(`{"id":"0123456789abcdef"}`)); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
	v, err := c.Decode([]byte(`{"id":"m-2"}`))
	if err != nil || v.ID != "m-2" {
		t.Fatalf("small decode: v=%+v err=%v", v, err)
	}
}

func TestByName(t *testing.T) {
	for _, name := range append([]string{""}, Names...) {
		c, err := ByName[record](name)
		if err != nil {
			t.Fatalf("%q: %v", name, err)
		}
		b, err := c.Encode(record{ID: "x"})
		if err != nil {
			t.Fatal(err)
		}
		if out, err := c.Decode(b); err != nil || out.ID != "x" {
			t.Fatalf("%q: out=%+v err=%v", name, out, err)
		}
	}
	if _, err := ByName[record]("gob"); err == nil {
		t.Fatalf("unknown codec accepted")
	}
}
