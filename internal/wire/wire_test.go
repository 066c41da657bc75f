package wire

import (
	"bytes"
	"encoding/binary"
	"math"
	"strings"
	"testing"
	"time"
)

func mustDecodeEntry(t *testing.T, b []byte) (uint64, time.Time, []byte) {
	t.Helper()
	gen, captured, p, err := DecodeEntry(b)
	if err != nil {
		t.Fatalf("DecodeEntry error: %v", err)
	}
	return gen, captured, p
}

func TestEntryRTEmptyAndNonEmpty(t *testing.T) {
	now := time.Unix(1700000000, 123456789)
	cases := []struct {
		gen      uint64
		captured time.Time
		payload  []byte
	}{
		{0, time.Time{}, nil},
		{42, now, []byte("hello")},
		{math.MaxUint64, now, []byte{0, 1, 2, 3, 4}},
	}
	for _, tc := range cases {
		enc := EncodeEntry(tc.gen, tc.captured, tc.payload)
		gen, captured, p := mustDecodeEntry(t, enc)
		if gen != tc.gen {
			t.Fatalf("gen mismatch: got %d want %d", gen, tc.gen)
		}
		if !captured.Equal(tc.captured) {
			t.Fatalf("captured mismatch: got %v want %v", captured, tc.captured)
		}
		if !bytes.Equal(p, tc.payload) {
			t.Fatalf("payload mismatch: got %x want %x", p, tc.payload)
		}
	}
}

func TestEntryRejectsTrailingBytes(t *testing.T) {
	enc := EncodeEntry(7, time.Now(), []byte("x"))
	enc = append(enc, 0xDE, 0xAD)
	if _, _, _, err := DecodeEntry(enc); err == nil {
		t.Fatalf("expected error on trailing bytes")
	}
}

func TestEntryCorruptHeadersAndLengths(t *testing.T) {
	enc := EncodeEntry(1, time.Now(), []byte("abc"))

	badMagic := append([]byte(nil), enc...)
	badMagic[0] = 'X'
	if _, _, _, err := DecodeEntry(badMagic); err == nil {
		t.Fatalf("expected error on bad magic")
	}

	badVer := append([]byte(nil), enc...)
	badVer[4] = version + 1
	if _, _, _, err := DecodeEntry(badVer); err == nil {
		t.Fatalf("expected error on bad version")
	}

	badKind := append([]byte(nil), enc...)
	badKind[5] = kindIndex
	if _, _, _, err := DecodeEntry(badKind); err == nil {
		t.Fatalf("expected error on bad kind")
	}

	// vlen is at offset 22..25 (4 magic +1 ver +1 kind +8 gen +8 captured)
	tooLong := append([]byte(nil), enc...)
	binary.BigEndian.PutUint32(tooLong[22:26], uint32(len("abc")+1))
	if _, _, _, err := DecodeEntry(tooLong); err == nil {
		t.Fatalf("expected error on vlen beyond buffer")
	}

	trunc := enc[:len(enc)-1]
	if _, _, _, err := DecodeEntry(trunc); err == nil {
		t.Fatalf("expected error on truncated buffer")
	}
}

func TestIndexRoundTrip(t *testing.T) {
	cases := [][]string{
		nil,
		{"fieldsync-api-v1"},
		{"GET https://app.test/a", "GET https://app.test/b?x=1", "dup", "dup"},
	}
	for _, keys := range cases {
		enc, err := EncodeIndex(keys)
		if err != nil {
			t.Fatalf("EncodeIndex: %v", err)
		}
		got, err := DecodeIndex(enc)
		if err != nil {
			t.Fatalf("DecodeIndex: %v", err)
		}
		if len(got) != len(keys) {
			t.Fatalf("len mismatch: got %d want %d", len(got), len(keys))
		}
		for i := range keys {
			if got[i] != keys[i] {
				t.Fatalf("key %d mismatch: got %q want %q", i, got[i], keys[i])
			}
		}
	}
}

func TestIndexRejectsTrailingBytes(t *testing.T) {
	enc, err := EncodeIndex([]string{"k"})
	if err != nil {
		t.Fatalf("EncodeIndex: %v", err)
	}
	enc = append(enc, 0xBE, 0xEF)
	if _, err := DecodeIndex(enc); err == nil {
		t.Fatalf("expected error on trailing bytes")
	}
}

func TestIndexBogusCount(t *testing.T) {
	var buf bytes.Buffer
	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindIndex)
	var u4 [4]byte
	binary.BigEndian.PutUint32(u4[:], ^uint32(0))
	buf.Write(u4[:])
	if _, err := DecodeIndex(buf.Bytes()); err == nil {
		t.Fatalf("expected error on bogus n with insufficient bytes")
	}

	// klen announces more than available
	enc, _ := EncodeIndex([]string{"k"})
	binary.BigEndian.PutUint16(enc[10:12], 5)
	if _, err := DecodeIndex(enc); err == nil {
		t.Fatalf("expected error on klen beyond buffer")
	}
}

func TestIndexKeyLengthValidation(t *testing.T) {
	if _, err := EncodeIndex([]string{""}); err == nil {
		t.Fatalf("expected error on empty key")
	}
	if _, err := EncodeIndex([]string{strings.Repeat("a", 0x10000)}); err == nil {
		t.Fatalf("expected error on key length > 0xFFFF")
	}
	if _, err := EncodeIndex([]string{strings.Repeat("b", 0xFFFF)}); err != nil {
		t.Fatalf("boundary key length should succeed: %v", err)
	}
}
