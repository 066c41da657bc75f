package wire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"time"
)

const (
	version   byte = 1
	kindEntry byte = 1
	kindIndex byte = 2
)

var (
	ErrCorrupt   = errors.New("fieldsync: corrupt entry")
	ErrKeyLength = errors.New("fieldsync: invalid key length in index")
	magic4       = [...]byte{'F', 'S', 'Y', 'N'}
)

func hasMagic(b []byte) bool {
	return len(b) >= 4 && bytes.Equal(b[:4], magic4[:])
}

// Entry: magic(4) | ver(1) | kind(1=entry) | gen(u64 be) | captured(i64 be, unix nanos) | vlen(u32 be) | payload(vlen)
func EncodeEntry(gen uint64, captured time.Time, payload []byte) []byte {
	var buf bytes.Buffer
	buf.Grow(4 + 1 + 1 + 8 + 8 + 4 + len(payload))

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindEntry)

	var u8 [8]byte
	var u4 [4]byte

	binary.BigEndian.PutUint64(u8[:], gen)
	buf.Write(u8[:])

	var nanos int64
	if !captured.IsZero() {
		nanos = captured.UnixNano()
	}
	binary.BigEndian.PutUint64(u8[:], uint64(nanos))
	buf.Write(u8[:])

	binary.BigEndian.PutUint32(u4[:], uint32(len(payload)))
	buf.Write(u4[:])

	buf.Write(payload)
	return buf.Bytes()
}

// DecodeEntry is strict: trailing bytes after the payload are rejected.
func DecodeEntry(b []byte) (gen uint64, captured time.Time, payload []byte, err error) {
	const hdr = 4 + 1 + 1 + 8 + 8 + 4
	if len(b) < hdr || !hasMagic(b) || b[4] != version || b[5] != kindEntry {
		return 0, time.Time{}, nil, ErrCorrupt
	}

	off := 6

	gen = binary.BigEndian.Uint64(b[off : off+8])
	off += 8

	if nanos := int64(binary.BigEndian.Uint64(b[off : off+8])); nanos != 0 {
		captured = time.Unix(0, nanos)
	}
	off += 8

	vlen := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	if vlen < 0 || vlen != len(b)-off {
		return 0, time.Time{}, nil, ErrCorrupt
	}

	return gen, captured, b[off : off+vlen], nil
}

// Index:
//
//	magic(4) | ver(1) | kind(2=index) | n(u32 be)
//	keyLen(u16 be) | key(keyLen) * n
//
// Used for the namespace list and the per-namespace key list.
func EncodeIndex(keys []string) ([]byte, error) {
	total := 4 + 1 + 1 + 4
	for _, k := range keys {
		if l := len(k); l == 0 || l > 0xFFFF {
			return nil, ErrKeyLength
		}
		total += 2 + len(k)
	}

	var buf bytes.Buffer
	buf.Grow(total)

	buf.Write(magic4[:])
	buf.WriteByte(version)
	buf.WriteByte(kindIndex)

	var u4 [4]byte
	var u2 [2]byte

	binary.BigEndian.PutUint32(u4[:], uint32(len(keys)))
	buf.Write(u4[:])

	for _, k := range keys {
		binary.BigEndian.PutUint16(u2[:], uint16(len(k)))
		buf.Write(u2[:])
		buf.WriteString(k)
	}
	return buf.Bytes(), nil
}

func DecodeIndex(b []byte) ([]string, error) {
	const hdr = 4 + 1 + 1 + 4
	if len(b) < hdr || !hasMagic(b) || b[4] != version || b[5] != kindIndex {
		return nil, ErrCorrupt
	}

	off := 6
	n := int(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	// every key needs at least 3 bytes; reject counts the buffer cannot hold
	if n < 0 || n > (len(b)-off)/3 {
		return nil, ErrCorrupt
	}

	keys := make([]string, 0, n)
	for i := 0; i < n; i++ {
		if off+2 > len(b) {
			return nil, ErrCorrupt
		}
		klen := int(binary.BigEndian.Uint16(b[off : off+2]))
		off += 2
		if klen <= 0 || klen > len(b)-off {
			return nil, ErrCorrupt
		}
		keys = append(keys, string(b[off:off+klen]))
		off += klen
	}
	if off != len(b) {
		return nil, ErrCorrupt
	}
	return keys, nil
}
