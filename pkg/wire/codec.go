// Package wire implements the Bitcoin peer-to-peer wire codec consumed by
// the synchronization core (§6.1): little-endian primitives, the
// CompactInteger varint, bounded-list reads, and the message payload types.
package wire

import (
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/btcsync-io/btcsyncd/pkg/model"
)

// ErrMalformed is returned for any structurally invalid wire data: a
// CompactInteger that doesn't match its prefix form, a list exceeding its
// declared cap, an unknown inventory type tag, or a short read. It maps
// directly onto the Malformed taxonomy entry of §7.
var ErrMalformed = errors.New("wire: malformed data")

// Writer accumulates an outbound message payload.
type Writer struct {
	buf []byte
}

// NewWriter returns an empty Writer.
func NewWriter() *Writer { return &Writer{} }

// Bytes returns the accumulated payload.
func (w *Writer) Bytes() []byte { return w.buf }

func (w *Writer) putUint8(v uint8)   { w.buf = append(w.buf, v) }
func (w *Writer) putUint16(v uint16) { w.buf = binary.LittleEndian.AppendUint16(w.buf, v) }
func (w *Writer) putUint32(v uint32) { w.buf = binary.LittleEndian.AppendUint32(w.buf, v) }
func (w *Writer) putUint64(v uint64) { w.buf = binary.LittleEndian.AppendUint64(w.buf, v) }

// PutHash appends a 32-byte hash, raw, no length prefix.
func (w *Writer) PutHash(h model.Hash) { w.buf = append(w.buf, h[:]...) }

// PutBytes appends a length-prefixed (CompactInteger) byte string.
func (w *Writer) PutBytes(b []byte) {
	w.PutCompactInt(uint64(len(b)))
	w.buf = append(w.buf, b...)
}

// PutCompactInt appends v using Bitcoin's CompactSize (a.k.a. VarInt)
// encoding: values below 0xfd encode as a single byte; 0xfd/0xfe/0xff
// prefix a 2/4/8-byte little-endian value respectively.
func (w *Writer) PutCompactInt(v uint64) {
	switch {
	case v < 0xfd:
		w.putUint8(uint8(v))
	case v <= 0xffff:
		w.putUint8(0xfd)
		w.putUint16(uint16(v))
	case v <= 0xffffffff:
		w.putUint8(0xfe)
		w.putUint32(uint32(v))
	default:
		w.putUint8(0xff)
		w.putUint64(v)
	}
}

// Reader parses an inbound message payload.
type Reader struct {
	b   []byte
	pos int
}

// NewReader wraps b for sequential decoding.
func NewReader(b []byte) *Reader { return &Reader{b: b} }

func (r *Reader) take(n int) ([]byte, error) {
	if r.pos+n > len(r.b) {
		return nil, errors.Wrap(ErrMalformed, "short read")
	}
	out := r.b[r.pos : r.pos+n]
	r.pos += n
	return out, nil
}

func (r *Reader) Uint8() (uint8, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *Reader) Uint16() (uint16, error) {
	b, err := r.take(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *Reader) Uint32() (uint32, error) {
	b, err := r.take(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *Reader) Int32() (int32, error) {
	v, err := r.Uint32()
	return int32(v), err
}

func (r *Reader) Uint64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// Hash reads a raw 32-byte hash.
func (r *Reader) Hash() (model.Hash, error) {
	var h model.Hash
	b, err := r.take(32)
	if err != nil {
		return h, err
	}
	copy(h[:], b)
	return h, nil
}

// CompactInt reads a CompactSize-encoded integer (see Writer.PutCompactInt),
// rejecting non-canonical encodings (a value that fits in a shorter form
// but was encoded with a longer prefix), matching Bitcoin Core's strictness.
func (r *Reader) CompactInt() (uint64, error) {
	prefix, err := r.Uint8()
	if err != nil {
		return 0, err
	}
	switch prefix {
	case 0xfd:
		v, err := r.Uint16()
		if err != nil {
			return 0, err
		}
		if v < 0xfd {
			return 0, errors.Wrap(ErrMalformed, "non-canonical compact int")
		}
		return uint64(v), nil
	case 0xfe:
		v, err := r.Uint32()
		if err != nil {
			return 0, err
		}
		if v <= 0xffff {
			return 0, errors.Wrap(ErrMalformed, "non-canonical compact int")
		}
		return uint64(v), nil
	case 0xff:
		v, err := r.Uint64()
		if err != nil {
			return 0, err
		}
		if v <= 0xffffffff {
			return 0, errors.Wrap(ErrMalformed, "non-canonical compact int")
		}
		return v, nil
	default:
		return uint64(prefix), nil
	}
}

// Bytes reads a CompactInt-length-prefixed byte string, rejecting lengths
// beyond the remaining buffer (caught by take) and beyond maxLen. A
// zero-length string decodes to nil.
func (r *Reader) Bytes(maxLen uint64) ([]byte, error) {
	n, err := r.CompactInt()
	if err != nil {
		return nil, err
	}
	if n > maxLen {
		return nil, errors.Wrapf(ErrMalformed, "byte string length %d exceeds cap %d", n, maxLen)
	}
	if n == 0 {
		return nil, nil
	}
	return r.take(int(n))
}

// Remaining reports how many unread bytes are left in the buffer.
func (r *Reader) Remaining() int { return len(r.b) - r.pos }

// ReadListMax reads a CompactInt count followed by count elements, each
// decoded by decodeOne, refusing to proceed if count exceeds cap. This is
// the bounded-list primitive every multi-element message (inv, headers,
// getheaders locator, etc.) is built on, per §6.1.
func ReadListMax[T any](r *Reader, cap uint64, decodeOne func(*Reader) (T, error)) ([]T, error) {
	n, err := r.CompactInt()
	if err != nil {
		return nil, err
	}
	if n > cap {
		return nil, errors.Wrapf(ErrMalformed, "list length %d exceeds cap %d", n, cap)
	}
	out := make([]T, 0, n)
	for i := uint64(0); i < n; i++ {
		v, err := decodeOne(r)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// WriteList writes a CompactInt count followed by each element via encodeOne.
func WriteList[T any](w *Writer, items []T, encodeOne func(*Writer, T)) {
	w.PutCompactInt(uint64(len(items)))
	for _, it := range items {
		encodeOne(w, it)
	}
}

