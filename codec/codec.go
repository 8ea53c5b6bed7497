// Package codec implements the deterministic, big-endian binary encoding
// used for every packet payload: fixed-width primitives, Option, Duration,
// and the schema-derived Record / tagged-union shapes built on top of them.
//
// There is no reflection-based derivation here; each payload type in
// package packet writes and reads its own fields in declared order using
// the Writer/Reader in this package, the same way inetdiag's wire structs
// serialize themselves field-by-field.
package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"
	"unicode/utf8"
)

// Error is the single error kind every codec failure surfaces as.
type Error struct {
	Msg string
}

func (e *Error) Error() string { return "codec error: " + e.Msg }

func errf(format string, args ...interface{}) error {
	return &Error{Msg: fmt.Sprintf(format, args...)}
}

// ErrInsufficientBytes names the failure of a decode call that does not
// have enough remaining input for the field being read. Its text is
// formatted into the message of the *Error that call returns; the *Error
// does not wrap it, so errors.Is does not match it.
var ErrInsufficientBytes = errors.New("insufficient bytes")

// Uint128 and Int128 hold 128-bit integers as 16-byte big-endian buffers.
// Go has no native 128-bit integer type; callers that need arithmetic on
// these should convert through math/big.
type Uint128 [16]byte
type Int128 [16]byte

// Writer accumulates an encoded payload. Its zero value is ready to use.
type Writer struct {
	buf bytes.Buffer
}

// NewWriter returns a Writer with a pre-sized backing buffer.
func NewWriter(sizeHint int) *Writer {
	w := &Writer{}
	w.buf.Grow(sizeHint)
	return w
}

// Bytes returns the accumulated encoding.
func (w *Writer) Bytes() []byte { return w.buf.Bytes() }

func (w *Writer) WriteUint8(v uint8)   { w.buf.WriteByte(v) }
func (w *Writer) WriteInt8(v int8)     { w.buf.WriteByte(byte(v)) }
func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf.WriteByte(1)
	} else {
		w.buf.WriteByte(0)
	}
}

func (w *Writer) WriteUint16(v uint16) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	w.buf.Write(b[:])
}

func (w *Writer) WriteInt16(v int16) { w.WriteUint16(uint16(v)) }

func (w *Writer) WriteUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.buf.Write(b[:])
}

func (w *Writer) WriteInt32(v int32) { w.WriteUint32(uint32(v)) }

func (w *Writer) WriteUint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.buf.Write(b[:])
}

func (w *Writer) WriteInt64(v int64) { w.WriteUint64(uint64(v)) }

// WriteUsize/WriteIsize encode as 64-bit; Go has no distinct size type.
func (w *Writer) WriteUsize(v uint64) { w.WriteUint64(v) }
func (w *Writer) WriteIsize(v int64)  { w.WriteInt64(v) }

func (w *Writer) WriteFloat32(v float32) { w.WriteUint32(math.Float32bits(v)) }
func (w *Writer) WriteFloat64(v float64) { w.WriteUint64(math.Float64bits(v)) }

func (w *Writer) WriteUint128(v Uint128) { w.buf.Write(v[:]) }
func (w *Writer) WriteInt128(v Int128)   { w.buf.Write(v[:]) }

// WriteDuration encodes 8 bytes of whole seconds followed by 4 bytes of
// nanoseconds-within-the-second, matching the wire Duration shape.
func (w *Writer) WriteDuration(d time.Duration) {
	secs := uint64(d / time.Second)
	nanos := uint32(d % time.Second)
	w.WriteUint64(secs)
	w.WriteUint32(nanos)
}

// WriteString appends raw UTF-8 bytes. Per the codec's placement rule, a
// String field must be last in its schema: it consumes the remainder on
// decode.
func (w *Writer) WriteString(s string) { w.buf.WriteString(s) }

// WriteBytes appends raw bytes; same trailing-field rule as WriteString.
func (w *Writer) WriteBytes(b []byte) { w.buf.Write(b) }

// WriteOption writes the presence tag and, if present, invokes encode to
// append the wrapped value.
func (w *Writer) WriteOption(present bool, encode func(*Writer)) {
	if present {
		w.WriteUint8(1)
		encode(w)
	} else {
		w.WriteUint8(0)
	}
}

// Reader decodes fields off the front of a fixed byte slice in order.
type Reader struct {
	buf []byte
	pos int
}

// NewReader wraps buf for sequential field decoding.
func NewReader(buf []byte) *Reader { return &Reader{buf: buf} }

// Remaining returns the number of unread bytes.
func (r *Reader) Remaining() int { return len(r.buf) - r.pos }

// Consumed returns how many bytes have been read so far.
func (r *Reader) Consumed() int { return r.pos }

func (r *Reader) need(n int) error {
	if r.Remaining() < n {
		return errf("%v: need %d bytes, have %d", ErrInsufficientBytes, n, r.Remaining())
	}
	return nil
}

func (r *Reader) take(n int) []byte {
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b
}

func (r *Reader) ReadUint8() (uint8, error) {
	if err := r.need(1); err != nil {
		return 0, err
	}
	return r.take(1)[0], nil
}

func (r *Reader) ReadInt8() (int8, error) {
	v, err := r.ReadUint8()
	return int8(v), err
}

func (r *Reader) ReadBool() (bool, error) {
	v, err := r.ReadUint8()
	if err != nil {
		return false, err
	}
	return v != 0, nil
}

func (r *Reader) ReadUint16() (uint16, error) {
	if err := r.need(2); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(r.take(2)), nil
}

func (r *Reader) ReadInt16() (int16, error) {
	v, err := r.ReadUint16()
	return int16(v), err
}

func (r *Reader) ReadUint32() (uint32, error) {
	if err := r.need(4); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(r.take(4)), nil
}

func (r *Reader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

func (r *Reader) ReadUint64() (uint64, error) {
	if err := r.need(8); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(r.take(8)), nil
}

func (r *Reader) ReadInt64() (int64, error) {
	v, err := r.ReadUint64()
	return int64(v), err
}

func (r *Reader) ReadUsize() (uint64, error) { return r.ReadUint64() }
func (r *Reader) ReadIsize() (int64, error)  { return r.ReadInt64() }

func (r *Reader) ReadFloat32() (float32, error) {
	v, err := r.ReadUint32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

func (r *Reader) ReadFloat64() (float64, error) {
	v, err := r.ReadUint64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}

func (r *Reader) ReadUint128() (Uint128, error) {
	var out Uint128
	if err := r.need(16); err != nil {
		return out, err
	}
	copy(out[:], r.take(16))
	return out, nil
}

func (r *Reader) ReadInt128() (Int128, error) {
	var out Int128
	if err := r.need(16); err != nil {
		return out, err
	}
	copy(out[:], r.take(16))
	return out, nil
}

// ReadDuration decodes the 8-byte-seconds + 4-byte-nanoseconds shape.
func (r *Reader) ReadDuration() (time.Duration, error) {
	secs, err := r.ReadUint64()
	if err != nil {
		return 0, err
	}
	nanos, err := r.ReadUint32()
	if err != nil {
		return 0, err
	}
	return time.Duration(secs)*time.Second + time.Duration(nanos), nil
}

// ReadString consumes all remaining bytes as UTF-8. Call this only as the
// last field of a schema.
func (r *Reader) ReadString() (string, error) {
	b := r.take(r.Remaining())
	if !utf8.Valid(b) {
		return "", errf("invalid UTF-8 in string field")
	}
	return string(b), nil
}

// ReadBytes consumes all remaining bytes verbatim. Call this only as the
// last field of a schema.
func (r *Reader) ReadBytes() []byte {
	return r.take(r.Remaining())
}

// ReadOption reads the presence tag and, if present, invokes decode.
func (r *Reader) ReadOption(decode func(*Reader) error) (bool, error) {
	tag, err := r.ReadUint8()
	if err != nil {
		return false, err
	}
	if tag == 0 {
		return false, nil
	}
	if err := decode(r); err != nil {
		return false, err
	}
	return true, nil
}
