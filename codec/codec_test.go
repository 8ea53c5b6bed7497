package codec

import (
	"testing"
	"time"

	"github.com/go-test/deep"
)

func TestPrimitiveRoundTrip(t *testing.T) {
	w := NewWriter(64)
	w.WriteUint8(0xAB)
	w.WriteUint16(0x1234)
	w.WriteUint32(0xDEADBEEF)
	w.WriteUint64(0x0102030405060708)
	w.WriteInt8(-7)
	w.WriteInt16(-1200)
	w.WriteInt32(-70000)
	w.WriteInt64(-1 << 40)
	w.WriteBool(true)
	w.WriteBool(false)
	w.WriteFloat32(3.5)
	w.WriteFloat64(-2.25)
	w.WriteDuration(10*time.Second + 250*time.Millisecond)

	r := NewReader(w.Bytes())

	if v, err := r.ReadUint8(); err != nil || v != 0xAB {
		t.Fatalf("ReadUint8 = %v, %v", v, err)
	}
	if v, err := r.ReadUint16(); err != nil || v != 0x1234 {
		t.Fatalf("ReadUint16 = %v, %v", v, err)
	}
	if v, err := r.ReadUint32(); err != nil || v != 0xDEADBEEF {
		t.Fatalf("ReadUint32 = %v, %v", v, err)
	}
	if v, err := r.ReadUint64(); err != nil || v != 0x0102030405060708 {
		t.Fatalf("ReadUint64 = %v, %v", v, err)
	}
	if v, err := r.ReadInt8(); err != nil || v != -7 {
		t.Fatalf("ReadInt8 = %v, %v", v, err)
	}
	if v, err := r.ReadInt16(); err != nil || v != -1200 {
		t.Fatalf("ReadInt16 = %v, %v", v, err)
	}
	if v, err := r.ReadInt32(); err != nil || v != -70000 {
		t.Fatalf("ReadInt32 = %v, %v", v, err)
	}
	if v, err := r.ReadInt64(); err != nil || v != -1<<40 {
		t.Fatalf("ReadInt64 = %v, %v", v, err)
	}
	if v, err := r.ReadBool(); err != nil || v != true {
		t.Fatalf("ReadBool = %v, %v", v, err)
	}
	if v, err := r.ReadBool(); err != nil || v != false {
		t.Fatalf("ReadBool = %v, %v", v, err)
	}
	if v, err := r.ReadFloat32(); err != nil || v != 3.5 {
		t.Fatalf("ReadFloat32 = %v, %v", v, err)
	}
	if v, err := r.ReadFloat64(); err != nil || v != -2.25 {
		t.Fatalf("ReadFloat64 = %v, %v", v, err)
	}
	d, err := r.ReadDuration()
	if err != nil || d != 10*time.Second+250*time.Millisecond {
		t.Fatalf("ReadDuration = %v, %v", d, err)
	}
	if r.Remaining() != 0 {
		t.Fatalf("expected exact consumption, %d bytes left", r.Remaining())
	}
}

func TestStringConsumesRemainder(t *testing.T) {
	w := NewWriter(8)
	w.WriteUint16(7)
	w.WriteString("hello world")
	r := NewReader(w.Bytes())
	id, err := r.ReadUint16()
	if err != nil || id != 7 {
		t.Fatalf("ReadUint16 = %v, %v", id, err)
	}
	s, err := r.ReadString()
	if err != nil {
		t.Fatalf("ReadString: %v", err)
	}
	if s != "hello world" {
		t.Fatalf("got %q", s)
	}
}

func TestInvalidUTF8(t *testing.T) {
	r := NewReader([]byte{0xff, 0xfe, 0xfd})
	if _, err := r.ReadString(); err == nil {
		t.Fatal("expected invalid UTF-8 error")
	}
}

func TestOptionRoundTrip(t *testing.T) {
	w := NewWriter(8)
	w.WriteOption(true, func(w *Writer) { w.WriteUint32(42) })
	w.WriteOption(false, func(w *Writer) { w.WriteUint32(99) })

	r := NewReader(w.Bytes())
	var got uint32
	present, err := r.ReadOption(func(r *Reader) error {
		v, err := r.ReadUint32()
		got = v
		return err
	})
	if err != nil || !present || got != 42 {
		t.Fatalf("present=%v got=%v err=%v", present, got, err)
	}
	present, err = r.ReadOption(func(r *Reader) error {
		_, err := r.ReadUint32()
		return err
	})
	if err != nil || present {
		t.Fatalf("expected absent option, present=%v err=%v", present, err)
	}
}

func TestInsufficientBytes(t *testing.T) {
	r := NewReader([]byte{0x01, 0x02})
	if _, err := r.ReadUint32(); err == nil {
		t.Fatal("expected insufficient bytes error")
	}
}

func TestUint128RoundTrip(t *testing.T) {
	var in Uint128
	for i := range in {
		in[i] = byte(i)
	}
	w := NewWriter(16)
	w.WriteUint128(in)
	r := NewReader(w.Bytes())
	out, err := r.ReadUint128()
	if err != nil {
		t.Fatalf("ReadUint128: %v", err)
	}
	if diff := deep.Equal(in, out); diff != nil {
		t.Fatalf("round trip mismatch: %v", diff)
	}
}
