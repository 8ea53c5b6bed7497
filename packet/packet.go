// Package packet implements the fixed-shape wire envelope and the payload
// schemas carried inside it. Every payload type implements the Payload
// interface by writing and reading its fields, in declared order, through
// package codec — the same per-type encode/decode pairing inetdiag uses
// for its wire structs, just built on a portable big-endian writer instead
// of unsafe.Pointer casts.
package packet

import (
	"errors"
	"fmt"
	"time"

	"github.com/embergate/netcore/codec"
	"github.com/embergate/netcore/netid"
)

// MinEnvelopeSize is the smallest legal on-wire datagram: label + source +
// sequence, with an empty payload.
const MinEnvelopeSize = 5

// ErrHeaderTooShort is returned by Decode when a datagram is shorter than
// MinEnvelopeSize.
var ErrHeaderTooShort = errors.New("packet: header too short")

// Label identifies the kind of packet. Any byte >= 0x06 is a forward
// compatible Extension label, opaque to the core.
type Label uint8

const (
	LabelError       Label = 0x00
	LabelAcknowledge Label = 0x01
	LabelConnect     Label = 0x02
	LabelDisconnect  Label = 0x03
	LabelPing        Label = 0x04
	LabelMessage     Label = 0x05
)

var labelNames = map[Label]string{
	LabelError:       "Error",
	LabelAcknowledge: "Acknowledge",
	LabelConnect:     "Connect",
	LabelDisconnect:  "Disconnect",
	LabelPing:        "Ping",
	LabelMessage:     "Message",
}

// String follows the enum-with-Stringer idiom: known labels print their
// name, anything else prints as an Extension, never a bare number.
func (l Label) String() string {
	if name, ok := labelNames[l]; ok {
		return name
	}
	return fmt.Sprintf("Extension(%d)", uint8(l))
}

// IsExtension reports whether l is an opaque forward-compatible label.
func (l Label) IsExtension() bool {
	_, known := labelNames[l]
	return !known
}

// Envelope is the fixed-shape packet header plus its opaque payload bytes.
type Envelope struct {
	Label    Label
	Source   netid.ClientId
	Sequence uint16
	Payload  []byte
}

// New returns a zero-sequence, empty-payload envelope.
func New(label Label, source netid.ClientId) Envelope {
	return Envelope{Label: label, Source: source}
}

// SetPayload encodes p and stores the result as the envelope's payload.
func (e *Envelope) SetPayload(p Payload) {
	w := codec.NewWriter(16)
	p.Encode(w)
	e.Payload = w.Bytes()
}

// DecodePayload decodes the envelope's payload into p.
func (e Envelope) DecodePayload(p Payload) error {
	r := codec.NewReader(e.Payload)
	return p.Decode(r)
}

// Encode produces the on-wire bytes for e.
func Encode(e Envelope) []byte {
	w := codec.NewWriter(MinEnvelopeSize + len(e.Payload))
	w.WriteUint8(uint8(e.Label))
	w.WriteUint16(uint16(e.Source))
	w.WriteUint16(e.Sequence)
	w.WriteBytes(e.Payload)
	return w.Bytes()
}

// Decode parses buf into an Envelope. It rejects datagrams shorter than
// MinEnvelopeSize with ErrHeaderTooShort; any byte beyond the header is
// the payload, sized by the datagram itself.
func Decode(buf []byte) (Envelope, error) {
	if len(buf) < MinEnvelopeSize {
		return Envelope{}, ErrHeaderTooShort
	}
	r := codec.NewReader(buf)
	labelByte, _ := r.ReadUint8()
	source, _ := r.ReadUint16()
	seq, _ := r.ReadUint16()
	payload := r.ReadBytes()
	return Envelope{
		Label:    Label(labelByte),
		Source:   netid.ClientId(source),
		Sequence: seq,
		Payload:  payload,
	}, nil
}

// Payload is implemented by every derived payload schema.
type Payload interface {
	Encode(w *codec.Writer)
	Decode(r *codec.Reader) error
}

// ProtocolVersion is the only protocol version this build of the codec
// understands. It is carried in ConnectionPayload, never on the envelope.
const ProtocolVersion uint8 = 1

// ConnectionPayload accompanies Connect packets both ways: a client sends
// its desired version with an invalid assigned id, a server replies with
// the id it assigned.
type ConnectionPayload struct {
	Version        uint8
	AssignedID     netid.ClientId
	PingIntervalMs uint64
}

func (p ConnectionPayload) Encode(w *codec.Writer) {
	w.WriteUint8(p.Version)
	w.WriteUint16(uint16(p.AssignedID))
	w.WriteUint64(p.PingIntervalMs)
}

func (p *ConnectionPayload) Decode(r *codec.Reader) error {
	v, err := r.ReadUint8()
	if err != nil {
		return err
	}
	id, err := r.ReadUint16()
	if err != nil {
		return err
	}
	ms, err := r.ReadUint64()
	if err != nil {
		return err
	}
	p.Version = v
	p.AssignedID = netid.ClientId(id)
	p.PingIntervalMs = ms
	return nil
}

// PingPayload carries a round-trip timestamp. The receiver echoes Ts back
// unchanged when Respond is true, letting the originator compute RTT.
type PingPayload struct {
	Ts      time.Duration
	Respond bool
}

func (p PingPayload) Encode(w *codec.Writer) {
	w.WriteDuration(p.Ts)
	w.WriteBool(p.Respond)
}

func (p *PingPayload) Decode(r *codec.Reader) error {
	d, err := r.ReadDuration()
	if err != nil {
		return err
	}
	respond, err := r.ReadBool()
	if err != nil {
		return err
	}
	p.Ts = d
	p.Respond = respond
	return nil
}

// ErrorPayload decodes into the internal ErrorCode plus a free-form
// message that consumes the remainder of the payload.
type ErrorPayload struct {
	Code    ErrorCode
	Message string
}

func (p ErrorPayload) Encode(w *codec.Writer) {
	w.WriteUint8(uint8(p.Code))
	w.WriteString(p.Message)
}

func (p *ErrorPayload) Decode(r *codec.Reader) error {
	code, err := r.ReadUint8()
	if err != nil {
		return err
	}
	msg, err := r.ReadString()
	if err != nil {
		return err
	}
	p.Code = ErrorCode(code)
	p.Message = msg
	return nil
}

// MessagePayload is free-form application text, consuming the remainder.
type MessagePayload struct {
	Text string
}

func (p MessagePayload) Encode(w *codec.Writer) { w.WriteString(p.Text) }

func (p *MessagePayload) Decode(r *codec.Reader) error {
	s, err := r.ReadString()
	if err != nil {
		return err
	}
	p.Text = s
	return nil
}

// ErrorCode is the ErrorPayload's variant tag, fixed in declaration order.
type ErrorCode uint8

const (
	ErrorTooManyConnections ErrorCode = iota
	ErrorBlacklisted
	ErrorInvalidPacketVersion
	ErrorUnknown
)

var errorCodeNames = map[ErrorCode]string{
	ErrorTooManyConnections:   "TooManyConnections",
	ErrorBlacklisted:          "Blacklisted",
	ErrorInvalidPacketVersion: "InvalidPacketVersion",
	ErrorUnknown:              "Unknown",
}

func (c ErrorCode) String() string {
	if name, ok := errorCodeNames[c]; ok {
		return name
	}
	return fmt.Sprintf("ErrorCode(%d)", uint8(c))
}
