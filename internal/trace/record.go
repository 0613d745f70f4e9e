package trace

import (
	"fmt"
	"io"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/nerrad567/mqttlink/internal/connection"
)

// RecordKind distinguishes lifecycle events from received messages.
type RecordKind uint8

const (
	// KindEvent is a connection lifecycle event.
	KindEvent RecordKind = iota + 1

	// KindMessage is a message received from the broker.
	KindMessage
)

// String returns the kind name.
func (k RecordKind) String() string {
	switch k {
	case KindEvent:
		return "event"
	case KindMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Record is one entry in a trace file. Integer keys keep the file compact.
type Record struct {
	Kind RecordKind `cbor:"1,keyasint"`
	Time time.Time  `cbor:"2,keyasint"`

	// Lifecycle event fields.
	Event    string   `cbor:"10,keyasint,omitempty"`
	State    string   `cbor:"11,keyasint,omitempty"`
	Previous string   `cbor:"12,keyasint,omitempty"`
	Error    string   `cbor:"13,keyasint,omitempty"`
	Attempt  int      `cbor:"14,keyasint,omitempty"`
	DelayMs  int64    `cbor:"15,keyasint,omitempty"`
	Topics   []string `cbor:"16,keyasint,omitempty"`

	// Message fields.
	Topic     string `cbor:"20,keyasint,omitempty"`
	Payload   []byte `cbor:"21,keyasint,omitempty"`
	QoS       byte   `cbor:"22,keyasint,omitempty"`
	Retained  bool   `cbor:"23,keyasint,omitempty"`
	Duplicate bool   `cbor:"24,keyasint,omitempty"`
	MessageID uint16 `cbor:"25,keyasint,omitempty"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	if encMode, err = encOpts.EncMode(); err != nil {
		panic(fmt.Sprintf("trace: CBOR encoder mode: %v", err))
	}

	decOpts := cbor.DecOptions{
		DupMapKey:   cbor.DupMapKeyQuiet,
		IndefLength: cbor.IndefLengthAllowed,
	}
	if decMode, err = decOpts.DecMode(); err != nil {
		panic(fmt.Sprintf("trace: CBOR decoder mode: %v", err))
	}
}

// EventRecord converts a lifecycle event.
func EventRecord(ev connection.Event) Record {
	r := Record{
		Kind:    KindEvent,
		Time:    ev.Time,
		Event:   string(ev.Kind),
		State:   ev.State.String(),
		Attempt: ev.Attempt,
		DelayMs: ev.Delay.Milliseconds(),
		Topics:  ev.Topics,
	}
	if ev.Kind == connection.EventStateChanged {
		r.Previous = ev.Previous.String()
	}
	if ev.Err != nil {
		r.Error = ev.Err.Error()
	}
	return r
}

// MessageRecord converts a received message. msg may be nil.
func MessageRecord(topic string, payload []byte, msg connection.Message) Record {
	r := Record{
		Kind:    KindMessage,
		Time:    time.Now(),
		Topic:   topic,
		Payload: payload,
	}
	if msg != nil {
		r.QoS = msg.Qos()
		r.Retained = msg.Retained()
		r.Duplicate = msg.Duplicate()
		r.MessageID = msg.MessageID()
	}
	return r
}

// Encode returns the CBOR encoding of r.
func Encode(r Record) ([]byte, error) {
	return encMode.Marshal(r)
}

// Decode parses one CBOR record.
func Decode(data []byte) (Record, error) {
	var r Record
	if err := decMode.Unmarshal(data, &r); err != nil {
		return Record{}, err
	}
	return r, nil
}

func newEncoder(w io.Writer) *cbor.Encoder {
	return encMode.NewEncoder(w)
}

func newDecoder(r io.Reader) *cbor.Decoder {
	return decMode.NewDecoder(r)
}
