package rpc

import (
	"fmt"
	"sync/atomic"
)

// FieldKind tags each value written into a MessageSequence.
type FieldKind uint8

const (
	FieldInterfaceToken FieldKind = iota + 1
	FieldString
	FieldStringArray
	FieldInt
	FieldRemoteObject
)

// String returns the field kind name
func (k FieldKind) String() string {
	switch k {
	case FieldInterfaceToken:
		return "interface-token"
	case FieldString:
		return "string"
	case FieldStringArray:
		return "string-array"
	case FieldInt:
		return "int"
	case FieldRemoteObject:
		return "remote-object"
	default:
		return fmt.Sprintf("unknown(%d)", k)
	}
}

type field struct {
	kind   FieldKind
	str    string
	strs   []string
	num    int32
	object RemoteObject
}

// MessageSequence is an ordered, typed field sequence: the body of one RPC
// request or reply. Fields are read back in the order they were written; a
// read whose kind does not match the next field fails with ErrFieldMismatch.
//
// A sequence belongs to one goroutine at a time. Reclaim releases it; every
// operation after that fails with ErrReclaimed.
type MessageSequence struct {
	fields    []field
	readPos   int
	reclaimed bool
	reclaims  atomic.Int32
}

// NewMessageSequence creates an empty sequence.
func NewMessageSequence() *MessageSequence {
	return &MessageSequence{}
}

func (m *MessageSequence) write(f field) error {
	if m.reclaimed {
		return ErrReclaimed
	}
	m.fields = append(m.fields, f)
	return nil
}

func (m *MessageSequence) next(kind FieldKind) (field, error) {
	if m.reclaimed {
		return field{}, ErrReclaimed
	}
	if m.readPos >= len(m.fields) {
		return field{}, fmt.Errorf("reading %s: %w", kind, ErrNoMoreFields)
	}
	f := m.fields[m.readPos]
	if f.kind != kind {
		return field{}, fmt.Errorf("reading %s at field %d, found %s: %w", kind, m.readPos, f.kind, ErrFieldMismatch)
	}
	m.readPos++
	return f, nil
}

// WriteInterfaceToken writes the descriptor the receiver checks first.
func (m *MessageSequence) WriteInterfaceToken(token string) error {
	return m.write(field{kind: FieldInterfaceToken, str: token})
}

// WriteString appends a string field.
func (m *MessageSequence) WriteString(s string) error {
	return m.write(field{kind: FieldString, str: s})
}

// WriteStringArray appends a string array field.
func (m *MessageSequence) WriteStringArray(values []string) error {
	copied := make([]string, len(values))
	copy(copied, values)
	return m.write(field{kind: FieldStringArray, strs: copied})
}

// WriteInt appends a 32-bit integer field.
func (m *MessageSequence) WriteInt(v int32) error {
	return m.write(field{kind: FieldInt, num: v})
}

// WriteRemoteObject appends a reference to a remote object.
func (m *MessageSequence) WriteRemoteObject(obj RemoteObject) error {
	if obj == nil {
		return fmt.Errorf("writing nil %s", FieldRemoteObject)
	}
	return m.write(field{kind: FieldRemoteObject, object: obj})
}

// ReadInterfaceToken reads the leading interface token.
func (m *MessageSequence) ReadInterfaceToken() (string, error) {
	f, err := m.next(FieldInterfaceToken)
	return f.str, err
}

// ReadString reads the next string field.
func (m *MessageSequence) ReadString() (string, error) {
	f, err := m.next(FieldString)
	return f.str, err
}

// ReadStringArray reads the next string array field.
func (m *MessageSequence) ReadStringArray() ([]string, error) {
	f, err := m.next(FieldStringArray)
	return f.strs, err
}

// ReadInt reads the next integer field.
func (m *MessageSequence) ReadInt() (int32, error) {
	f, err := m.next(FieldInt)
	return f.num, err
}

// ReadRemoteObject reads the next remote object reference.
func (m *MessageSequence) ReadRemoteObject() (RemoteObject, error) {
	f, err := m.next(FieldRemoteObject)
	return f.object, err
}

// Len returns the number of fields written.
func (m *MessageSequence) Len() int {
	return len(m.fields)
}

// RewindRead moves the read cursor back to the first field.
func (m *MessageSequence) RewindRead() {
	m.readPos = 0
}

// Reclaim releases the sequence's fields. Calling it more than once is
// harmless but counted, see ReclaimCount.
func (m *MessageSequence) Reclaim() {
	m.reclaims.Add(1)
	m.reclaimed = true
	m.fields = nil
	m.readPos = 0
}

// Reclaimed reports whether Reclaim has been called.
func (m *MessageSequence) Reclaimed() bool {
	return m.reclaims.Load() > 0
}

// ReclaimCount returns how many times Reclaim has been called.
func (m *MessageSequence) ReclaimCount() int {
	return int(m.reclaims.Load())
}

// clone copies the unread state into a fresh sequence so the original can
// be reclaimed while the copy is still being read.
func (m *MessageSequence) clone() *MessageSequence {
	c := &MessageSequence{fields: make([]field, len(m.fields)), readPos: m.readPos}
	copy(c.fields, m.fields)
	return c
}

// load replaces the content with decoded fields, used to fill a caller's reply.
func (m *MessageSequence) load(fields []field) error {
	if m.reclaimed {
		return ErrReclaimed
	}
	m.fields = fields
	m.readPos = 0
	return nil
}
