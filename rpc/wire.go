package rpc

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// wireField is the CBOR form of one MessageSequence field.
type wireField struct {
	Kind       FieldKind `cbor:"1,keyasint"`
	Str        string    `cbor:"2,keyasint,omitempty"`
	Strs       []string  `cbor:"3,keyasint,omitempty"`
	Int        int32     `cbor:"4,keyasint,omitempty"`
	Handle     uint64    `cbor:"5,keyasint,omitempty"`
	Yours      bool      `cbor:"6,keyasint,omitempty"` // handle lives in the receiver's export table
	Descriptor string    `cbor:"7,keyasint,omitempty"`
}

// objectRef is how a remote object crosses a connection.
type objectRef struct {
	handle     uint64
	yours      bool
	descriptor string
}

type exportFunc func(obj RemoteObject) (objectRef, error)
type importFunc func(ref objectRef) (RemoteObject, error)

// encodeSequence serializes the full content of m, independent of its read
// cursor.
func encodeSequence(m *MessageSequence, export exportFunc) ([]byte, error) {
	if m.reclaimed {
		return nil, ErrReclaimed
	}
	wire := make([]wireField, 0, len(m.fields))
	for i, f := range m.fields {
		wf := wireField{Kind: f.kind}
		switch f.kind {
		case FieldInterfaceToken, FieldString:
			wf.Str = f.str
		case FieldStringArray:
			wf.Strs = f.strs
		case FieldInt:
			wf.Int = f.num
		case FieldRemoteObject:
			ref, err := export(f.object)
			if err != nil {
				return nil, fmt.Errorf("field %d: %w", i, err)
			}
			wf.Handle = ref.handle
			wf.Yours = ref.yours
			wf.Descriptor = ref.descriptor
		default:
			return nil, fmt.Errorf("field %d: cannot encode %s", i, f.kind)
		}
		wire = append(wire, wf)
	}
	return cbor.Marshal(wire)
}

// decodeFields is the inverse of encodeSequence.
func decodeFields(data []byte, imp importFunc) ([]field, error) {
	var wire []wireField
	if err := cbor.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("decode message sequence: %w", err)
	}
	fields := make([]field, 0, len(wire))
	for i, wf := range wire {
		f := field{kind: wf.Kind}
		switch wf.Kind {
		case FieldInterfaceToken, FieldString:
			f.str = wf.Str
		case FieldStringArray:
			f.strs = wf.Strs
			if f.strs == nil {
				f.strs = []string{}
			}
		case FieldInt:
			f.num = wf.Int
		case FieldRemoteObject:
			obj, err := imp(objectRef{handle: wf.Handle, yours: wf.Yours, descriptor: wf.Descriptor})
			if err != nil {
				return nil, fmt.Errorf("field %d: %w", i, err)
			}
			f.object = obj
		default:
			return nil, fmt.Errorf("field %d: unknown kind %d", i, wf.Kind)
		}
		fields = append(fields, f)
	}
	return fields, nil
}
