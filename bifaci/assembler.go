package bifaci

import (
	"fmt"
)

// partialBody accumulates a chunked REQ or REPLY body.
type partialBody struct {
	header    *Frame
	total     uint64
	body      []byte
	nextIndex uint64
}

// Assembler reassembles bodies split by SplitBody. It is not safe for
// concurrent use; one reader goroutine owns it.
type Assembler struct {
	pending map[string]*partialBody
	maxBody uint64
}

// NewAssembler creates an Assembler refusing bodies larger than maxBody bytes.
func NewAssembler(maxBody int) *Assembler {
	return &Assembler{
		pending: make(map[string]*partialBody),
		maxBody: uint64(maxBody),
	}
}

// Accept feeds one REQ, REPLY, CHUNK or END frame. When a body completes it
// returns its header frame and the full body with done set.
func (a *Assembler) Accept(frame *Frame) (header *Frame, body []byte, done bool, err error) {
	key := frame.Id.ToString()

	switch frame.FrameType {
	case FrameTypeReq, FrameTypeReply:
		if frame.IsEof() {
			return frame, frame.Payload, true, nil
		}
		if frame.Len == nil {
			return nil, nil, false, fmt.Errorf("%s %s is neither inline nor chunked", frame.FrameType, key)
		}
		if *frame.Len > a.maxBody {
			return nil, nil, false, fmt.Errorf("%s %s body of %d bytes exceeds limit %d", frame.FrameType, key, *frame.Len, a.maxBody)
		}
		if _, exists := a.pending[key]; exists {
			return nil, nil, false, fmt.Errorf("duplicate %s for %s", frame.FrameType, key)
		}
		a.pending[key] = &partialBody{
			header: frame,
			total:  *frame.Len,
			body:   make([]byte, 0, *frame.Len),
		}
		return nil, nil, false, nil

	case FrameTypeChunk:
		partial, ok := a.pending[key]
		if !ok {
			return nil, nil, false, fmt.Errorf("CHUNK for unknown body %s", key)
		}
		if err := VerifyChunkChecksum(frame); err != nil {
			delete(a.pending, key)
			return nil, nil, false, err
		}
		if *frame.ChunkIndex != partial.nextIndex {
			delete(a.pending, key)
			return nil, nil, false, fmt.Errorf("CHUNK %d for %s out of order, expected %d", *frame.ChunkIndex, key, partial.nextIndex)
		}
		if uint64(len(partial.body)+len(frame.Payload)) > partial.total {
			delete(a.pending, key)
			return nil, nil, false, fmt.Errorf("CHUNK data for %s overruns announced length %d", key, partial.total)
		}
		partial.body = append(partial.body, frame.Payload...)
		partial.nextIndex++
		return nil, nil, false, nil

	case FrameTypeEnd:
		partial, ok := a.pending[key]
		if !ok {
			return nil, nil, false, fmt.Errorf("END for unknown body %s", key)
		}
		delete(a.pending, key)
		if *frame.ChunkCount != partial.nextIndex {
			return nil, nil, false, fmt.Errorf("END for %s counts %d chunks, received %d", key, *frame.ChunkCount, partial.nextIndex)
		}
		if uint64(len(partial.body)) != partial.total {
			return nil, nil, false, fmt.Errorf("body %s has %d bytes, announced %d", key, len(partial.body), partial.total)
		}
		return partial.header, partial.body, true, nil

	default:
		return nil, nil, false, fmt.Errorf("frame type %s carries no body", frame.FrameType)
	}
}

// Discard drops any partial body for the id.
func (a *Assembler) Discard(id MessageId) {
	delete(a.pending, id.ToString())
}

// Pending returns how many bodies are mid-transfer.
func (a *Assembler) Pending() int {
	return len(a.pending)
}
