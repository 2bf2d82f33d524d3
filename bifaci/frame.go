package bifaci

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Protocol version carried in every frame.
const ProtocolVersion uint8 = 1

// Default maximum frame size (3.5 MB)
// Larger bodies automatically use CHUNK frames
const DefaultMaxFrame int = 3_670_016

// Default maximum chunk size (256 KB)
const DefaultMaxChunk int = 262_144

// Hard limit on frame size (16 MB) - prevents DoS
const MaxFrameHardLimit int = 16_777_216

// RootHandle addresses the object a server exposes on a fresh connection.
const RootHandle uint64 = 0

// FrameType represents the type of CBOR frame
type FrameType uint8

const (
	FrameTypeHello   FrameType = 0
	FrameTypeReq     FrameType = 1
	FrameTypeReply   FrameType = 2
	FrameTypeChunk   FrameType = 3
	FrameTypeEnd     FrameType = 4
	FrameTypeRelease FrameType = 5 // drop an exported object handle
	FrameTypeErr     FrameType = 6
)

// String returns the frame type name
func (ft FrameType) String() string {
	switch ft {
	case FrameTypeHello:
		return "HELLO"
	case FrameTypeReq:
		return "REQ"
	case FrameTypeReply:
		return "REPLY"
	case FrameTypeChunk:
		return "CHUNK"
	case FrameTypeEnd:
		return "END"
	case FrameTypeRelease:
		return "RELEASE"
	case FrameTypeErr:
		return "ERR"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", ft)
	}
}

// MessageId correlates a REQ with its body chunks and its REPLY or ERR.
type MessageId struct {
	uuidBytes []byte
}

// NewMessageIdFromUuid creates a MessageId from UUID bytes
func NewMessageIdFromUuid(uuidBytes []byte) (MessageId, error) {
	if len(uuidBytes) != 16 {
		return MessageId{}, errors.New("UUID must be exactly 16 bytes")
	}
	return MessageId{uuidBytes: uuidBytes}, nil
}

// NewMessageIdRandom creates a random UUID-based MessageId
func NewMessageIdRandom() MessageId {
	id := uuid.New()
	bytes, _ := id.MarshalBinary()
	return MessageId{uuidBytes: bytes}
}

// IsZero reports whether the id was never assigned (HELLO and RELEASE frames).
func (m MessageId) IsZero() bool {
	return len(m.uuidBytes) == 0
}

// ToString returns the canonical UUID form, or "" for the zero id.
func (m MessageId) ToString() string {
	if m.IsZero() {
		return ""
	}
	id, err := uuid.FromBytes(m.uuidBytes)
	if err != nil {
		return ""
	}
	return id.String()
}

// Equals checks if two MessageIds are equal
func (m MessageId) Equals(other MessageId) bool {
	return string(m.uuidBytes) == string(other.uuidBytes)
}

// Frame represents a CBOR protocol frame
type Frame struct {
	Version    uint8                  // Protocol version
	FrameType  FrameType              // Frame type discriminator
	Id         MessageId              // Request id (zero for HELLO / RELEASE)
	Target     *uint64                // Object handle addressed by REQ / released by RELEASE
	Code       *uint32                // Request code (REQ only)
	Async      bool                   // REQ expects no REPLY
	Meta       map[string]interface{} // HELLO limits and descriptor, ERR code and message
	Payload    []byte                 // Inline body or chunk data
	Len        *uint64                // Total body length when the body is chunked
	Eof        *bool                  // Body is complete in this frame
	ChunkIndex *uint64                // Chunk index within the body (REQUIRED for CHUNK frames)
	ChunkCount *uint64                // Total chunk count (REQUIRED for END frames)
	Checksum   *uint64                // FNV-1a of the chunk payload (REQUIRED for CHUNK frames)
}

func newFrame(frameType FrameType, id MessageId) *Frame {
	return &Frame{
		Version:   ProtocolVersion,
		FrameType: frameType,
		Id:        id,
	}
}

// NewHello creates a HELLO frame. The accepting side fills in the descriptor
// of the root object it serves; the initiating side leaves it empty.
func NewHello(limits Limits, descriptor string) *Frame {
	frame := newFrame(FrameTypeHello, MessageId{})
	frame.Meta = map[string]interface{}{
		"max_frame": limits.MaxFrame,
		"max_chunk": limits.MaxChunk,
		"version":   ProtocolVersion,
	}
	if descriptor != "" {
		frame.Meta["descriptor"] = descriptor
	}
	return frame
}

// NewReq creates a REQ header frame addressed to an object handle.
func NewReq(id MessageId, target uint64, code uint32, async bool) *Frame {
	frame := newFrame(FrameTypeReq, id)
	frame.Target = &target
	frame.Code = &code
	frame.Async = async
	return frame
}

// NewReply creates a REPLY header frame answering the REQ with the same id.
func NewReply(id MessageId) *Frame {
	return newFrame(FrameTypeReply, id)
}

// NewChunk creates a CHUNK frame carrying one slice of a REQ or REPLY body.
func NewChunk(id MessageId, chunkIndex uint64, payload []byte) *Frame {
	frame := newFrame(FrameTypeChunk, id)
	checksum := ComputeChecksum(payload)
	frame.Payload = payload
	frame.ChunkIndex = &chunkIndex
	frame.Checksum = &checksum
	return frame
}

// NewEnd creates an END frame closing a chunked body.
func NewEnd(id MessageId, chunkCount uint64) *Frame {
	frame := newFrame(FrameTypeEnd, id)
	eof := true
	frame.Eof = &eof
	frame.ChunkCount = &chunkCount
	return frame
}

// NewRelease creates a RELEASE frame for an object handle owned by the peer.
func NewRelease(target uint64) *Frame {
	frame := newFrame(FrameTypeRelease, MessageId{})
	frame.Target = &target
	return frame
}

// NewErr creates an ERR frame
// code and message are stored in the Meta map
func NewErr(id MessageId, code string, message string) *Frame {
	frame := newFrame(FrameTypeErr, id)
	frame.Meta = map[string]interface{}{
		"code":    code,
		"message": message,
	}
	return frame
}

// SplitBody turns a header frame plus its body into the frames that carry it.
// Bodies that fit in one chunk ride inline; larger ones are announced with
// their length and follow as CHUNK frames terminated by END.
func SplitBody(header *Frame, body []byte, maxChunk int) []*Frame {
	if maxChunk <= 0 {
		maxChunk = DefaultMaxChunk
	}
	if len(body) <= maxChunk {
		eof := true
		header.Payload = body
		header.Eof = &eof
		return []*Frame{header}
	}

	total := uint64(len(body))
	header.Payload = nil
	header.Len = &total
	frames := []*Frame{header}

	chunkIndex := uint64(0)
	for offset := 0; offset < len(body); offset += maxChunk {
		end := min(offset+maxChunk, len(body))
		frames = append(frames, NewChunk(header.Id, chunkIndex, body[offset:end]))
		chunkIndex++
	}
	return append(frames, NewEnd(header.Id, chunkIndex))
}

// ErrorCode gets error code from ERR frame meta
func (f *Frame) ErrorCode() string {
	if f.FrameType != FrameTypeErr || f.Meta == nil {
		return ""
	}
	if code, ok := f.Meta["code"].(string); ok {
		return code
	}
	return ""
}

// ErrorMessage gets error message from ERR frame meta
func (f *Frame) ErrorMessage() string {
	if f.FrameType != FrameTypeErr || f.Meta == nil {
		return ""
	}
	if msg, ok := f.Meta["message"].(string); ok {
		return msg
	}
	return ""
}

// HelloLimits extracts the limits advertised by a HELLO frame.
// Returns nil when the frame is not a HELLO or carries no usable limits.
func (f *Frame) HelloLimits() *Limits {
	if f.FrameType != FrameTypeHello || f.Meta == nil {
		return nil
	}
	maxFrame := extractIntFromMeta(f.Meta, "max_frame")
	maxChunk := extractIntFromMeta(f.Meta, "max_chunk")
	if maxFrame <= 0 || maxChunk <= 0 {
		return nil
	}
	return &Limits{MaxFrame: maxFrame, MaxChunk: maxChunk}
}

// HelloDescriptor returns the root object descriptor carried by a HELLO frame.
func (f *Frame) HelloDescriptor() string {
	if f.FrameType != FrameTypeHello || f.Meta == nil {
		return ""
	}
	if descriptor, ok := f.Meta["descriptor"].(string); ok {
		return descriptor
	}
	return ""
}

// extractIntFromMeta extracts an integer from a meta map, handling CBOR type variance.
// CBOR libraries may decode integers as int, int64, uint64, or float64.
func extractIntFromMeta(meta map[string]interface{}, key string) int {
	v, ok := meta[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case uint64:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}

// ComputeChecksum computes FNV-1a 64-bit hash of data
func ComputeChecksum(data []byte) uint64 {
	const fnvOffsetBasis = uint64(0xcbf29ce484222325)
	const fnvPrime = uint64(0x100000001b3)

	hash := fnvOffsetBasis
	for _, b := range data {
		hash ^= uint64(b)
		hash = hash * fnvPrime
	}
	return hash
}

// VerifyChunkChecksum verifies a CHUNK frame's checksum matches its payload.
// Returns nil if valid, error if checksum missing or mismatched.
func VerifyChunkChecksum(frame *Frame) error {
	if frame.Checksum == nil {
		return fmt.Errorf("CHUNK frame missing required checksum field")
	}
	expected := ComputeChecksum(frame.Payload)
	if *frame.Checksum != expected {
		return fmt.Errorf("CHUNK checksum mismatch: expected %d, got %d (payload %d bytes)", expected, *frame.Checksum, len(frame.Payload))
	}
	return nil
}

// IsEof checks if this frame completes its body
func (f *Frame) IsEof() bool {
	return f.Eof != nil && *f.Eof
}
