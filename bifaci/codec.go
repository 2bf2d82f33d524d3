package bifaci

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// CBOR map keys
const (
	keyVersion    = 0  // version (u8)
	keyFrameType  = 1  // frame_type (u8)
	keyId         = 2  // id (bytes[16], optional for HELLO / RELEASE)
	keyTarget     = 3  // target (u64, REQ / RELEASE)
	keyCode       = 4  // code (u32, REQ)
	keyMeta       = 5  // meta (map, optional)
	keyPayload    = 6  // payload (bstr, optional)
	keyLen        = 7  // len (u64, optional - total body length when chunked)
	keyAsync      = 8  // async (bool, optional)
	keyEof        = 9  // eof (bool, optional)
	keyChunkIndex = 10 // chunk_index (u64, REQUIRED for CHUNK frames)
	keyChunkCount = 11 // chunk_count (u64, REQUIRED for END frames)
	keyChecksum   = 12 // checksum (u64, REQUIRED for CHUNK frames - FNV-1a hash)
)

// EncodeFrame encodes a Frame to CBOR bytes using integer keys
func EncodeFrame(frame *Frame) ([]byte, error) {
	m := make(map[int]interface{})

	m[keyVersion] = uint8(ProtocolVersion)
	m[keyFrameType] = uint8(frame.FrameType)

	if !frame.Id.IsZero() {
		m[keyId] = frame.Id.uuidBytes
	}
	if frame.Target != nil {
		m[keyTarget] = *frame.Target
	}
	if frame.Code != nil {
		m[keyCode] = *frame.Code
	}
	if len(frame.Meta) > 0 {
		m[keyMeta] = frame.Meta
	}
	if frame.Payload != nil {
		m[keyPayload] = frame.Payload
	}
	if frame.Len != nil {
		m[keyLen] = *frame.Len
	}
	if frame.Async {
		m[keyAsync] = true
	}
	if frame.Eof != nil && *frame.Eof {
		m[keyEof] = true
	}
	if frame.ChunkIndex != nil {
		m[keyChunkIndex] = *frame.ChunkIndex
	}
	if frame.ChunkCount != nil {
		m[keyChunkCount] = *frame.ChunkCount
	}
	if frame.Checksum != nil {
		m[keyChecksum] = *frame.Checksum
	}

	return cbor.Marshal(m)
}

// DecodeFrame decodes CBOR bytes to a Frame using integer keys
func DecodeFrame(data []byte) (*Frame, error) {
	var m map[int]interface{}
	if err := cbor.Unmarshal(data, &m); err != nil {
		return nil, err
	}

	frame := &Frame{}

	// 0: version (required - must be PROTOCOL_VERSION)
	verVal, ok := m[keyVersion]
	if !ok {
		return nil, errors.New("missing version (key 0)")
	}
	ver, ok := verVal.(uint64)
	if !ok {
		return nil, errors.New("version must be uint")
	}
	frame.Version = uint8(ver)
	if frame.Version != ProtocolVersion {
		return nil, fmt.Errorf("invalid version %d, expected %d", frame.Version, ProtocolVersion)
	}

	// 1: frame_type (required)
	ftVal, ok := m[keyFrameType]
	if !ok {
		return nil, errors.New("missing frame_type (key 1)")
	}
	ft, ok := ftVal.(uint64)
	if !ok {
		return nil, errors.New("frame_type must be uint")
	}
	if FrameType(ft) > FrameTypeErr {
		return nil, fmt.Errorf("invalid frame_type %d", ft)
	}
	frame.FrameType = FrameType(ft)

	// 2: id
	if idVal, ok := m[keyId]; ok {
		raw, ok := idVal.([]byte)
		if !ok {
			return nil, errors.New("id must be bytes[16]")
		}
		id, err := NewMessageIdFromUuid(raw)
		if err != nil {
			return nil, err
		}
		frame.Id = id
	}

	if v, ok := uintField(m, keyTarget); ok {
		frame.Target = &v
	}
	if v, ok := uintField(m, keyCode); ok {
		code := uint32(v)
		frame.Code = &code
	}

	// 5: meta (optional)
	if metaVal, ok := m[keyMeta]; ok {
		if meta, ok := metaVal.(map[interface{}]interface{}); ok {
			frame.Meta = make(map[string]interface{})
			for k, v := range meta {
				if ks, ok := k.(string); ok {
					frame.Meta[ks] = v
				}
			}
		}
	}

	if payloadVal, ok := m[keyPayload]; ok {
		if payload, ok := payloadVal.([]byte); ok {
			frame.Payload = payload
		}
	}
	if v, ok := uintField(m, keyLen); ok {
		frame.Len = &v
	}
	if asyncVal, ok := m[keyAsync]; ok {
		if async, ok := asyncVal.(bool); ok {
			frame.Async = async
		}
	}
	if eofVal, ok := m[keyEof]; ok {
		if eof, ok := eofVal.(bool); ok {
			frame.Eof = &eof
		}
	}
	if v, ok := uintField(m, keyChunkIndex); ok {
		frame.ChunkIndex = &v
	}
	if v, ok := uintField(m, keyChunkCount); ok {
		frame.ChunkCount = &v
	}
	if v, ok := uintField(m, keyChecksum); ok {
		frame.Checksum = &v
	}

	// Validate required fields based on frame type
	switch frame.FrameType {
	case FrameTypeReq:
		if frame.Id.IsZero() || frame.Target == nil || frame.Code == nil {
			return nil, errors.New("REQ frame missing required field: id, target or code")
		}
	case FrameTypeReply, FrameTypeErr:
		if frame.Id.IsZero() {
			return nil, fmt.Errorf("%s frame missing required field: id", frame.FrameType)
		}
	case FrameTypeChunk:
		if frame.ChunkIndex == nil {
			return nil, errors.New("CHUNK frame missing required field: chunk_index")
		}
		if frame.Checksum == nil {
			return nil, errors.New("CHUNK frame missing required field: checksum")
		}
	case FrameTypeEnd:
		if frame.ChunkCount == nil {
			return nil, errors.New("END frame missing required field: chunk_count")
		}
	case FrameTypeRelease:
		if frame.Target == nil {
			return nil, errors.New("RELEASE frame missing required field: target")
		}
	}

	return frame, nil
}

// uintField reads an unsigned integer key, tolerating the integer types CBOR
// decoders produce.
func uintField(m map[int]interface{}, key int) (uint64, bool) {
	val, ok := m[key]
	if !ok {
		return 0, false
	}
	switch v := val.(type) {
	case uint64:
		return v, true
	case int64:
		return uint64(v), true
	case int:
		return uint64(v), true
	case uint:
		return uint64(v), true
	default:
		return 0, false
	}
}
