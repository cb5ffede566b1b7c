package codec

import (
	"encoding/binary"
	"fmt"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding so the same record always
// produces the same bytes, which keeps journal checksums stable.
var encMode cbor.EncMode

// decMode ignores unknown fields and rejects trailing data inside a frame.
var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		DefaultMapType:   reflect.TypeOf(map[string]any(nil)),
		MaxArrayElements: 1 << 20,
		MaxMapPairs:      1 << 20,
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v to CBOR using Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// FrameHeaderSize is the length prefix written by MarshalFrame.
const FrameHeaderSize = 4

// MarshalFrame encodes v and prepends its length as a little-endian uint32.
// It fails when the frame would not fit in limit bytes (0 means no limit).
func MarshalFrame(v any, limit int) ([]byte, error) {
	body, err := encMode.Marshal(v)
	if err != nil {
		return nil, err
	}
	total := FrameHeaderSize + len(body)
	if limit > 0 && total > limit {
		return nil, &FrameTooLargeError{Size: total, Limit: limit}
	}
	out := make([]byte, total)
	binary.LittleEndian.PutUint32(out, uint32(len(body)))
	copy(out[FrameHeaderSize:], body)
	return out, nil
}

// UnmarshalFrame decodes a frame written by MarshalFrame. Bytes after the
// frame are ignored.
func UnmarshalFrame(data []byte, v any) error {
	if len(data) < FrameHeaderSize {
		return fmt.Errorf("codec: frame of %d bytes has no header", len(data))
	}
	n := binary.LittleEndian.Uint32(data)
	if uint64(n) > uint64(len(data)-FrameHeaderSize) {
		return fmt.Errorf("codec: frame declares %d bytes, %d available", n, len(data)-FrameHeaderSize)
	}
	return decMode.Unmarshal(data[FrameHeaderSize:FrameHeaderSize+int(n)], v)
}

// FrameTooLargeError reports a frame that exceeds its container.
type FrameTooLargeError struct {
	Size  int
	Limit int
}

func (e *FrameTooLargeError) Error() string {
	return fmt.Sprintf("codec: frame of %d bytes exceeds limit of %d", e.Size, e.Limit)
}
