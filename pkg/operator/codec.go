package operator

import (
	"bytes"
	"fmt"

	"github.com/hashicorp/go-msgpack/v2/codec"

	"github.com/fluxgrid/fluxgrid/pkg/types"
)

// Codec is the canonical binary wire format used between operator
// subtasks whenever a message crosses a process boundary (and is
// therefore not already available as a native types.MessageFrame on an
// in-process channel).
type Codec struct {
	handle codec.MsgpackHandle
}

// NewCodec constructs a Codec ready for concurrent use. A codec.Handle's
// encoders/decoders are not themselves safe for concurrent use, but the
// handle is; callers create one encoder/decoder per call.
func NewCodec() *Codec {
	c := &Codec{}
	c.handle.Canonical = true
	return c
}

// Decode deserializes a wire-format frame into a MessageFrame.
func (c *Codec) Decode(raw []byte) (types.MessageFrame, error) {
	var frame types.MessageFrame
	dec := codec.NewDecoder(bytes.NewReader(raw), &c.handle)
	if err := dec.Decode(&frame); err != nil {
		return types.MessageFrame{}, fmt.Errorf("decoding message frame: %w", err)
	}
	return frame, nil
}

// Encode serializes a MessageFrame to the wire format.
func (c *Codec) Encode(frame types.MessageFrame) ([]byte, error) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, &c.handle)
	if err := enc.Encode(frame); err != nil {
		return nil, fmt.Errorf("encoding message frame: %w", err)
	}
	return buf.Bytes(), nil
}
