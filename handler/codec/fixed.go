// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package codec

import (
	"github.com/momentics/hioload-pipeline/api"
	"github.com/momentics/hioload-pipeline/buffer"
	"github.com/momentics/hioload-pipeline/channel"
)

// NewFixedLengthFrameDecoder splits the inbound stream into frames of
// exactly frameLength bytes.
func NewFixedLengthFrameDecoder(frameLength int) (*FrameDecoder, error) {
	if frameLength <= 0 {
		return nil, api.Errorf(api.ErrCodeInvalidArgument, "frameLength must be a positive integer: %d", frameLength)
	}
	return NewFrameDecoder(DecoderFunc(func(_ *channel.HandlerContext, in buffer.Buffer) (any, error) {
		if in.ReadableLen() < frameLength {
			return nil, nil
		}
		frame, err := in.ReadBytes(frameLength)
		if err != nil {
			return nil, err
		}
		return frame, nil
	})), nil
}
