package socketcanraw

import (
	"encoding/binary"
	"fmt"

	can "github.com/cotlab/gocanopen/pkg/can"
)

// size of struct can_frame
const canFrameSize = 16

// encodeFrame lays out frame as a struct can_frame : identifier in host
// order, length, 3 bytes of padding then the data
func encodeFrame(frame can.Frame) [canFrameSize]byte {
	var raw [canFrameSize]byte
	binary.NativeEndian.PutUint32(raw[0:4], frame.ID)
	raw[4] = frame.DLC
	copy(raw[8:], frame.Data[:])
	return raw
}

func decodeFrame(raw []byte) (can.Frame, error) {
	if len(raw) != canFrameSize {
		return can.Frame{}, fmt.Errorf("can frame of %v bytes", len(raw))
	}
	frame := can.Frame{ID: binary.NativeEndian.Uint32(raw[0:4]), DLC: raw[4]}
	copy(frame.Data[:], raw[8:])
	return frame, nil
}
