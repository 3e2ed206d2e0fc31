package socketcanraw

import (
	"testing"

	can "github.com/cotlab/gocanopen/pkg/can"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFrameLayout(t *testing.T) {
	frame := can.Frame{ID: 0x601 | can.CanRtrFlag, DLC: 3, Data: [8]byte{1, 2, 3}}
	raw := encodeFrame(frame)
	assert.EqualValues(t, 3, raw[4])
	assert.Equal(t, []byte{0, 0, 0}, raw[5:8])
	assert.Equal(t, []byte{1, 2, 3, 0, 0, 0, 0, 0}, raw[8:])

	decoded, err := decodeFrame(raw[:])
	require.Nil(t, err)
	assert.Equal(t, frame, decoded)

	_, err = decodeFrame(raw[:8])
	assert.NotNil(t, err)
}
