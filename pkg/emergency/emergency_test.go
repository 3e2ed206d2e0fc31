package emergency

import (
	"context"
	"encoding/binary"
	"testing"
	"time"

	canopen "github.com/cotlab/gocanopen"
	can "github.com/cotlab/gocanopen/pkg/can"
	_ "github.com/cotlab/gocanopen/pkg/can/virtual"
	"github.com/cotlab/gocanopen/pkg/od"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestBusManager(t *testing.T) *canopen.BusManager {
	bus, err := can.NewBus("virtual", t.Name(), 0)
	require.Nil(t, err)
	bm := canopen.NewBusManager(bus, nil)
	require.Nil(t, bm.Connect())
	t.Cleanup(func() { bm.Disconnect() })
	return bm
}

func receiveReport(t *testing.T, bm *canopen.BusManager, id uint32) Report {
	frame, err := bm.Receive(context.Background(), id, time.Second)
	require.Nil(t, err)
	msg, err := canopen.Decode(frame)
	require.Nil(t, err)
	report, err := Decode(msg)
	require.Nil(t, err)
	return report
}

func TestDescription(t *testing.T) {
	assert.Equal(t, "Life Guard Error or Heartbeat Error", Description(ErrHeartbeat))
	assert.Equal(t, "Reset or No Error", Description(ErrNoError))
	assert.Equal(t, "Communication", Description(0x8101))
	assert.Equal(t, "Voltage", Description(0x3F00))
	assert.Equal(t, "Unknown error x0042", Description(0x0042))
}

func TestRegisterBit(t *testing.T) {
	assert.EqualValues(t, ErrRegCommunication, RegisterBit(ErrHeartbeat))
	assert.EqualValues(t, ErrRegTemperature, RegisterBit(ErrTempDevice))
	assert.EqualValues(t, ErrRegManufacturer, RegisterBit(0xFF12))
	assert.EqualValues(t, 0, RegisterBit(ErrSoftwareUser))
}

func TestDecodeInvalid(t *testing.T) {
	_, err := Decode(canopen.NewSync())
	assert.ErrorIs(t, err, canopen.ErrIllegalArgument)
	msg, err := canopen.Decode(can.Frame{ID: 0x85, DLC: 2})
	require.Nil(t, err)
	_, err = Decode(msg)
	assert.ErrorIs(t, err, canopen.ErrIllegalArgument)
}

func TestErrorAndReset(t *testing.T) {
	_, err := NewEMCY(nil, nil, 0x10)
	assert.Equal(t, canopen.ErrIllegalArgument, err)

	emcy, err := NewEMCY(newTestBusManager(t), nil, 0x10)
	require.Nil(t, err)
	peer := newTestBusManager(t)
	peer.Listen(0x90)

	assert.Equal(t, canopen.ErrIllegalArgument, emcy.Error(ErrNoError, 0))
	require.Nil(t, emcy.Error(ErrHeartbeat, 0x22))
	report := receiveReport(t, peer, 0x90)
	assert.Equal(t, Report{NodeId: 0x10, Code: ErrHeartbeat, Register: ErrRegGeneric | ErrRegCommunication, Info: 0x22}, report)

	// already active
	require.Nil(t, emcy.Error(ErrHeartbeat, 0x22))
	require.Nil(t, emcy.Error(ErrTempDevice, 0))
	report = receiveReport(t, peer, 0x90)
	assert.EqualValues(t, ErrTempDevice, report.Code)
	assert.EqualValues(t, ErrRegGeneric|ErrRegCommunication|ErrRegTemperature, report.Register)
	assert.Equal(t, []uint16{ErrTempDevice, ErrHeartbeat}, emcy.Active())

	require.Nil(t, emcy.Reset(ErrHeartbeat, 0))
	report = receiveReport(t, peer, 0x90)
	assert.EqualValues(t, ErrNoError, report.Code)
	assert.EqualValues(t, ErrRegGeneric|ErrRegTemperature, report.Register)

	// not active, nothing sent
	require.Nil(t, emcy.Reset(ErrHeartbeat, 0))
	require.Nil(t, emcy.Reset(ErrTempDevice, 0))
	report = receiveReport(t, peer, 0x90)
	assert.EqualValues(t, 0, report.Register)
	_, err = peer.Receive(context.Background(), 0x90, 20*time.Millisecond)
	assert.Equal(t, canopen.ErrTimeout, err)

	assert.Equal(t, []uint32{ErrTempDevice, ErrHeartbeat | 0x22<<16}, emcy.History())
}

func TestOnlyWhen(t *testing.T) {
	emcy, err := NewEMCY(newTestBusManager(t), nil, 0x10)
	require.Nil(t, err)
	peer := newTestBusManager(t)
	peer.Listen(0x90)
	emcy.OnlyWhen(func() bool { return false })

	require.Nil(t, emcy.Error(ErrGeneric, 0))
	_, err = peer.Receive(context.Background(), 0x90, 20*time.Millisecond)
	assert.Equal(t, canopen.ErrTimeout, err)
	assert.EqualValues(t, ErrRegGeneric, emcy.Register())
}

func newEmergencyOD(t *testing.T) *od.ObjectDictionary {
	dict := od.New(nil)
	_, err := dict.AddVariableType(EntryErrorRegister, 0, "error register", od.AttributeSdoR, uint8(0))
	require.Nil(t, err)
	_, err = dict.AddVariableType(EntryPreDefinedErrorField, 0, "number of errors", od.AttributeSdoRw, uint8(0))
	require.Nil(t, err)
	for sub := uint8(1); sub <= 2; sub++ {
		_, err = dict.AddVariableType(EntryPreDefinedErrorField, sub, "standard error field", od.AttributeSdoR, uint32(0))
		require.Nil(t, err)
	}
	_, err = dict.AddVariableType(EntryCobIdEmergency, 0, "COB-ID EMCY", od.AttributeSdoRw, uint32(0x90))
	require.Nil(t, err)
	return dict
}

func TestBindDictionary(t *testing.T) {
	emcy, err := NewEMCY(newTestBusManager(t), nil, 0x10)
	require.Nil(t, err)
	assert.Equal(t, od.ErrIdxNotExist, emcy.BindDictionary(od.New(nil)))

	dict := newEmergencyOD(t)
	require.Nil(t, emcy.BindDictionary(dict))
	for _, code := range []uint16{ErrVoltage, ErrCurrent, ErrGeneric} {
		require.Nil(t, emcy.Error(code, 0))
	}
	register, _ := dict.Get(EntryErrorRegister, 0)
	assert.Equal(t, []byte{ErrRegGeneric | ErrRegVoltage | ErrRegCurrent}, register)
	count, _ := dict.Get(EntryPreDefinedErrorField, 0)
	assert.Equal(t, []byte{2}, count)
	last, _ := dict.Get(EntryPreDefinedErrorField, 1)
	assert.EqualValues(t, ErrGeneric, binary.LittleEndian.Uint32(last))

	assert.Equal(t, od.ErrInvalidValue, dict.Write(EntryPreDefinedErrorField, 0, []byte{1}))
	require.Nil(t, dict.Write(EntryPreDefinedErrorField, 0, []byte{0}))
	assert.Empty(t, emcy.History())

	// disabled through the cob id
	peer := newTestBusManager(t)
	peer.Listen(0x90)
	require.Nil(t, dict.Write(EntryCobIdEmergency, 0, binary.LittleEndian.AppendUint32(nil, 0x80000090)))
	require.Nil(t, emcy.Error(ErrHardware, 0))
	_, err = peer.Receive(context.Background(), 0x90, 20*time.Millisecond)
	assert.Equal(t, canopen.ErrTimeout, err)
	assert.Equal(t, od.ErrInvalidValue, dict.Write(EntryCobIdEmergency, 0, binary.LittleEndian.AppendUint32(nil, 0x10)))
}
