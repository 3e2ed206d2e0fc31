package od

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadWrite(t *testing.T) {
	od := New(nil)
	_, err := od.AddVariableType(0x8193, 5, "u8 value", AttributeSdoRw, uint8(0))
	require.Nil(t, err)
	_, err = od.AddVariable(0x2005, 1, "domain", DOMAIN, AttributeSdoRw, []byte("Tiny Node - Mega Domains !"))
	require.Nil(t, err)

	assert.Nil(t, od.Write(0x8193, 5, []byte{0x01}))
	value, err := od.Read(0x8193, 5)
	assert.Nil(t, err)
	assert.Equal(t, []byte{0x01}, value)

	assert.Equal(t, ErrDataLong, od.Write(0x8193, 5, []byte{0x01, 0x02}))
	assert.Equal(t, ErrDataShort, od.Write(0x8193, 5, []byte{}))

	value, err = od.Read(0x2005, 1)
	assert.Nil(t, err)
	assert.Len(t, value, 26)
	assert.Nil(t, od.Write(0x2005, 1, []byte("short")))
	value, _ = od.Read(0x2005, 1)
	assert.Equal(t, "short", string(value))
}

func TestMissingEntries(t *testing.T) {
	od := New(nil)
	_, err := od.AddVariableType(0x2000, 0, "x", AttributeSdoRw, uint16(1))
	require.Nil(t, err)
	_, err = od.Read(0x3000, 0)
	assert.Equal(t, ErrIdxNotExist, err)
	_, err = od.Read(0x2000, 1)
	assert.Equal(t, ErrSubNotExist, err)
	_, err = od.AddVariableType(0x2000, 0, "x", AttributeSdoRw, uint16(1))
	assert.ErrorIs(t, err, ErrParIncompat)
}

func TestAccessRights(t *testing.T) {
	od := New(nil)
	_, err := od.AddVariableType(0x1000, 0, "device type", AttributeSdoR, uint32(0x191))
	require.Nil(t, err)
	_, err = od.AddVariableType(0x2001, 0, "command", AttributeSdoW, uint8(0))
	require.Nil(t, err)

	assert.Equal(t, ErrReadonly, od.Write(0x1000, 0, []byte{1, 2, 3, 4}))
	assert.Nil(t, od.Set(0x1000, 0, []byte{1, 2, 3, 4}))
	_, err = od.Read(0x2001, 0)
	assert.Equal(t, ErrWriteOnly, err)
	value, err := od.Get(0x2001, 0)
	assert.Nil(t, err)
	assert.Equal(t, []byte{0}, value)
}

func TestReadReturnsCopy(t *testing.T) {
	od := New(nil)
	_, err := od.AddVariableType(0x2000, 0, "x", AttributeSdoRw, uint32(0x01020304))
	require.Nil(t, err)
	value, _ := od.Read(0x2000, 0)
	value[0] = 0xFF
	again, _ := od.Read(0x2000, 0)
	assert.EqualValues(t, 0x04, again[0])
}

func TestConcurrentAccess(t *testing.T) {
	od := New(nil)
	_, err := od.AddVariableType(0x2000, 0, "counter", AttributeSdoRw, uint32(0))
	require.Nil(t, err)
	_, err = od.AddVariableType(0x2000, 1, "other", AttributeSdoRw, uint32(0))
	require.Nil(t, err)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			data, _ := EncodeFromType(uint32(i))
			assert.Nil(t, od.Write(0x2000, uint8(i%2), data))
			_, err := od.Read(0x2000, uint8(i%2))
			assert.Nil(t, err)
		}(i)
	}
	wg.Wait()
	assert.Len(t, od.Index(0x2000), 2)
}

func TestExtension(t *testing.T) {
	od := New(nil)
	_, err := od.AddVariableType(0x1017, 0, "producer heartbeat time", AttributeSdoRw, uint16(1000))
	require.Nil(t, err)

	var written []byte
	require.Nil(t, od.AddExtension(0x1017, 0, func(data []byte) error {
		if data[0] == 0xFF {
			return ErrValueHigh
		}
		written = data
		return nil
	}))
	assert.Nil(t, od.Write(0x1017, 0, []byte{0x10, 0x00}))
	assert.Equal(t, []byte{0x10, 0x00}, written)

	assert.Equal(t, ErrValueHigh, od.Write(0x1017, 0, []byte{0xFF, 0x00}))
	value, _ := od.Get(0x1017, 0)
	assert.Equal(t, []byte{0x10, 0x00}, value)

	assert.Equal(t, ErrIdxNotExist, od.AddExtension(0x1016, 0, nil))
}

func TestVariablesOrdered(t *testing.T) {
	od := New(nil)
	_, err := od.AddVariableType(0x2001, 1, "b", AttributeSdoRw, uint8(0))
	require.Nil(t, err)
	_, err = od.AddVariableType(0x1000, 0, "a", AttributeSdoR, uint32(0))
	require.Nil(t, err)
	_, err = od.AddVariableType(0x2001, 0, "c", AttributeSdoR, uint8(1))
	require.Nil(t, err)

	names := []string{}
	for _, variable := range od.Variables() {
		names = append(names, variable.Name)
	}
	assert.Equal(t, []string{"a", "c", "b"}, names)
}
