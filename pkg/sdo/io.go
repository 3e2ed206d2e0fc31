package sdo

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/cotlab/gocanopen/pkg/od"
)

// ReadTyped reads a value and decodes it as dataType
func (client *SDOClient) ReadTyped(ctx context.Context, nodeId uint8, index uint16, subindex uint8, dataType uint8) (any, error) {
	data, err := client.ReadRaw(ctx, nodeId, index, subindex)
	if err != nil {
		return nil, err
	}
	return od.DecodeToType(data, dataType)
}

// WriteTyped encodes value as dataType and writes it.
// value is either a string parsed according to dataType, or a Go value
// of the matching type.
func (client *SDOClient) WriteTyped(ctx context.Context, nodeId uint8, index uint16, subindex uint8, dataType uint8, value any) error {
	var encoded []byte
	var err error
	switch v := value.(type) {
	case string:
		encoded, err = od.EncodeFromString(v, dataType)
	default:
		var actual uint8
		actual, err = od.DataTypeOf(value)
		if err == nil && actual != dataType && !(actual == od.OCTET_STRING && dataType == od.DOMAIN) {
			err = fmt.Errorf("%T is not %v : %w", value, od.DataTypeName(dataType), od.ErrTypeMismatch)
		}
		if err == nil {
			encoded, err = od.EncodeFromType(value)
		}
	}
	if err != nil {
		return err
	}
	return client.WriteRaw(ctx, nodeId, index, subindex, encoded)
}

func (client *SDOClient) readFixed(ctx context.Context, nodeId uint8, index uint16, subindex uint8, size int) ([]byte, error) {
	data, err := client.ReadRaw(ctx, nodeId, index, subindex)
	if err != nil {
		return nil, err
	}
	if len(data) != size {
		return nil, od.ErrTypeMismatch
	}
	return data, nil
}

// Helper function for reading directly a uint8
func (client *SDOClient) ReadUint8(ctx context.Context, nodeId uint8, index uint16, subindex uint8) (uint8, error) {
	data, err := client.readFixed(ctx, nodeId, index, subindex, 1)
	if err != nil {
		return 0, err
	}
	return data[0], nil
}

// Helper function for reading directly a uint16
func (client *SDOClient) ReadUint16(ctx context.Context, nodeId uint8, index uint16, subindex uint8) (uint16, error) {
	data, err := client.readFixed(ctx, nodeId, index, subindex, 2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(data), nil
}

// Helper function for reading directly a uint32
func (client *SDOClient) ReadUint32(ctx context.Context, nodeId uint8, index uint16, subindex uint8) (uint32, error) {
	data, err := client.readFixed(ctx, nodeId, index, subindex, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(data), nil
}

// Helper function for reading directly a uint64
func (client *SDOClient) ReadUint64(ctx context.Context, nodeId uint8, index uint16, subindex uint8) (uint64, error) {
	data, err := client.readFixed(ctx, nodeId, index, subindex, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(data), nil
}
