package pdo

import (
	"fmt"

	"github.com/cotlab/gocanopen/pkg/od"
)

// MappedEntry is one object carried by a PDO
type MappedEntry struct {
	Index    uint16
	SubIndex uint8
	Length   uint8 // bytes
}

// NewMappedEntry decodes a mapping parameter : index (16 bits), subindex
// (8 bits) and length in bits (8 bits)
func NewMappedEntry(mapParam uint32) (MappedEntry, error) {
	bits := uint8(mapParam)
	entry := MappedEntry{
		Index:    uint16(mapParam >> 16),
		SubIndex: uint8(mapParam >> 8),
		Length:   bits >> 3,
	}
	if bits&0x07 != 0 {
		return MappedEntry{}, fmt.Errorf("mapping x%x not byte aligned : %w", mapParam, od.ErrNoMap)
	}
	if entry.Length == 0 || entry.Length > MaxPdoLength {
		return MappedEntry{}, fmt.Errorf("mapping x%x : %w", mapParam, od.ErrMapLen)
	}
	return entry, nil
}

// Param is the reverse of [NewMappedEntry]
func (entry MappedEntry) Param() uint32 {
	return uint32(entry.Index)<<16 | uint32(entry.SubIndex)<<8 | uint32(entry.Length)<<3
}

// Mapping ties a PDO identifier to the objects packed in its payload
type Mapping struct {
	CobId   uint32
	Entries []MappedEntry
}

func NewMapping(cobId uint32, entries ...MappedEntry) (*Mapping, error) {
	if cobId < MinCobId || cobId > MaxCobId {
		return nil, fmt.Errorf("x%x : %w", cobId, ErrCobIdRange)
	}
	mapping := &Mapping{CobId: cobId, Entries: entries}
	if mapping.Length() > int(MaxPdoLength) {
		return nil, fmt.Errorf("mapping of x%x is %v bytes long : %w", cobId, mapping.Length(), od.ErrMapLen)
	}
	return mapping, nil
}

// Length is the payload size in bytes
func (mapping *Mapping) Length() int {
	length := 0
	for _, entry := range mapping.Entries {
		length += int(entry.Length)
	}
	return length
}

// Validate checks that every entry exists in dict, has the matching length
// and may be mapped in the given direction
func (mapping *Mapping) Validate(dict *od.ObjectDictionary, isRPDO bool) error {
	attribute := od.AttributeTpdo
	if isRPDO {
		attribute = od.AttributeRpdo
	}
	for _, entry := range mapping.Entries {
		variable, err := dict.Variable(entry.Index, entry.SubIndex)
		if err != nil {
			return fmt.Errorf("mapping x%x|x%x : %w", entry.Index, entry.SubIndex, err)
		}
		switch {
		case variable.Attribute&attribute == 0:
			return fmt.Errorf("mapping x%x|x%x attribute error : %w", entry.Index, entry.SubIndex, od.ErrNoMap)
		case od.CheckSize(int(entry.Length), variable.DataType) != nil || variable.DataLength() < uint32(entry.Length):
			return fmt.Errorf("mapping x%x|x%x length error : %w", entry.Index, entry.SubIndex, od.ErrNoMap)
		}
	}
	return nil
}

// Reader gives the values packed into a transmitted PDO
type Reader interface {
	Get(index uint16, subindex uint8) ([]byte, error)
}

// Writer stores the values unpacked from a received PDO
type Writer interface {
	Set(index uint16, subindex uint8, data []byte) error
}

// Pack builds the payload from the current values
func (mapping *Mapping) Pack(reader Reader) ([]byte, error) {
	payload := make([]byte, 0, mapping.Length())
	for _, entry := range mapping.Entries {
		value, err := reader.Get(entry.Index, entry.SubIndex)
		if err != nil {
			return nil, err
		}
		if len(value) < int(entry.Length) {
			return nil, od.ErrMapLen
		}
		payload = append(payload, value[:entry.Length]...)
	}
	return payload, nil
}

// Unpack splits payload and stores every entry. The payload must be at
// least as long as the mapping, extra bytes are ignored.
func (mapping *Mapping) Unpack(payload []byte, writer Writer) error {
	if len(payload) < mapping.Length() {
		return od.ErrDataShort
	}
	offset := 0
	for _, entry := range mapping.Entries {
		end := offset + int(entry.Length)
		if err := writer.Set(entry.Index, entry.SubIndex, payload[offset:end]); err != nil {
			return err
		}
		offset = end
	}
	return nil
}
