package heartbeat

import (
	"encoding/binary"
	"time"

	"github.com/cotlab/gocanopen/pkg/od"
)

// [Monitor] update a consumer heartbeat time entry, current is the node
// monitored by this entry
func (monitor *Monitor) writeEntry1016(current *uint8) od.WriteExtension {
	return func(data []byte) error {
		if len(data) != 4 {
			return od.ErrDevIncompat
		}
		hbConsValue := binary.LittleEndian.Uint32(data)
		nodeId := uint8(hbConsValue >> 16)
		periodMs := uint16(hbConsValue & 0xFFFF)
		if nodeId > 0x7F {
			return od.ErrParIncompat
		}
		if *current != 0 && *current != nodeId {
			monitor.Remove(*current)
		}
		*current = nodeId
		if nodeId == 0 {
			return nil
		}
		if err := monitor.Add(nodeId, time.Duration(periodMs)*time.Millisecond); err != nil {
			return od.ErrParIncompat
		}
		return nil
	}
}

// BindDictionary monitors the nodes listed in the consumer heartbeat
// time object (0x1016) of dict and follows its later writes
func (monitor *Monitor) BindDictionary(dict *od.ObjectDictionary) error {
	variables := dict.Index(0x1016)
	if len(variables) == 0 {
		return od.ErrIdxNotExist
	}
	for _, variable := range variables {
		if variable.SubIndex == 0 {
			continue
		}
		value, err := dict.Get(variable.Index, variable.SubIndex)
		if err != nil {
			return err
		}
		extension := monitor.writeEntry1016(new(uint8))
		if err := extension(value); err != nil {
			return err
		}
		if err := dict.AddExtension(variable.Index, variable.SubIndex, extension); err != nil {
			return err
		}
	}
	return nil
}
