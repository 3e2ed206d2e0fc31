package sync

import (
	"encoding/binary"
	"time"

	"github.com/cotlab/gocanopen/pkg/od"
)

const (
	EntryCobIdSync           uint16 = 0x1005
	EntryCommunicationPeriod uint16 = 0x1006
	EntryCounterOverflow     uint16 = 0x1019
)

const producerBit uint32 = 0x40000000

// [SYNC] update cob id & if should be producer
func (sync *SYNC) writeEntry1005(data []byte) error {
	if len(data) != 4 {
		return od.ErrDevIncompat
	}
	cobIdSync := binary.LittleEndian.Uint32(data)
	canId := cobIdSync & 0x7FF
	if cobIdSync&0xBFFFF800 != 0 || canId == 0 {
		return od.ErrInvalidValue
	}
	if canId != sync.CobId() {
		if err := sync.listen(canId); err != nil {
			return od.ErrDevIncompat
		}
		sync.logger.Debugf("updated cob id to x%x", canId)
	}
	sync.mu.Lock()
	sync.producer = cobIdSync&producerBit != 0
	sync.counter = 0
	sync.mu.Unlock()
	sync.signal()
	return nil
}

// [SYNC] update communication cycle period, in µs
func (sync *SYNC) writeEntry1006(data []byte) error {
	if len(data) != 4 {
		return od.ErrDevIncompat
	}
	sync.SetPeriod(time.Duration(binary.LittleEndian.Uint32(data)) * time.Microsecond)
	return nil
}

// [SYNC] update counter overflow, refused while producing
func (sync *SYNC) writeEntry1019(data []byte) error {
	if len(data) != 1 {
		return od.ErrDevIncompat
	}
	if !validOverflow(data[0]) {
		return od.ErrInvalidValue
	}
	if sync.SetCounterOverflow(data[0]) != nil {
		return od.ErrDataDevState
	}
	return nil
}

// BindDictionary configures the SYNC from the COB-ID SYNC (0x1005),
// communication cycle period (0x1006) and counter overflow (0x1019)
// objects of dict and follows their later writes. Only 0x1005 is
// mandatory.
func (sync *SYNC) BindDictionary(dict *od.ObjectDictionary) error {
	value, err := dict.Get(EntryCobIdSync, 0)
	if err != nil {
		return err
	}
	if err := sync.writeEntry1005(value); err != nil {
		return err
	}
	if err := dict.AddExtension(EntryCobIdSync, 0, sync.writeEntry1005); err != nil {
		return err
	}
	// period last, the overflow can not change while producing
	period := sync.Period()
	sync.SetPeriod(0)
	bound, err := bindOptional(dict, EntryCounterOverflow, sync.writeEntry1019)
	if err == nil {
		bound, err = bindOptional(dict, EntryCommunicationPeriod, sync.writeEntry1006)
	}
	if err == nil && !bound {
		sync.SetPeriod(period)
	}
	return err
}

func bindOptional(dict *od.ObjectDictionary, index uint16, extension od.WriteExtension) (bool, error) {
	value, err := dict.Get(index, 0)
	if err == od.ErrIdxNotExist {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := extension(value); err != nil {
		return false, err
	}
	return true, dict.AddExtension(index, 0, extension)
}
