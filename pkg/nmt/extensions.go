package nmt

import (
	"encoding/binary"
	"time"

	"github.com/cotlab/gocanopen/pkg/od"
)

// [NMT] update heartbeat period
func (nmt *NMT) writeEntry1017(data []byte) error {
	if len(data) != 2 {
		return od.ErrDevIncompat
	}
	nmt.SetPeriod(time.Duration(binary.LittleEndian.Uint16(data)) * time.Millisecond)
	return nil
}

// BindDictionary takes the heartbeat period from the producer heartbeat
// time object (0x1017) of dict and follows its later writes
func (nmt *NMT) BindDictionary(dict *od.ObjectDictionary) error {
	value, err := dict.Get(0x1017, 0)
	if err != nil {
		return err
	}
	if err := nmt.writeEntry1017(value); err != nil {
		return err
	}
	return dict.AddExtension(0x1017, 0, nmt.writeEntry1017)
}
