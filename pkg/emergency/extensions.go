package emergency

import (
	"encoding/binary"

	"github.com/cotlab/gocanopen/pkg/od"
)

const (
	EntryErrorRegister        uint16 = 0x1001
	EntryPreDefinedErrorField uint16 = 0x1003
	EntryCobIdEmergency       uint16 = 0x1014
)

const (
	defaultHistorySize = 8
	maxHistorySize     = 254
)

const invalidBit uint32 = 0x80000000

// [EMCY] update cob id, the emergency is disabled when the valid bit is set
func (emcy *EMCY) writeEntry1014(data []byte) error {
	if len(data) != 4 {
		return od.ErrDevIncompat
	}
	cobId := binary.LittleEndian.Uint32(data)
	canId := cobId & 0x7FF
	if cobId&0x7FFFF800 != 0 || canId < 0x80 {
		return od.ErrInvalidValue
	}
	emcy.mu.Lock()
	defer emcy.mu.Unlock()
	emcy.enabled = cobId&invalidBit == 0
	emcy.cobId = canId
	return nil
}

// [EMCY] only 0 can be written to the number of errors, it clears the
// history
func (emcy *EMCY) writeEntry1003(data []byte) error {
	if len(data) != 1 {
		return od.ErrDevIncompat
	}
	emcy.mu.Lock()
	defer emcy.mu.Unlock()
	if data[0] == 0 {
		emcy.history = nil
		return nil
	}
	// internal update
	if int(data[0]) == len(emcy.history) {
		return nil
	}
	return od.ErrInvalidValue
}

// sync copies the error register and the error history into the
// bound dictionary
func (emcy *EMCY) sync() {
	emcy.mu.Lock()
	dict := emcy.dict
	register := emcy.register
	history := append([]uint32{}, emcy.history...)
	emcy.mu.Unlock()
	if dict == nil {
		return
	}
	if err := dict.Set(EntryErrorRegister, 0, []byte{register}); err != nil {
		emcy.logger.Warnf("failed to update error register : %v", err)
	}
	if len(dict.Index(EntryPreDefinedErrorField)) == 0 {
		return
	}
	for i, field := range history {
		if err := dict.Set(EntryPreDefinedErrorField, uint8(i+1), binary.LittleEndian.AppendUint32(nil, field)); err != nil {
			emcy.logger.Warnf("failed to update error history : %v", err)
			return
		}
	}
	if err := dict.Set(EntryPreDefinedErrorField, 0, []byte{uint8(len(history))}); err != nil {
		emcy.logger.Warnf("failed to update error history : %v", err)
	}
}

// BindDictionary mirrors the error register into 0x1001 and the error
// history into 0x1003 when present. The COB-ID EMCY (0x1014) is followed
// when present.
func (emcy *EMCY) BindDictionary(dict *od.ObjectDictionary) error {
	if _, err := dict.Get(EntryErrorRegister, 0); err != nil {
		return err
	}
	if value, err := dict.Get(EntryCobIdEmergency, 0); err == nil {
		if err := emcy.writeEntry1014(value); err != nil {
			return err
		}
		if err := dict.AddExtension(EntryCobIdEmergency, 0, emcy.writeEntry1014); err != nil {
			return err
		}
	} else if err != od.ErrIdxNotExist {
		return err
	}
	if fields := dict.Index(EntryPreDefinedErrorField); len(fields) > 1 {
		if err := dict.AddExtension(EntryPreDefinedErrorField, 0, emcy.writeEntry1003); err != nil {
			return err
		}
		emcy.mu.Lock()
		emcy.historySize = min(len(fields)-1, maxHistorySize)
		if len(emcy.history) > emcy.historySize {
			emcy.history = emcy.history[:emcy.historySize]
		}
		emcy.mu.Unlock()
	}
	emcy.mu.Lock()
	emcy.dict = dict
	emcy.mu.Unlock()
	emcy.sync()
	return nil
}
