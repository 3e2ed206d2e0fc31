package time

import (
	"encoding/binary"

	"github.com/cotlab/gocanopen/pkg/od"
)

const EntryCobIdTime uint16 = 0x1012

// [TIME] update cob id & if should be producer or consumer
func (t *TIME) writeEntry1012(data []byte) error {
	if len(data) != 4 {
		return od.ErrDevIncompat
	}
	cobIdTimestamp := binary.LittleEndian.Uint32(data)
	canId := cobIdTimestamp & 0x7FF
	if cobIdTimestamp&0x3FFFF800 != 0 || canId == 0 {
		return od.ErrInvalidValue
	}
	t.mu.Lock()
	current := t.cobId
	t.mu.Unlock()
	if canId != current {
		if err := t.listen(canId); err != nil {
			return od.ErrDevIncompat
		}
	}
	t.mu.Lock()
	t.isConsumer = cobIdTimestamp&0x80000000 != 0
	t.isProducer = cobIdTimestamp&0x40000000 != 0
	t.mu.Unlock()
	// restarts the producer ticker
	t.SetInterval(t.Interval())
	return nil
}

// BindDictionary configures the TIME from the COB-ID TIME object
// (0x1012) of dict and follows its later writes. The production interval
// is not part of the dictionary.
func (t *TIME) BindDictionary(dict *od.ObjectDictionary) error {
	value, err := dict.Get(EntryCobIdTime, 0)
	if err != nil {
		return err
	}
	if err := t.writeEntry1012(value); err != nil {
		return err
	}
	return dict.AddExtension(EntryCobIdTime, 0, t.writeEntry1012)
}
