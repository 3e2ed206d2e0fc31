package pdo

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
)

// TPDO packs objects of the object dictionary and transmits them,
// on request or periodically
type TPDO struct {
	logger    *log.Entry
	exchange  *Exchange
	mapping   *Mapping
	reader    Reader
	eventTime time.Duration
	active    func() bool
}

// NewTPDO creates a TPDO, an eventTime of 0 disables periodic transmission
func NewTPDO(exchange *Exchange, mapping *Mapping, reader Reader, eventTime time.Duration) *TPDO {
	return &TPDO{
		logger:    exchange.logger.WithField("cobId", fmt.Sprintf("x%x", mapping.CobId)),
		exchange:  exchange,
		mapping:   mapping,
		reader:    reader,
		eventTime: eventTime,
	}
}

func (tpdo *TPDO) CobId() uint32 {
	return tpdo.mapping.CobId
}

// Send transmits the current values once
func (tpdo *TPDO) Send() error {
	payload, err := tpdo.mapping.Pack(tpdo.reader)
	if err != nil {
		return err
	}
	return tpdo.exchange.Send(tpdo.mapping.CobId, payload)
}

// OnlyWhen restricts periodic transmission to the periods where active
// returns true. Must be called before [TPDO.Run].
func (tpdo *TPDO) OnlyWhen(active func() bool) {
	tpdo.active = active
}

// Run transmits every eventTime until ctx is cancelled
func (tpdo *TPDO) Run(ctx context.Context) error {
	if tpdo.eventTime <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(tpdo.eventTime)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if tpdo.active != nil && !tpdo.active() {
				continue
			}
			if err := tpdo.Send(); err != nil {
				tpdo.logger.Warnf("[TX] pdo failed : %v", err)
			}
		}
	}
}
