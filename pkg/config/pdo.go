package config

import (
	"context"
	"errors"
	"fmt"

	"github.com/cotlab/gocanopen/pkg/pdo"
	"github.com/cotlab/gocanopen/pkg/sdo"
	log "github.com/sirupsen/logrus"
)

// PDO numbers as used by the configurator, RPDOs come first
const (
	MinRpdoNumber       uint16 = 1
	MaxRpdoNumber       uint16 = 512
	MinTpdoNumber       uint16 = 513
	MaxTpdoNumber       uint16 = 1024
	MinPdoNumber        uint16 = MinRpdoNumber
	MaxPdoNumber        uint16 = MaxTpdoNumber
	MaxMappedEntriesPdo uint8  = 8
)

// Holds a PDO configuration
type PDOConfigurationParameter struct {
	CanId            uint16
	Enabled          bool
	TransmissionType uint8
	InhibitTime      uint16
	EventTimer       uint16
	Mappings         []pdo.MappedEntry
}

// Mapping returns the configuration as a mapping usable by [pdo.NewRPDO]
// or [pdo.NewTPDO]
func (conf PDOConfigurationParameter) Mapping() (*pdo.Mapping, error) {
	return pdo.NewMapping(uint32(conf.CanId), conf.Mappings...)
}

func (conf *NodeConfigurator) getType(pdoNb uint16) string {
	if pdoNb <= MaxRpdoNumber {
		return "RPDO"
	}
	return "TPDO"
}

func (conf *NodeConfigurator) getMappingIndex(pdoNb uint16) uint16 {
	if pdoNb <= MaxRpdoNumber {
		return EntryRPDOMappingStart + pdoNb - 1
	}
	return EntryTPDOMappingStart + pdoNb - MaxRpdoNumber - 1
}

func (conf *NodeConfigurator) getCommunicationIndex(pdoNb uint16) uint16 {
	if pdoNb <= MaxRpdoNumber {
		return EntryRPDOCommunicationStart + pdoNb - 1
	}
	return EntryTPDOCommunicationStart + pdoNb - MaxRpdoNumber - 1
}

func (config *NodeConfigurator) ReadCobIdPDO(ctx context.Context, pdoNb uint16) (uint32, error) {
	pdoCommIndex := config.getCommunicationIndex(pdoNb)
	return config.client.ReadUint32(ctx, config.nodeId, pdoCommIndex, 1)
}

func (config *NodeConfigurator) ReadEnabledPDO(ctx context.Context, pdoNb uint16) (bool, error) {
	cobId, err := config.ReadCobIdPDO(ctx, pdoNb)
	if err != nil {
		return false, err
	}
	return (cobId>>31)&0b1 == 0, nil
}

func (config *NodeConfigurator) ReadTransmissionType(ctx context.Context, pdoNb uint16) (uint8, error) {
	pdoCommIndex := config.getCommunicationIndex(pdoNb)
	return config.client.ReadUint8(ctx, config.nodeId, pdoCommIndex, 2)
}

func (config *NodeConfigurator) ReadInhibitTime(ctx context.Context, pdoNb uint16) (uint16, error) {
	pdoCommIndex := config.getCommunicationIndex(pdoNb)
	return config.client.ReadUint16(ctx, config.nodeId, pdoCommIndex, 3)
}

func (config *NodeConfigurator) ReadEventTimer(ctx context.Context, pdoNb uint16) (uint16, error) {
	pdoCommIndex := config.getCommunicationIndex(pdoNb)
	return config.client.ReadUint16(ctx, config.nodeId, pdoCommIndex, 5)
}

func (config *NodeConfigurator) ReadNbMappings(ctx context.Context, pdoNb uint16) (uint8, error) {
	pdoMappingIndex := config.getMappingIndex(pdoNb)
	return config.client.ReadUint8(ctx, config.nodeId, pdoMappingIndex, 0)
}

func (config *NodeConfigurator) ReadMappings(ctx context.Context, pdoNb uint16) ([]pdo.MappedEntry, error) {
	pdoMappingIndex := config.getMappingIndex(pdoNb)
	nbMappings, err := config.ReadNbMappings(ctx, pdoNb)
	if err != nil {
		return nil, err
	}
	if nbMappings > MaxMappedEntriesPdo {
		return nil, fmt.Errorf("%v mapped entries : %w", nbMappings, sdo.AbortMapLen)
	}
	mappings := make([]pdo.MappedEntry, 0, nbMappings)
	for i := uint8(0); i < nbMappings; i++ {
		rawMap, err := config.client.ReadUint32(ctx, config.nodeId, pdoMappingIndex, i+1)
		if err != nil {
			return nil, err
		}
		mapping, err := pdo.NewMappedEntry(rawMap)
		if err != nil {
			return nil, err
		}
		mappings = append(mappings, mapping)
	}
	return mappings, nil
}

// Reads configuration of a single PDO
func (config *NodeConfigurator) ReadConfigurationPDO(ctx context.Context, pdoNb uint16) (PDOConfigurationParameter, error) {
	conf := PDOConfigurationParameter{}
	cobId, err := config.ReadCobIdPDO(ctx, pdoNb)
	if err != nil {
		return conf, err
	}
	conf.CanId = uint16(cobId & 0x7FF)
	conf.Enabled = (cobId>>31)&0b1 == 0
	conf.TransmissionType, err = config.ReadTransmissionType(ctx, pdoNb)
	if err != nil {
		return conf, err
	}
	// Optional
	conf.InhibitTime, _ = config.ReadInhibitTime(ctx, pdoNb)
	// Optional
	conf.EventTimer, _ = config.ReadEventTimer(ctx, pdoNb)
	conf.Mappings, err = config.ReadMappings(ctx, pdoNb)
	config.logger.WithFields(log.Fields{
		"type":  config.getType(pdoNb),
		"pdoNb": pdoNb,
		"conf":  fmt.Sprintf("%+v", conf),
	}).Debug("read configuration")
	return conf, err
}

// Reads configuration of a range of PDOs, stopping at the first missing one
func (config *NodeConfigurator) ReadConfigurationRangePDO(
	ctx context.Context, pdoStartNb uint16, pdoEndNb uint16,
) ([]PDOConfigurationParameter, error) {

	if pdoStartNb < MinPdoNumber || pdoEndNb > MaxPdoNumber || pdoStartNb > pdoEndNb {
		return nil, errors.New("pdo number or length is incorrect")
	}
	pdos := make([]PDOConfigurationParameter, 0)
	for pdoNb := pdoStartNb; pdoNb <= pdoEndNb; pdoNb++ {
		conf, err := config.ReadConfigurationPDO(ctx, pdoNb)
		if errors.Is(err, sdo.AbortNotExist) {
			config.logger.Debugf("no more %v after %v", config.getType(pdoNb), pdoNb-1)
			break
		} else if err != nil {
			config.logger.Errorf("failed to read configuration of %v %v : %v", config.getType(pdoNb), pdoNb, err)
			return pdos, err
		}
		pdos = append(pdos, conf)
	}
	return pdos, nil
}

// Reads complete PDO configuration (RPDO, TPDO)
// Returns RPDOs and TPDOs configurations in two seperate lists
func (config *NodeConfigurator) ReadConfigurationAllPDO(ctx context.Context) (
	rpdos []PDOConfigurationParameter, tpdos []PDOConfigurationParameter, err error,
) {
	rpdos, err = config.ReadConfigurationRangePDO(ctx, MinRpdoNumber, MaxRpdoNumber)
	if err != nil {
		return rpdos, tpdos, err
	}
	tpdos, err = config.ReadConfigurationRangePDO(ctx, MinTpdoNumber, MaxTpdoNumber)
	return rpdos, tpdos, err
}

// Disable PDO
func (config *NodeConfigurator) DisablePDO(ctx context.Context, pdoNb uint16) error {
	cobId, err := config.ReadCobIdPDO(ctx, pdoNb)
	if err != nil {
		return err
	}
	cobId |= (1 << 31)
	return config.write(ctx, config.getCommunicationIndex(pdoNb), 1, cobId)
}

// Enable PDO
func (config *NodeConfigurator) EnablePDO(ctx context.Context, pdoNb uint16) error {
	cobId, err := config.ReadCobIdPDO(ctx, pdoNb)
	if err != nil {
		return err
	}
	cobId &= ^(uint32(1) << 31)
	return config.write(ctx, config.getCommunicationIndex(pdoNb), 1, cobId)
}

func (config *NodeConfigurator) WriteCanIdPDO(ctx context.Context, pdoNb uint16, canId uint16) error {
	cobId, err := config.ReadCobIdPDO(ctx, pdoNb)
	if err != nil {
		return err
	}
	cobId &= 0xFFFFF800 // clear cobid bits
	cobId |= uint32(canId)
	return config.write(ctx, config.getCommunicationIndex(pdoNb), 1, cobId)
}

func (config *NodeConfigurator) WriteTransmissionType(ctx context.Context, pdoNb uint16, transType uint8) error {
	return config.write(ctx, config.getCommunicationIndex(pdoNb), 2, transType)
}

func (config *NodeConfigurator) WriteInhibitTime(ctx context.Context, pdoNb uint16, inhibitTime uint16) error {
	return config.write(ctx, config.getCommunicationIndex(pdoNb), 3, inhibitTime)
}

func (config *NodeConfigurator) WriteEventTimer(ctx context.Context, pdoNb uint16, eventTimer uint16) error {
	return config.write(ctx, config.getCommunicationIndex(pdoNb), 5, eventTimer)
}

// Clear all the PDO mappings
func (config *NodeConfigurator) ClearMappings(ctx context.Context, pdoNb uint16) error {
	pdoMappingIndex := config.getMappingIndex(pdoNb)
	// First clear nb of mapped entries
	if err := config.write(ctx, pdoMappingIndex, 0, uint8(0)); err != nil {
		return err
	}
	for i := uint8(0); i < MaxMappedEntriesPdo; i++ {
		if err := config.write(ctx, pdoMappingIndex, i+1, uint32(0)); err != nil {
			return err
		}
	}
	return nil
}

// Write new PDO mapping
// Takes a list of objects to map and will fill them up in the given order
// This will first clear the current mapping
func (config *NodeConfigurator) WriteMappings(ctx context.Context, pdoNb uint16, mappings []pdo.MappedEntry) error {
	if len(mappings) > int(MaxMappedEntriesPdo) {
		return fmt.Errorf("%v mapped entries : %w", len(mappings), sdo.AbortMapLen)
	}
	pdoMappingIndex := config.getMappingIndex(pdoNb)
	if err := config.ClearMappings(ctx, pdoNb); err != nil {
		return err
	}
	for sub, mapping := range mappings {
		if err := config.write(ctx, pdoMappingIndex, uint8(sub)+1, mapping.Param()); err != nil {
			return err
		}
	}
	// Update number of mapped objects
	return config.write(ctx, pdoMappingIndex, 0, uint8(len(mappings)))
}

// Update whole configuration
func (config *NodeConfigurator) WriteConfigurationPDO(ctx context.Context, pdoNb uint16, conf PDOConfigurationParameter) error {
	config.logger.WithFields(log.Fields{
		"type":  config.getType(pdoNb),
		"pdoNb": pdoNb,
		"conf":  fmt.Sprintf("%+v", conf),
	}).Debug("updating configuration")
	if err := config.WriteCanIdPDO(ctx, pdoNb, conf.CanId); err != nil {
		return err
	}
	if err := config.WriteTransmissionType(ctx, pdoNb, conf.TransmissionType); err != nil {
		return err
	}
	if err := config.WriteEventTimer(ctx, pdoNb, conf.EventTimer); err != nil {
		return err
	}
	if err := config.WriteInhibitTime(ctx, pdoNb, conf.InhibitTime); err != nil {
		return err
	}
	if err := config.WriteMappings(ctx, pdoNb, conf.Mappings); err != nil {
		return err
	}
	if conf.Enabled {
		return config.EnablePDO(ctx, pdoNb)
	}
	return config.DisablePDO(ctx, pdoNb)
}
