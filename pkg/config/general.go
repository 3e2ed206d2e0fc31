package config

import "context"

type Identity struct {
	VendorId       uint32
	ProductCode    uint32
	RevisionNumber uint32
	SerialNumber   uint32
}

type ManufacturerInformation struct {
	ManufacturerDeviceName      string
	ManufacturerHardwareVersion string
	ManufacturerSoftwareVersion string
}

// Read device type (0x1000, mandatory)
func (config *NodeConfigurator) ReadDeviceType(ctx context.Context) (uint32, error) {
	return config.client.ReadUint32(ctx, config.nodeId, EntryDeviceType, 0)
}

// Read identity object (0x1018, mandatory)
func (config *NodeConfigurator) ReadIdentity(ctx context.Context) (*Identity, error) {
	// Vendor ID is the only mandatory field
	vendorId, err := config.client.ReadUint32(ctx, config.nodeId, EntryIdentityObject, 1)
	if err != nil {
		return nil, err
	}
	productCode, _ := config.client.ReadUint32(ctx, config.nodeId, EntryIdentityObject, 2)
	revisionNumber, _ := config.client.ReadUint32(ctx, config.nodeId, EntryIdentityObject, 3)
	serialNumber, _ := config.client.ReadUint32(ctx, config.nodeId, EntryIdentityObject, 4)
	return &Identity{
		VendorId:       vendorId,
		ProductCode:    productCode,
		RevisionNumber: revisionNumber,
		SerialNumber:   serialNumber,
	}, nil
}

func (config *NodeConfigurator) readString(ctx context.Context, index uint16) (string, error) {
	raw, err := config.client.ReadRaw(ctx, config.nodeId, index, 0)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// Read manufacturer device name
func (config *NodeConfigurator) ReadManufacturerDeviceName(ctx context.Context) (string, error) {
	return config.readString(ctx, EntryManufacturerDeviceName)
}

// Read Manufacturer hardware version
func (config *NodeConfigurator) ReadManufacturerHardwareVersion(ctx context.Context) (string, error) {
	return config.readString(ctx, EntryManufacturerHardwareVersion)
}

// Read manufacturer software version
func (config *NodeConfigurator) ReadManufacturerSoftwareVersion(ctx context.Context) (string, error) {
	return config.readString(ctx, EntryManufacturerSoftwareVersion)
}

// Read manufacturer objects (0x1008,0x1009,0x100A, these are all optional)
func (config *NodeConfigurator) ReadManufacturerInformation(ctx context.Context) ManufacturerInformation {
	info := ManufacturerInformation{}
	info.ManufacturerDeviceName, _ = config.ReadManufacturerDeviceName(ctx)
	info.ManufacturerHardwareVersion, _ = config.ReadManufacturerHardwareVersion(ctx)
	info.ManufacturerSoftwareVersion, _ = config.ReadManufacturerSoftwareVersion(ctx)
	return info
}
