package od

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
)

// Object types found in EDS files
const (
	ObjectTypeDOMAIN uint8 = 2
	ObjectTypeVAR    uint8 = 7
	ObjectTypeARRAY  uint8 = 8
	ObjectTypeRECORD uint8 = 9
)

var (
	matchIdxRegExp    = regexp.MustCompile(`^[0-9A-Fa-f]{4}$`)
	matchSubidxRegExp = regexp.MustCompile(`^([0-9A-Fa-f]{4})(?i:sub)([0-9A-Fa-f]+)$`)
	nodeIdRegExp      = regexp.MustCompile(`\+?\$NODEID\+?`)
)

// Parse an EDS file
// file can be either a path or an *os.File or []byte, as accepted by [ini.Load].
// $NODEID in default values is replaced by nodeId.
func Parse(file any, nodeId uint8) (*ObjectDictionary, error) {
	edsFile, err := ini.Load(file)
	if err != nil {
		return nil, err
	}
	od := New(nil)
	for _, section := range edsFile.Sections() {
		sectionName := section.Name()

		// Plain objects, arrays and records only announce their sub entries
		if matchIdxRegExp.MatchString(sectionName) {
			idx, err := strconv.ParseUint(sectionName, 16, 16)
			if err != nil {
				return nil, err
			}
			objectType := ObjectTypeVAR
			if objType, err := strconv.ParseUint(section.Key("ObjectType").Value(), 0, 8); err == nil {
				objectType = uint8(objType)
			}
			switch objectType {
			case ObjectTypeVAR, ObjectTypeDOMAIN:
				if err := od.addSection(section, uint16(idx), 0, nodeId); err != nil {
					return nil, err
				}
			case ObjectTypeARRAY, ObjectTypeRECORD:
			default:
				return nil, fmt.Errorf("[OD] unknown object type %v whilst parsing x%x", objectType, idx)
			}
		}

		if match := matchSubidxRegExp.FindStringSubmatch(sectionName); match != nil {
			idx, err := strconv.ParseUint(match[1], 16, 16)
			if err != nil {
				return nil, err
			}
			sidx, err := strconv.ParseUint(match[2], 16, 8)
			if err != nil {
				return nil, err
			}
			if err := od.addSection(section, uint16(idx), uint8(sidx), nodeId); err != nil {
				return nil, err
			}
		}
	}
	return od, nil
}

// Create variable from section entry
func (od *ObjectDictionary) addSection(section *ini.Section, index uint16, subindex uint8, nodeId uint8) error {
	name := section.Key("ParameterName").String()

	accessType, err := section.GetKey("AccessType")
	if err != nil {
		return fmt.Errorf("failed to get 'AccessType' for x%x|x%x", index, subindex)
	}
	// Get PDOMapping to know if pdo mappable
	pdoMapping := true
	if pM, err := section.GetKey("PDOMapping"); err == nil {
		pdoMapping, err = pM.Bool()
		if err != nil {
			return err
		}
	}
	dataType, err := strconv.ParseUint(section.Key("DataType").Value(), 0, 8)
	if err != nil {
		return fmt.Errorf("failed to parse 'DataType' for x%x|x%x, because %v", index, subindex, err)
	}

	var value []byte
	if defaultValue, err := section.GetKey("DefaultValue"); err == nil {
		value, err = encodeDefault(defaultValue.Value(), uint8(dataType), nodeId)
		if err != nil {
			return fmt.Errorf("failed to parse 'DefaultValue' for x%x|x%x, because %v (datatype :x%x)", index, subindex, err, dataType)
		}
	} else if CheckSize(0, uint8(dataType)) != nil {
		value, err = EncodeFromString("0", uint8(dataType))
		if err != nil {
			return err
		}
	}
	attribute := EncodeAttribute(strings.ToLower(accessType.String()), pdoMapping, uint8(dataType))
	_, err = od.AddVariable(index, subindex, name, uint8(dataType), attribute, value)
	return err
}

// encodeDefault encodes an EDS default value, "$NODEID+0x180" is
// offset by nodeId
func encodeDefault(value string, dataType uint8, nodeId uint8) ([]byte, error) {
	if !strings.Contains(value, "$NODEID") {
		return EncodeFromString(value, dataType)
	}
	value = strings.TrimSpace(nodeIdRegExp.ReplaceAllString(value, ""))
	offset := uint64(0)
	if value != "" {
		var err error
		offset, err = strconv.ParseUint(value, 0, 64)
		if err != nil {
			return nil, err
		}
	}
	return EncodeFromString(strconv.FormatUint(offset+uint64(nodeId), 10), dataType)
}

// EncodeAttribute builds the attribute of an object from its EDS description
func EncodeAttribute(accessType string, pdoMapping bool, dataType uint8) uint8 {
	var attribute uint8

	switch accessType {
	case "rw", "rww", "rwr":
		attribute = AttributeSdoRw
	case "ro", "const":
		attribute = AttributeSdoR
	case "wo":
		attribute = AttributeSdoW
	default:
		attribute = AttributeSdoRw
	}
	// read-only objects can only be transmitted, write-only only received
	if pdoMapping {
		switch attribute {
		case AttributeSdoR:
			attribute |= AttributeTpdo
		case AttributeSdoW:
			attribute |= AttributeRpdo
		default:
			attribute |= AttributeTrpdo
		}
	}
	if dataType == VISIBLE_STRING || dataType == OCTET_STRING {
		attribute |= AttributeStr
	}
	return attribute
}
