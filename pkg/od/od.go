package od

import (
	"fmt"
	"sort"
	"sync"

	"github.com/jpillora/maplock"
	log "github.com/sirupsen/logrus"
)

type key struct {
	index    uint16
	subindex uint8
}

func (k key) String() string {
	return fmt.Sprintf("%04x.%02x", k.index, k.subindex)
}

// ObjectDictionary is a table of variables keyed by (index, subindex).
// Accesses to one variable are serialized, accesses to different
// variables may run concurrently.
type ObjectDictionary struct {
	logger    *log.Entry
	mu        sync.RWMutex
	variables map[key]*Variable
	indexes   map[uint16]uint8 // number of sub entries per index
	locks     keyLocker
}

type keyLocker interface {
	Lock(key string)
	Unlock(key string)
}

func New(logger *log.Logger) *ObjectDictionary {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &ObjectDictionary{
		logger:    logger.WithField("service", "[OD]"),
		variables: make(map[key]*Variable),
		indexes:   make(map[uint16]uint8),
		locks:     maplock.New(),
	}
}

// AddVariable adds a new entry with its initial value
func (od *ObjectDictionary) AddVariable(index uint16, subindex uint8, name string, dataType uint8, attribute uint8, value []byte) (*Variable, error) {
	variable := &Variable{
		Index:     index,
		SubIndex:  subindex,
		Name:      name,
		DataType:  dataType,
		Attribute: attribute,
		value:     append([]byte{}, value...),
	}
	if err := variable.check(value); err != nil {
		return nil, fmt.Errorf("adding x%x|x%x %v : %w", index, subindex, name, err)
	}
	if variable.hasFixedSize() && len(value) > 1 {
		variable.Attribute |= AttributeMb
	}
	k := key{index, subindex}
	od.mu.Lock()
	defer od.mu.Unlock()
	if _, ok := od.variables[k]; ok {
		return nil, fmt.Errorf("x%x|x%x already exists : %w", index, subindex, ErrParIncompat)
	}
	od.variables[k] = variable
	od.indexes[index]++
	od.logger.Debugf("added x%x|x%x %v (%v)", index, subindex, name, DataTypeName(dataType))
	return variable, nil
}

// AddVariableType adds a new entry, the data type is deduced from value
func (od *ObjectDictionary) AddVariableType(index uint16, subindex uint8, name string, attribute uint8, value any) (*Variable, error) {
	dataType, err := DataTypeOf(value)
	if err != nil {
		return nil, err
	}
	encoded, err := EncodeFromType(value)
	if err != nil {
		return nil, err
	}
	return od.AddVariable(index, subindex, name, dataType, attribute, encoded)
}

// Index returns every variable stored under index, or nil
func (od *ObjectDictionary) Index(index uint16) []*Variable {
	od.mu.RLock()
	defer od.mu.RUnlock()
	var variables []*Variable
	for k, variable := range od.variables {
		if k.index == index {
			variables = append(variables, variable)
		}
	}
	return variables
}

// Variables returns every entry ordered by index then subindex
func (od *ObjectDictionary) Variables() []*Variable {
	od.mu.RLock()
	variables := make([]*Variable, 0, len(od.variables))
	for _, variable := range od.variables {
		variables = append(variables, variable)
	}
	od.mu.RUnlock()
	sort.Slice(variables, func(i, j int) bool {
		if variables[i].Index != variables[j].Index {
			return variables[i].Index < variables[j].Index
		}
		return variables[i].SubIndex < variables[j].SubIndex
	})
	return variables
}

func (od *ObjectDictionary) find(index uint16, subindex uint8) (*Variable, error) {
	od.mu.RLock()
	defer od.mu.RUnlock()
	variable, ok := od.variables[key{index, subindex}]
	if ok {
		return variable, nil
	}
	if od.indexes[index] == 0 {
		return nil, ErrIdxNotExist
	}
	return nil, ErrSubNotExist
}

// Variable returns the entry at (index, subindex)
func (od *ObjectDictionary) Variable(index uint16, subindex uint8) (*Variable, error) {
	return od.find(index, subindex)
}

// Read returns a copy of the value, as an SDO server would see it
func (od *ObjectDictionary) Read(index uint16, subindex uint8) ([]byte, error) {
	return od.read(index, subindex, true)
}

// Write stores data, as an SDO server would, checking attributes and size
func (od *ObjectDictionary) Write(index uint16, subindex uint8, data []byte) error {
	return od.write(index, subindex, data, true)
}

// Get returns a copy of the value without checking access rights
func (od *ObjectDictionary) Get(index uint16, subindex uint8) ([]byte, error) {
	return od.read(index, subindex, false)
}

// Set stores data without checking access rights
func (od *ObjectDictionary) Set(index uint16, subindex uint8, data []byte) error {
	return od.write(index, subindex, data, false)
}

func (od *ObjectDictionary) read(index uint16, subindex uint8, sdo bool) ([]byte, error) {
	variable, err := od.find(index, subindex)
	if err != nil {
		return nil, err
	}
	if sdo && !variable.readable() {
		return nil, ErrWriteOnly
	}
	k := key{index, subindex}.String()
	od.locks.Lock(k)
	defer od.locks.Unlock(k)
	return append([]byte{}, variable.value...), nil
}

func (od *ObjectDictionary) write(index uint16, subindex uint8, data []byte, sdo bool) error {
	variable, err := od.find(index, subindex)
	if err != nil {
		return err
	}
	if sdo && !variable.writable() {
		return ErrReadonly
	}
	if err := variable.check(data); err != nil {
		return err
	}
	k := key{index, subindex}.String()
	od.locks.Lock(k)
	defer od.locks.Unlock(k)
	if variable.onWrite != nil {
		if err := variable.onWrite(data); err != nil {
			return err
		}
	}
	variable.value = append(variable.value[:0:0], data...)
	return nil
}

// AddExtension registers a callback run on every write of (index, subindex),
// it replaces any previous one
func (od *ObjectDictionary) AddExtension(index uint16, subindex uint8, extension WriteExtension) error {
	variable, err := od.find(index, subindex)
	if err != nil {
		return err
	}
	k := key{index, subindex}.String()
	od.locks.Lock(k)
	defer od.locks.Unlock(k)
	variable.onWrite = extension
	return nil
}
