package od

// Variable is a single (index, subindex) entry of the object dictionary
type Variable struct {
	Index     uint16
	SubIndex  uint8
	Name      string
	DataType  uint8
	Attribute uint8
	value     []byte
	onWrite   WriteExtension
}

// WriteExtension is called with the new value before it is stored.
// Returning an error rejects the write.
type WriteExtension func(data []byte) error

// Return number of bytes
func (variable *Variable) DataLength() uint32 {
	return uint32(len(variable.value))
}

func (variable *Variable) readable() bool {
	return variable.Attribute&AttributeSdoR != 0
}

func (variable *Variable) writable() bool {
	return variable.Attribute&AttributeSdoW != 0
}

// hasFixedSize is true for numeric types, whose length never changes
func (variable *Variable) hasFixedSize() bool {
	return CheckSize(0, variable.DataType) != nil
}

// check that data may be stored into the variable
func (variable *Variable) check(data []byte) error {
	if variable.hasFixedSize() {
		return CheckSize(len(data), variable.DataType)
	}
	return nil
}
