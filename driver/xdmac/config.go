package xdmac

// Config represents the fields of the channel configuration (CC)
// register.
type Config struct {
	// Peripheral selects a peripheral-synchronized transfer.
	// Zero means memory to memory.
	Peripheral bool
	// Burst is the memory burst size.
	Burst Burst
	// ToPeripheral sets the synchronization direction of
	// peripheral transfers to memory to peripheral.
	ToPeripheral bool
	// SoftwareRequest triggers peripheral transfers by software.
	SoftwareRequest bool
	// Chunk is the number of data elements per peripheral request.
	Chunk Chunk
	Width Width
	// SourceInterface and DestInterface select the AHB interface
	// used for each side (0 or 1).
	SourceInterface uint8
	DestInterface   uint8
	Source          AddressMode
	Dest            AddressMode
	// PeripheralID is the hardware request line.
	PeripheralID uint8
}

type Burst uint8

const (
	Single Burst = iota
	Burst4
	Burst8
	Burst16
)

type Chunk uint8

const (
	Chunk1 Chunk = iota
	Chunk2
	Chunk4
	Chunk8
	Chunk16
)

// Width is the data element size.
type Width uint8

const (
	Byte Width = iota
	HalfWord
	Word
	DoubleWord
)

// Bytes returns the element size in bytes.
func (w Width) Bytes() int {
	return 1 << w
}

type AddressMode uint8

const (
	Fixed AddressMode = iota
	Incremented
)

// CC register fields.
const (
	ccTypePos    = 0
	ccMBSizePos  = 1
	ccDSyncPos   = 4
	ccSWReqPos   = 6
	ccCSizePos   = 8
	ccDWidthPos  = 11
	ccSIFPos     = 13
	ccDIFPos     = 14
	ccSAMPos     = 16
	ccDAMPos     = 18
	ccPerIDPos   = 24
	ccMBSizeMask = 0b11
	ccCSizeMask  = 0b111
	ccDWidthMask = 0b11
	ccAMMask     = 0b11
	ccPerIDMask  = 0b111_1111
	ccTypeMask   = 0b1
	ccBitMask    = 0b1
)

// Encode returns the CC register value.
func (c Config) Encode() uint32 {
	if c.Chunk > Chunk16 {
		panic("invalid chunk size")
	}
	if c.SourceInterface > 1 || c.DestInterface > 1 {
		panic("invalid interface")
	}
	return boolToUint32(c.Peripheral)<<ccTypePos |
		uint32(c.Burst&ccMBSizeMask)<<ccMBSizePos |
		boolToUint32(c.ToPeripheral)<<ccDSyncPos |
		boolToUint32(c.SoftwareRequest)<<ccSWReqPos |
		uint32(c.Chunk)<<ccCSizePos |
		uint32(c.Width&ccDWidthMask)<<ccDWidthPos |
		uint32(c.SourceInterface)<<ccSIFPos |
		uint32(c.DestInterface)<<ccDIFPos |
		uint32(c.Source&ccAMMask)<<ccSAMPos |
		uint32(c.Dest&ccAMMask)<<ccDAMPos |
		uint32(c.PeripheralID&ccPerIDMask)<<ccPerIDPos
}

// DecodeConfig is the inverse of [Config.Encode].
func DecodeConfig(cc uint32) Config {
	return Config{
		Peripheral:      cc>>ccTypePos&ccTypeMask != 0,
		Burst:           Burst(cc >> ccMBSizePos & ccMBSizeMask),
		ToPeripheral:    cc>>ccDSyncPos&ccBitMask != 0,
		SoftwareRequest: cc>>ccSWReqPos&ccBitMask != 0,
		Chunk:           Chunk(cc >> ccCSizePos & ccCSizeMask),
		Width:           Width(cc >> ccDWidthPos & ccDWidthMask),
		SourceInterface: uint8(cc >> ccSIFPos & ccBitMask),
		DestInterface:   uint8(cc >> ccDIFPos & ccBitMask),
		Source:          AddressMode(cc >> ccSAMPos & ccAMMask),
		Dest:            AddressMode(cc >> ccDAMPos & ccAMMask),
		PeripheralID:    uint8(cc >> ccPerIDPos & ccPerIDMask),
	}
}

func boolToUint32(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
