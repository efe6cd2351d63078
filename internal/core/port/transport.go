package port

// RegisterTransport is the read/write primitive towards the device. Every call
// is bounded by the transport timeout.
type RegisterTransport interface {
	Open() error
	Close() error
	ReadRegisters(slaveId uint8, address uint16, count uint16) ([]uint16, error)
	WriteRegister(slaveId uint8, address uint16, value uint16) error
}

// BlobStore persists an opaque versioned blob. Load returns nil, nil when
// nothing has been saved yet.
type BlobStore interface {
	Load() ([]byte, error)
	Save(blob []byte) error
}
