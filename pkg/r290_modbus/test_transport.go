package r290_modbus

import (
	"fmt"
	"sync"

	"github.com/berfenger/heatpump2mqtt/internal/core/domain"
	"github.com/berfenger/heatpump2mqtt/internal/core/port"
)

type ReadCall struct {
	SlaveId uint8
	Address uint16
	Count   uint16
}

type WriteCall struct {
	SlaveId uint8
	Address uint16
	Value   uint16
}

// TestTransport is an in-memory register bank.
type TestTransport struct {
	mu        sync.Mutex
	registers map[uint8]map[uint16]uint16
	failing   map[uint16]error
	reads     []ReadCall
	writes    []WriteCall
	maxCount  uint16
	opens     int
	openErr   error
}

func CreateTestTransport() *TestTransport {
	t := &TestTransport{
		registers: map[uint8]map[uint16]uint16{},
		failing:   map[uint16]error{},
		maxCount:  125,
	}
	t.seedR290(1)
	return t
}

func (t *TestTransport) Open() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.opens++
	return t.openErr
}

// FailOpen makes the following Open calls return err. A nil err restores them.
func (t *TestTransport) FailOpen(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.openErr = err
}

// Opens counts the Open calls.
func (t *TestTransport) Opens() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.opens
}

func (t *TestTransport) Close() error {
	return nil
}

func (t *TestTransport) ReadRegisters(slaveId uint8, address uint16, count uint16) ([]uint16, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.reads = append(t.reads, ReadCall{SlaveId: slaveId, Address: address, Count: count})
	if count == 0 || count > t.maxCount {
		return nil, fmt.Errorf("%w: illegal quantity %d", domain.ErrTransportProtocol, count)
	}
	for a := address; a < address+count; a++ {
		if err, ok := t.failing[a]; ok {
			return nil, err
		}
	}
	bank := t.registers[slaveId]
	words := make([]uint16, count)
	for i := range words {
		words[i] = bank[address+uint16(i)]
	}
	return words, nil
}

func (t *TestTransport) WriteRegister(slaveId uint8, address uint16, value uint16) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err, ok := t.failing[address]; ok {
		return err
	}
	t.writes = append(t.writes, WriteCall{SlaveId: slaveId, Address: address, Value: value})
	t.bank(slaveId)[address] = value
	return nil
}

func (t *TestTransport) Set(slaveId uint8, address uint16, words ...uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	bank := t.bank(slaveId)
	for i, w := range words {
		bank[address+uint16(i)] = w
	}
}

// SetUint32 stores a 32-bit value high word first.
func (t *TestTransport) SetUint32(slaveId uint8, address uint16, value uint32) {
	t.Set(slaveId, address, uint16(value>>16), uint16(value))
}

// Fail makes every request touching address return err until Recover is called.
func (t *TestTransport) Fail(address uint16, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failing[address] = err
}

func (t *TestTransport) Recover(address uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.failing, address)
}

func (t *TestTransport) Reads() []ReadCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]ReadCall(nil), t.reads...)
}

func (t *TestTransport) Writes() []WriteCall {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]WriteCall(nil), t.writes...)
}

func (t *TestTransport) bank(slaveId uint8) map[uint16]uint16 {
	bank, ok := t.registers[slaveId]
	if !ok {
		bank = map[uint16]uint16{}
		t.registers[slaveId] = bank
	}
	return bank
}

func (t *TestTransport) seedR290(slaveId uint8) {
	bank := t.bank(slaveId)
	bank[0x0100] = 0xFFDD // -3.5 °C
	bank[0x0101] = 352
	bank[0x0102] = 301
	bank[0x0103] = 478
	bank[0x0104] = 214
	bank[0x0105] = 48
	bank[0x0106] = 620
	bank[0x0107] = 182
	bank[0x0108] = 1250
	bank[0x0109] = 4100
	bank[0x010A] = 1
	// 523.47 kWh electrical, 5210.90 kWh heat
	bank[0x0110], bank[0x0111] = 0, 52347
	bank[0x0112], bank[0x0113] = uint16(521090>>16), uint16(521090&0xffff)
	bank[0x0200], bank[0x0201] = 0, 8123
	bank[0x0202], bank[0x0203] = 0, 2290
	bank[0x0204] = 311
	bank[0x0210] = 107
	bank[0x0300] = 18
	bank[0x0301] = 35
	bank[0x0302] = 50
	bank[0x0303] = 30
}

// ensure interface compliance
var _ port.RegisterTransport = (*TestTransport)(nil)
