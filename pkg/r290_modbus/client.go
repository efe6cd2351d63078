package r290_modbus

import (
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/berfenger/heatpump2mqtt/internal/core/domain"
	"github.com/berfenger/heatpump2mqtt/internal/core/port"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

const (
	MODE_RTU_OVER_TCP = "rtuovertcp"
	MODE_TCP          = "tcp"
)

type ModbusInstrument struct {
	RecordTime func(fnName string, duration time.Duration, err error)
}

type ModbusTransport struct {
	mu         sync.Mutex
	client     *modbus.ModbusClient
	url        string
	retries    uint
	open       bool
	instrument []ModbusInstrument
	logger     *zap.Logger
}

func CreateModbusTransport(host string, port uint, mode string, timeout time.Duration, retries uint,
	logger *zap.Logger, instrumentation *ModbusInstrument) (*ModbusTransport, error) {

	var scheme string
	switch mode {
	case MODE_RTU_OVER_TCP, "":
		scheme = MODE_RTU_OVER_TCP
	case MODE_TCP:
		scheme = MODE_TCP
	default:
		return nil, fmt.Errorf("%w: unsupported modbus mode %s", domain.ErrConfiguration, mode)
	}

	url := fmt.Sprintf("%s://%s:%d", scheme, host, port)
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     url,
		Timeout: timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}

	var instrument []ModbusInstrument
	if instrumentation != nil {
		instrument = []ModbusInstrument{*instrumentation}
	}

	return &ModbusTransport{
		client:     client,
		url:        url,
		retries:    retries,
		instrument: instrument,
		logger:     logger,
	}, nil
}

func (t *ModbusTransport) Open() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.openLocked()
}

func (t *ModbusTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.open {
		return nil
	}
	t.open = false
	return t.client.Close()
}

func (t *ModbusTransport) ReadRegisters(slaveId uint8, address uint16, count uint16) ([]uint16, error) {
	var words []uint16
	err := t.withRetries("ReadRegisters", slaveId, func() error {
		var err error
		words, err = t.client.ReadRegisters(address, count, modbus.HOLDING_REGISTER)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read %d registers at 0x%04x (slave %d): %w", count, address, slaveId, err)
	}
	return words, nil
}

func (t *ModbusTransport) WriteRegister(slaveId uint8, address uint16, value uint16) error {
	err := t.withRetries("WriteRegister", slaveId, func() error {
		return t.client.WriteRegister(address, value)
	})
	if err != nil {
		return fmt.Errorf("write register 0x%04x (slave %d): %w", address, slaveId, err)
	}
	return nil
}

func (t *ModbusTransport) withRetries(name string, slaveId uint8, fn func() error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	var err error
	for attempt := uint(0); attempt <= t.retries; attempt++ {
		if attempt > 0 {
			t.logger.Debug("modbus retry", zap.String("op", name), zap.Uint("attempt", attempt), zap.Error(err))
		}
		if err = t.openLocked(); err != nil {
			continue
		}
		if err = t.client.SetUnitId(slaveId); err != nil {
			err = classifyError(err)
			break
		}
		done := RecordTimer(name, t.instrument)
		err = classifyError(fn())
		done(err)
		if err == nil {
			return nil
		}
		if !errors.Is(err, domain.ErrTransportTimeout) {
			// the device answered, retrying will not change the answer
			break
		}
		// drop the connection, the next attempt reconnects
		t.open = false
		t.client.Close()
	}
	return err
}

func (t *ModbusTransport) openLocked() error {
	if t.open {
		return nil
	}
	if err := t.client.Open(); err != nil {
		return fmt.Errorf("%w: open %s: %w", domain.ErrTransportTimeout, t.url, err)
	}
	t.open = true
	return nil
}

func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	switch {
	case errors.Is(err, modbus.ErrRequestTimedOut),
		errors.Is(err, os.ErrDeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %w", domain.ErrTransportTimeout, err)
	case errors.As(err, &netErr), errors.Is(err, net.ErrClosed):
		// connection level failures are retried like timeouts
		return fmt.Errorf("%w: %w", domain.ErrTransportTimeout, err)
	default:
		return fmt.Errorf("%w: %w", domain.ErrTransportProtocol, err)
	}
}

func RecordTimer(name string, instrument []ModbusInstrument) func(error) {
	if instrument == nil {
		return func(error) {}
	}

	start := time.Now()
	return func(err error) {
		duration := time.Since(start)
		for i := range instrument {
			instrument[i].RecordTime(name, duration, err)
		}
	}
}

// ensure interface compliance
var _ port.RegisterTransport = (*ModbusTransport)(nil)
