package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/berfenger/heatpump2mqtt/internal/core/domain"
	"github.com/berfenger/heatpump2mqtt/internal/core/port"
	"github.com/berfenger/heatpump2mqtt/internal/core/store"

	"go.uber.org/zap"
)

const POLL_TIMEOUT_MARGIN = 2 * time.Second

type PollerConfig struct {
	BlockSize  uint16
	MaxGap     uint16
	BlockPause time.Duration
	// AttemptTimeout and Retries mirror the transport settings and bound a
	// single block read.
	AttemptTimeout time.Duration
	Retries        uint
}

// PollTimeout is the longest a tick over wanted may take when every block uses
// all of its attempts.
func (c PollerConfig) PollTimeout(wanted []domain.RegisterSpec) time.Duration {
	blocks := len(PlanBlocks(wanted, c.BlockSize, c.MaxGap))
	if blocks == 0 {
		return POLL_TIMEOUT_MARGIN
	}
	perBlock := c.AttemptTimeout * time.Duration(c.Retries+1)
	return time.Duration(blocks)*perBlock + time.Duration(blocks-1)*c.BlockPause + POLL_TIMEOUT_MARGIN
}

type PollResult struct {
	Readings     []domain.Reading
	BlocksTotal  int
	BlocksFailed int
}

// BatchPoller reads wanted registers in as few requests as possible and stores
// the decoded readings. It never writes registers.
type BatchPoller struct {
	Transport port.RegisterTransport
	Store     *store.ValueStore
	Config    PollerConfig
	Observer  port.PollObserver
	Logger    *zap.Logger
	Now       func() time.Time
}

var ErrPollFailed = errors.New("every block of the tick failed")

// Poll runs one tick. Failed blocks are logged and skipped, leaving the previous
// values of their registers in the store. The returned error is non-nil only
// when no block succeeded or the context was cancelled.
func (p *BatchPoller) Poll(ctx context.Context, slaveId uint8, wanted []domain.RegisterSpec, cadence domain.Cadence) (PollResult, error) {
	blocks := PlanBlocks(wanted, p.Config.BlockSize, p.Config.MaxGap)
	result := PollResult{BlocksTotal: len(blocks)}

	var lastErr error
	for i, block := range blocks {
		if i > 0 && p.Config.BlockPause > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(p.Config.BlockPause):
			}
		}
		if err := ctx.Err(); err != nil {
			// blocks not started count as failed, their registers stay stale
			result.BlocksFailed += len(blocks) - i
			return result, fmt.Errorf("poll %s slave %d cancelled: %w", cadence, slaveId, err)
		}

		start := time.Now()
		words, err := p.Transport.ReadRegisters(slaveId, block.Address, block.Count)
		if err == nil && len(words) != int(block.Count) {
			err = fmt.Errorf("%w: expected %d words, got %d", domain.ErrTransportProtocol, block.Count, len(words))
		}
		if p.Observer != nil {
			p.Observer.BlockRead(slaveId, cadence, block.Address, block.Count, time.Since(start), err)
		}
		if err != nil {
			result.BlocksFailed++
			lastErr = err
			p.Logger.Warn("poll block failed",
				zap.String("cadence", string(cadence)),
				zap.Uint8("slave", slaveId),
				zap.String("range", fmt.Sprintf("0x%04x-0x%04x", block.Address, block.Address+block.Count-1)),
				zap.String("class", domain.ErrorClass(err)),
				zap.Error(err))
			continue
		}

		observedAt := p.now()
		readings := make([]domain.Reading, 0, len(block.Registers))
		for _, spec := range block.Registers {
			offset := int(spec.Address - block.Address)
			value, err := spec.Decode(words[offset : offset+int(spec.Words)])
			if err != nil {
				p.Logger.Warn("decode failed", zap.Uint8("slave", slaveId), zap.String("register", spec.Id), zap.Error(err))
				if p.Observer != nil {
					p.Observer.DecodeFailed(slaveId, spec.Id)
				}
				continue
			}
			readings = append(readings, domain.Reading{
				SlaveId:    slaveId,
				RegisterId: spec.Id,
				Value:      value,
				Unit:       spec.Unit,
				ObservedAt: observedAt,
			})
		}
		stored := p.Store.PutAll(readings)
		if p.Observer != nil {
			for _, r := range stored {
				p.Observer.ReadingStored(r)
			}
		}
		result.Readings = append(result.Readings, stored...)
	}

	if result.BlocksTotal > 0 && result.BlocksFailed == result.BlocksTotal {
		return result, fmt.Errorf("%w (%s, slave %d): %w", ErrPollFailed, cadence, slaveId, lastErr)
	}
	return result, nil
}

func (p *BatchPoller) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}
