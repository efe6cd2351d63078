package service

import (
	"sort"

	"github.com/berfenger/heatpump2mqtt/internal/core/domain"
)

const (
	MinBlockSize = 1
	MaxBlockSize = 125 // Modbus limit for a single read holding registers request
)

// Block is a single multi-register read request.
type Block struct {
	Address   uint16
	Count     uint16
	Registers []domain.RegisterSpec
}

func ClampBlockSize(size int) uint16 {
	if size < MinBlockSize {
		return MinBlockSize
	}
	if size > MaxBlockSize {
		return MaxBlockSize
	}
	return uint16(size)
}

// PlanBlocks sorts the wanted registers by address and greedily merges them into
// read requests. A register joins the current block when the hole before it is at
// most maxGap registers and the resulting span stays within maxBlock. Duplicated
// ids are read once. A register wider than maxBlock gets a block of its own.
func PlanBlocks(wanted []domain.RegisterSpec, maxBlock uint16, maxGap uint16) []Block {
	maxBlock = ClampBlockSize(int(maxBlock))

	seen := make(map[string]bool, len(wanted))
	specs := make([]domain.RegisterSpec, 0, len(wanted))
	for _, s := range wanted {
		if seen[s.Id] || s.Words == 0 {
			continue
		}
		seen[s.Id] = true
		specs = append(specs, s)
	}
	sort.SliceStable(specs, func(i, j int) bool {
		if specs[i].Address != specs[j].Address {
			return specs[i].Address < specs[j].Address
		}
		return specs[i].Id < specs[j].Id
	})

	var blocks []Block
	var cur *Block
	for _, s := range specs {
		if cur != nil {
			start := int(cur.Address)
			end := start + int(cur.Count) - 1
			gap := int(s.Address) - end - 1
			newEnd := max(end, int(s.End()))
			if gap <= int(maxGap) && newEnd-start+1 <= int(maxBlock) {
				cur.Count = uint16(newEnd - start + 1)
				cur.Registers = append(cur.Registers, s)
				continue
			}
			blocks = append(blocks, *cur)
		}
		cur = &Block{
			Address:   s.Address,
			Count:     s.Words,
			Registers: []domain.RegisterSpec{s},
		}
	}
	if cur != nil {
		blocks = append(blocks, *cur)
	}
	return blocks
}
