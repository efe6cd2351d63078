package service

import (
	"math/rand"
	"testing"

	"github.com/berfenger/heatpump2mqtt/internal/core/domain"
	"github.com/berfenger/heatpump2mqtt/pkg/r290_modbus"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reg(id string, address uint16, words uint16) domain.RegisterSpec {
	return domain.RegisterSpec{Id: id, Address: address, Words: words, Scale: 1}
}

func TestPlanBlocksMergesContiguousRegisters(t *testing.T) {

	blocks := PlanBlocks([]domain.RegisterSpec{
		reg("c", 0x0102, 1),
		reg("a", 0x0100, 1),
		reg("b", 0x0101, 1),
	}, 49, 0)

	require.Len(t, blocks, 1)
	assert.Equal(t, uint16(0x0100), blocks[0].Address)
	assert.Equal(t, uint16(3), blocks[0].Count)
	assert.Equal(t, []string{"a", "b", "c"}, ids(blocks[0].Registers))
}

func TestPlanBlocksSplitsOnBlockSize(t *testing.T) {

	// 0x0100..0x0104 with block size 2 needs three reads
	var wanted []domain.RegisterSpec
	for i := uint16(0); i < 5; i++ {
		wanted = append(wanted, reg(string(rune('a'+i)), 0x0100+i, 1))
	}
	blocks := PlanBlocks(wanted, 2, 0)

	require.Len(t, blocks, 3)
	assert.Equal(t, uint16(2), blocks[0].Count)
	assert.Equal(t, uint16(2), blocks[1].Count)
	assert.Equal(t, uint16(1), blocks[2].Count)
	assert.Equal(t, uint16(0x0104), blocks[2].Address)
}

func TestPlanBlocksGap(t *testing.T) {

	wanted := []domain.RegisterSpec{reg("a", 0x0100, 1), reg("b", 0x0104, 1)}

	assert.Len(t, PlanBlocks(wanted, 49, 0), 2, "a hole splits the block without gap tolerance")

	blocks := PlanBlocks(wanted, 49, 3)
	require.Len(t, blocks, 1)
	assert.Equal(t, uint16(5), blocks[0].Count)
}

func TestPlanBlocksKeepsWideRegistersWhole(t *testing.T) {

	blocks := PlanBlocks([]domain.RegisterSpec{
		reg("a", 0x0110, 2),
		reg("b", 0x0112, 2),
	}, 3, 0)

	require.Len(t, blocks, 2)
	assert.Equal(t, uint16(2), blocks[0].Count)
	assert.Equal(t, uint16(0x0112), blocks[1].Address)
}

func TestPlanBlocksDeduplicates(t *testing.T) {

	blocks := PlanBlocks([]domain.RegisterSpec{reg("a", 0x0100, 1), reg("a", 0x0100, 1)}, 49, 0)

	require.Len(t, blocks, 1)
	assert.Len(t, blocks[0].Registers, 1)
}

func TestPlanBlocksEmpty(t *testing.T) {
	assert.Empty(t, PlanBlocks(nil, 49, 0))
}

func TestClampBlockSize(t *testing.T) {
	assert.Equal(t, uint16(1), ClampBlockSize(0))
	assert.Equal(t, uint16(1), ClampBlockSize(-4))
	assert.Equal(t, uint16(49), ClampBlockSize(49))
	assert.Equal(t, uint16(125), ClampBlockSize(300))
}

func TestPlanBlocksCoversEveryRegisterOnce(t *testing.T) {

	specs, err := r290_modbus.Catalog(r290_modbus.MODEL_R290)
	require.NoError(t, err)

	rnd := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		size := uint16(1 + rnd.Intn(MaxBlockSize))
		gap := uint16(rnd.Intn(8))
		wanted := make([]domain.RegisterSpec, 0, len(specs))
		for _, s := range specs {
			if rnd.Intn(3) > 0 {
				wanted = append(wanted, s)
			}
		}

		blocks := PlanBlocks(wanted, size, gap)

		covered := map[string]int{}
		for _, b := range blocks {
			if len(b.Registers) > 1 {
				require.LessOrEqual(t, b.Count, size, "block exceeds block size %d", size)
			}
			for _, r := range b.Registers {
				covered[r.Id]++
				require.GreaterOrEqual(t, r.Address, b.Address)
				require.LessOrEqual(t, r.End(), b.Address+b.Count-1)
			}
		}
		require.Len(t, covered, len(wanted))
		for id, n := range covered {
			require.Equal(t, 1, n, "register %s read %d times", id, n)
		}
	}
}

func ids(specs []domain.RegisterSpec) []string {
	out := make([]string, 0, len(specs))
	for _, s := range specs {
		out = append(out, s.Id)
	}
	return out
}
