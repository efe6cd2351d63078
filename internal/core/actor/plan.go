package actor

import (
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/berfenger/heatpump2mqtt/internal/config"
	"github.com/berfenger/heatpump2mqtt/internal/core/domain"
	"github.com/berfenger/heatpump2mqtt/internal/core/service"
	"github.com/berfenger/heatpump2mqtt/internal/core/store"
	"github.com/berfenger/heatpump2mqtt/pkg/r290_modbus"
)

// BridgePlan is the set of components the master starts, derived from the
// config. Components with a configuration error are left out and reported in
// Skipped.
type BridgePlan struct {
	Catalog  []domain.RegisterSpec
	Slaves   []uint8
	Fast     []domain.RegisterSpec
	Long     []domain.RegisterSpec
	Curves   []CurveActorConfig
	COPs     []COPActorConfig
	Location *time.Location
	Skipped  []error
}

func BuildBridgePlan(cfg config.Config, registers *store.ValueStore, sensors *store.ValueStore) (*BridgePlan, error) {
	catalog, err := r290_modbus.Catalog(cfg.Modbus.Model)
	if err != nil {
		return nil, err
	}
	location, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrConfiguration, err)
	}
	index := r290_modbus.CatalogIndex(catalog)

	plan := &BridgePlan{
		Catalog:  catalog,
		Fast:     r290_modbus.ByCadence(catalog, domain.CadenceFast, cfg.Poller.FastRegisters),
		Long:     r290_modbus.ByCadence(catalog, domain.CadenceLong, cfg.Poller.LongRegisters),
		Location: location,
	}
	for _, s := range cfg.Modbus.Slaves {
		plan.Slaves = append(plan.Slaves, uint8(s))
	}

	sources := store.Sources{
		Registers:  registers,
		Sensors:    sensors,
		StaleAfter: cfg.Sensors.StaleAfter,
	}
	defaultSlave := cfg.DefaultSlave()

	pv, err := domain.ParseSourceRef(cfg.Sensors.PVPower, defaultSlave)
	if err != nil {
		plan.Skipped = append(plan.Skipped, fmt.Errorf("sensors.pv_power: %w", err))
	}
	soc, err := domain.ParseSourceRef(cfg.Sensors.BatterySoC, defaultSlave)
	if err != nil {
		plan.Skipped = append(plan.Skipped, fmt.Errorf("sensors.battery_soc: %w", err))
	}

	// a target register is driven by at most one curve
	targets := map[targetKey]string{}
	for _, prefix := range slices.Sorted(maps.Keys(cfg.Curves)) {
		c := cfg.Curves[prefix]
		if !c.Enabled {
			continue
		}
		curveCfg, err := plan.curve(prefix, c, index, defaultSlave)
		if err != nil {
			plan.Skipped = append(plan.Skipped, err)
			continue
		}
		key := targetKey{slaveId: curveCfg.SlaveId, register: curveCfg.Target.Id}
		if owner, taken := targets[key]; taken {
			plan.Skipped = append(plan.Skipped, fmt.Errorf("%w: curve %s targets %s on slave %d, already driven by curve %s",
				domain.ErrConfiguration, prefix, key.register, key.slaveId, owner))
			continue
		}
		targets[key] = prefix
		curveCfg.PVPower = pv
		curveCfg.BatterySoC = soc
		curveCfg.Sources = sources
		curveCfg.PVAverage = cfg.Sensors.PVPowerAverage
		plan.Curves = append(plan.Curves, curveCfg)
	}

	for _, name := range slices.Sorted(maps.Keys(cfg.COP)) {
		c := cfg.COP[name]
		if !c.Enabled {
			continue
		}
		copSources, err := c.ToDomain(name, defaultSlave)
		if err == nil {
			err = checkSource(copSources.HeatSource, index)
		}
		if err == nil {
			err = checkSource(copSources.ElectricalSource, index)
		}
		if err != nil {
			plan.Skipped = append(plan.Skipped, err)
			continue
		}
		plan.COPs = append(plan.COPs, COPActorConfig{
			Sources:      copSources,
			Trigger:      c.TriggerMode(),
			PollInterval: c.Interval(),
			Lookup:       sources,
		})
	}

	return plan, nil
}

type targetKey struct {
	slaveId  uint8
	register string
}

func (p *BridgePlan) curve(prefix string, c config.CurveConfig, index map[string]domain.RegisterSpec, defaultSlave uint8) (CurveActorConfig, error) {
	curve, err := c.ToDomain(prefix)
	if err != nil {
		return CurveActorConfig{}, err
	}
	target, ok := index[curve.TargetRegister]
	if !ok {
		return CurveActorConfig{}, fmt.Errorf("%w: curve %s targets unknown register %s", domain.ErrConfiguration, prefix, curve.TargetRegister)
	}
	if !target.Writable {
		return CurveActorConfig{}, fmt.Errorf("%w: curve %s targets read-only register %s", domain.ErrConfiguration, prefix, curve.TargetRegister)
	}
	slave := defaultSlave
	if c.Slave > 0 {
		slave = uint8(c.Slave)
	}
	if err := service.NewWritePath(slave, target).Check(curve); err != nil {
		return CurveActorConfig{}, err
	}
	var outdoor domain.SourceRef
	if curve.OutdoorRegister != "" {
		outdoor, err = domain.ParseSourceRef(curve.OutdoorRegister, slave)
		if err == nil {
			err = checkSource(outdoor, index)
		}
		if err != nil {
			return CurveActorConfig{}, fmt.Errorf("curve %s outdoor source: %w", prefix, err)
		}
	}
	return CurveActorConfig{
		Curve:   curve,
		SlaveId: slave,
		Target:  target,
		Outdoor: outdoor,
	}, nil
}

// ModbusPollerConfig maps the modbus settings onto the batch poller. Validate
// keeps block_size and max_gap within the uint16 range.
func ModbusPollerConfig(c config.ModbusConfig) service.PollerConfig {
	return service.PollerConfig{
		BlockSize:      uint16(c.BlockSize),
		MaxGap:         uint16(c.MaxGap),
		BlockPause:     c.BlockPause,
		AttemptTimeout: c.Timeout,
		Retries:        c.Retries,
	}
}

// Prefixes lists the active curves.
func (p *BridgePlan) Prefixes() []string {
	prefixes := make([]string, 0, len(p.Curves))
	for _, c := range p.Curves {
		prefixes = append(prefixes, c.Curve.Prefix)
	}
	return prefixes
}

func (p *BridgePlan) Polled() []domain.RegisterSpec {
	return append(slices.Clone(p.Fast), p.Long...)
}

func checkSource(ref domain.SourceRef, index map[string]domain.RegisterSpec) error {
	if ref.Kind != domain.SOURCE_KIND_REGISTER {
		return nil
	}
	if _, ok := index[ref.Id]; !ok {
		return fmt.Errorf("%w: unknown register %s", domain.ErrConfiguration, ref.Id)
	}
	return nil
}
