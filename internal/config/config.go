package config

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/berfenger/heatpump2mqtt/internal/core/domain"

	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"
)

const (
	MODBUS_MODE_RTU_OVER_TCP = "rtuovertcp"
	MODBUS_MODE_TCP          = "tcp"
	MODBUS_MODE_TEST         = "test"

	COP_TRIGGER_POLL  = "poll"
	COP_TRIGGER_EVENT = "event"

	DEFAULT_COP_POLL_INTERVAL = 5 * time.Minute

	// Modbus caps a single read at 125 holding registers.
	MAX_BLOCK_SIZE = 125
)

type Config struct {
	LogLevel zapcore.Level
	Modbus   ModbusConfig           `mapstructure:"modbus"`
	Poller   PollerConfig           `mapstructure:"poller"`
	Curves   map[string]CurveConfig `mapstructure:"curves"`
	COP      map[string]COPConfig   `mapstructure:"cop"`
	Sensors  SensorsConfig          `mapstructure:"sensors"`
	Storage  StorageConfig          `mapstructure:"storage"`
	MQTT     MQTTConfig             `mapstructure:"mqtt"`
	Timezone string                 `mapstructure:"timezone"`
	Port     uint                   `mapstructure:"port"`
	HttpLog  bool                   `mapstructure:"http_log"`
}

type ModbusConfig struct {
	Host       string
	Port       uint
	Mode       string
	Model      string
	Slaves     []uint
	Timeout    time.Duration
	Retries    uint
	BlockSize  int           `mapstructure:"block_size"`
	MaxGap     uint          `mapstructure:"max_gap"`
	BlockPause time.Duration `mapstructure:"block_pause"`
}

type PollerConfig struct {
	FastInterval  time.Duration `mapstructure:"fast_interval"`
	LongInterval  time.Duration `mapstructure:"long_interval"`
	FastRegisters []string      `mapstructure:"fast_registers"`
	LongRegisters []string      `mapstructure:"long_registers"`
}

type CurveConfig struct {
	Enabled               bool
	Name                  string
	Slave                 uint
	TargetRegister        string  `mapstructure:"target_register"`
	TFlowMin              float64 `mapstructure:"t_flow_min"`
	TFlowMax              float64 `mapstructure:"t_flow_max"`
	PVOptimization        bool    `mapstructure:"pv_optimization"`
	PVGridOffset          float64 `mapstructure:"pv_grid_offset"`
	PVGridThresholdKW     float64 `mapstructure:"pv_grid_threshold_kw"`
	PVBatteryOffset       float64 `mapstructure:"pv_battery_offset"`
	PVBatteryThresholdPct float64 `mapstructure:"pv_battery_threshold_pct"`
	PVCooldownMinutes     float64 `mapstructure:"pv_cooldown_minutes"`
	BaseSetpoint          float64 `mapstructure:"base_setpoint"`
	OutdoorRegister       string  `mapstructure:"outdoor_register"`
	TOutMin               float64 `mapstructure:"t_out_min"`
	TOutMax               float64 `mapstructure:"t_out_max"`
	InertiaHours          float64 `mapstructure:"inertia_hours"`
	ExternalOffsetEnabled bool    `mapstructure:"external_offset_enabled"`
	ExternalOffset        float64 `mapstructure:"external_offset"`
	ExternalHoldMinutes   float64 `mapstructure:"external_offset_hold_minutes"`
}

type COPConfig struct {
	Enabled          bool
	Slave            uint
	HeatSource       string        `mapstructure:"heat_source"`
	ElectricalSource string        `mapstructure:"electrical_source"`
	Trigger          string        `mapstructure:"trigger"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
}

type SensorsConfig struct {
	PVPower        string                          `mapstructure:"pv_power"`
	BatterySoC     string                          `mapstructure:"battery_soc"`
	StaleAfter     time.Duration                   `mapstructure:"stale_after"`
	PVPowerAverage time.Duration                   `mapstructure:"pv_power_average"`
	External       map[string]ExternalSensorConfig `mapstructure:"external"`
}

type ExternalSensorConfig struct {
	Topic string
	Unit  string
}

type StorageConfig struct {
	Path string
}

type MQTTConfig struct {
	Host              string
	Port              int
	Username          string
	Password          string
	BaseTopic         string `mapstructure:"base_topic"`
	HADiscoveryEnable bool   `mapstructure:"ha_discovery_enable"`
	HADiscoveryTopic  string `mapstructure:"ha_discovery_topic"`
}

type curveDefaults struct {
	target             string
	gridThresholdKW    float64
	batteryThreshold   float64
	cooldownMinutes    float64
	tFlowMin, tFlowMax float64
	baseSetpoint       float64
}

var knownCurves = map[string]curveDefaults{
	domain.CURVE_HEATING:       {target: "heating_setpoint", gridThresholdKW: 2.0, batteryThreshold: 80, cooldownMinutes: 15, tFlowMin: 25, tFlowMax: 50, baseSetpoint: 35},
	domain.CURVE_FLOOR_HEATING: {target: "floor_heating_setpoint", gridThresholdKW: 2.0, batteryThreshold: 80, cooldownMinutes: 15, tFlowMin: 25, tFlowMax: 40, baseSetpoint: 30},
	domain.CURVE_HOT_WATER:     {target: "hotwater_setpoint", gridThresholdKW: 5.0, batteryThreshold: 90, cooldownMinutes: 20, tFlowMin: 40, tFlowMax: 60, baseSetpoint: 50},
	domain.CURVE_COOLING:       {target: "cooling_setpoint", gridThresholdKW: 3.0, batteryThreshold: 70, cooldownMinutes: 15, tFlowMin: 7, tFlowMax: 25, baseSetpoint: 18},
}

// SetDefaults registers every default, including one entry per known curve.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "warn")
	v.SetDefault("port", 8080)
	v.SetDefault("timezone", "Local")

	v.SetDefault("modbus.host", "localhost")
	v.SetDefault("modbus.port", 502)
	v.SetDefault("modbus.mode", MODBUS_MODE_RTU_OVER_TCP)
	v.SetDefault("modbus.model", "r290")
	v.SetDefault("modbus.slaves", []uint{1})
	v.SetDefault("modbus.timeout", "5s")
	v.SetDefault("modbus.retries", 2)
	v.SetDefault("modbus.block_size", 49)
	v.SetDefault("modbus.max_gap", 0)
	v.SetDefault("modbus.block_pause", "50ms")

	v.SetDefault("poller.fast_interval", "60s")
	v.SetDefault("poller.long_interval", "600s")

	for prefix, d := range knownCurves {
		key := "curves." + prefix + "."
		v.SetDefault(key+"enabled", false)
		v.SetDefault(key+"slave", 1)
		v.SetDefault(key+"target_register", d.target)
		v.SetDefault(key+"t_flow_min", d.tFlowMin)
		v.SetDefault(key+"t_flow_max", d.tFlowMax)
		v.SetDefault(key+"pv_optimization", true)
		v.SetDefault(key+"pv_grid_offset", 0)
		v.SetDefault(key+"pv_grid_threshold_kw", d.gridThresholdKW)
		v.SetDefault(key+"pv_battery_offset", 0)
		v.SetDefault(key+"pv_battery_threshold_pct", d.batteryThreshold)
		v.SetDefault(key+"pv_cooldown_minutes", d.cooldownMinutes)
		v.SetDefault(key+"base_setpoint", d.baseSetpoint)
		v.SetDefault(key+"t_out_min", -15)
		v.SetDefault(key+"t_out_max", 20)
		v.SetDefault(key+"inertia_hours", 0)
		v.SetDefault(key+"external_offset_enabled", false)
		v.SetDefault(key+"external_offset", 0)
		v.SetDefault(key+"external_offset_hold_minutes", 5)
	}

	v.SetDefault("cop.heatpump.enabled", true)
	v.SetDefault("cop.heatpump.slave", 1)
	v.SetDefault("cop.heatpump.heat_source", "heat_energy_total")
	v.SetDefault("cop.heatpump.electrical_source", "electrical_energy_total")
	v.SetDefault("cop.heatpump.trigger", COP_TRIGGER_EVENT)
	v.SetDefault("cop.heatpump.poll_interval", "5m")

	v.SetDefault("sensors.stale_after", "10m")
	v.SetDefault("sensors.pv_power_average", "60s")

	v.SetDefault("storage.path", "./data")

	v.SetDefault("mqtt.port", 1883)
	v.SetDefault("mqtt.ha_discovery_enable", false)
	v.SetDefault("mqtt.base_topic", "heatpump")
	v.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
}

// Validate checks global settings and normalizes topics. Per-curve and
// per-accumulator errors are reported by their own Validate, so one broken
// curve does not stop the bridge.
func (c *Config) Validate() error {
	baseTopic, err := CheckMQTTTopic(c.MQTT.BaseTopic)
	if err != nil {
		return errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	c.MQTT.BaseTopic = baseTopic

	hadBaseTopic, err := CheckMQTTTopic(c.MQTT.HADiscoveryTopic)
	if err != nil {
		return errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
	}
	c.MQTT.HADiscoveryTopic = hadBaseTopic

	switch c.Modbus.Mode {
	case MODBUS_MODE_RTU_OVER_TCP, MODBUS_MODE_TCP, MODBUS_MODE_TEST:
	default:
		return fmt.Errorf("%w: config param modbus.mode must be one of rtuovertcp, tcp, test", domain.ErrConfiguration)
	}
	if len(c.Modbus.Slaves) == 0 {
		return fmt.Errorf("%w: config param modbus.slaves must not be empty", domain.ErrConfiguration)
	}
	for _, s := range c.Modbus.Slaves {
		if s < 1 || s > 247 {
			return fmt.Errorf("%w: slave id %d out of range 1..247", domain.ErrConfiguration, s)
		}
	}
	if c.Modbus.Timeout <= 0 {
		return fmt.Errorf("%w: config param modbus.timeout must be > 0", domain.ErrConfiguration)
	}
	if c.Modbus.BlockSize < 1 || c.Modbus.BlockSize > MAX_BLOCK_SIZE {
		return fmt.Errorf("%w: config param modbus.block_size must be in 1..%d", domain.ErrConfiguration, MAX_BLOCK_SIZE)
	}
	if c.Modbus.MaxGap > MAX_BLOCK_SIZE {
		return fmt.Errorf("%w: config param modbus.max_gap must be <= %d", domain.ErrConfiguration, MAX_BLOCK_SIZE)
	}
	if c.Poller.FastInterval < time.Second {
		return fmt.Errorf("%w: config param poller.fast_interval should be >= 1s", domain.ErrConfiguration)
	}
	if c.Poller.LongInterval <= c.Poller.FastInterval {
		return fmt.Errorf("%w: config param poller.long_interval should be > poller.fast_interval", domain.ErrConfiguration)
	}
	for name, s := range c.Sensors.External {
		if s.Topic == "" {
			return fmt.Errorf("%w: external sensor %s has no topic", domain.ErrConfiguration, name)
		}
	}
	if _, err := c.Location(); err != nil {
		return fmt.Errorf("%w: timezone: %w", domain.ErrConfiguration, err)
	}
	return nil
}

func (c *Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}

// DefaultSlave is the first configured slave.
func (c *Config) DefaultSlave() uint8 {
	if len(c.Modbus.Slaves) == 0 {
		return 1
	}
	return uint8(c.Modbus.Slaves[0])
}

// ToDomain builds the runtime curve configuration for a curve prefix.
func (c CurveConfig) ToDomain(prefix string) (domain.CurveConfig, error) {
	name := c.Name
	if name == "" {
		name = strings.ReplaceAll(prefix, "_", " ")
	}
	curve := domain.CurveConfig{
		Prefix:                prefix,
		Name:                  name,
		TargetRegister:        c.TargetRegister,
		TFlowMin:              c.TFlowMin,
		TFlowMax:              c.TFlowMax,
		PVGridOffset:          c.PVGridOffset,
		PVGridThresholdKW:     c.PVGridThresholdKW,
		PVBatteryOffset:       c.PVBatteryOffset,
		PVBatteryThresholdPct: c.PVBatteryThresholdPct,
		PVCooldownMinutes:     c.PVCooldownMinutes,
		PVOptimizationEnabled: c.PVOptimization,
		BaseSetpoint:          c.BaseSetpoint,
		OutdoorRegister:       c.OutdoorRegister,
		OutdoorMin:            c.TOutMin,
		OutdoorMax:            c.TOutMax,
		InertiaHours:          c.InertiaHours,
		ExternalOffsetEnabled: c.ExternalOffsetEnabled,
		ExternalOffset:        c.ExternalOffset,
		ExternalHoldMinutes:   c.ExternalHoldMinutes,
	}
	if curve.TargetRegister == "" {
		return curve, fmt.Errorf("%w: curve %s has no target register", domain.ErrConfiguration, prefix)
	}
	return curve, curve.Validate()
}

// TriggerMode is the configured trigger, event when unset.
func (c COPConfig) TriggerMode() string {
	if c.Trigger == "" {
		return COP_TRIGGER_EVENT
	}
	return c.Trigger
}

// Interval is the poll trigger period, DEFAULT_COP_POLL_INTERVAL when unset.
func (c COPConfig) Interval() time.Duration {
	if c.PollInterval == 0 {
		return DEFAULT_COP_POLL_INTERVAL
	}
	return c.PollInterval
}

func (c COPConfig) ToDomain(name string, defaultSlave uint8) (domain.COPSourceConfig, error) {
	slave := defaultSlave
	if c.Slave > 0 {
		slave = uint8(c.Slave)
	}
	heat, err := domain.ParseSourceRef(c.HeatSource, slave)
	if err != nil {
		return domain.COPSourceConfig{}, err
	}
	electrical, err := domain.ParseSourceRef(c.ElectricalSource, slave)
	if err != nil {
		return domain.COPSourceConfig{}, err
	}
	cfg := domain.COPSourceConfig{
		Name:             name,
		HeatSource:       heat,
		ElectricalSource: electrical,
	}
	switch c.Trigger {
	case COP_TRIGGER_POLL:
		if c.PollInterval < 0 {
			return cfg, fmt.Errorf("%w: cop %s poll_interval must not be negative", domain.ErrConfiguration, name)
		}
	case COP_TRIGGER_EVENT, "":
	default:
		return cfg, fmt.Errorf("%w: cop %s trigger must be poll or event", domain.ErrConfiguration, name)
	}
	return cfg, cfg.Validate()
}

func CheckMQTTTopic(baseTopic string) (string, error) {
	// check and fix base topic
	lowerBaseTopic := strings.ToLower(baseTopic)
	baseTopicRegexp := regexp.MustCompile("^[a-z0-9_]+$")
	matches := baseTopicRegexp.FindAllStringSubmatch(lowerBaseTopic, 1)
	if len(matches) <= 0 {
		return "", errors.New("invalid topic. can only contain letters, numbers and underscores")
	}
	return lowerBaseTopic, nil
}

func ParseLogLevel(level string) zapcore.Level {
	switch level {
	case "trace", "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "error":
		return zapcore.ErrorLevel
	case "warn":
		return zapcore.WarnLevel
	case "fatal":
		return zapcore.FatalLevel
	default:
		return zapcore.InfoLevel
	}
}
