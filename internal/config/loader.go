package config

import (
	"fmt"
	"net/netip"
	"reflect"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"firestige.xyz/fwip/internal/core"
)

// configRoot is the top-level wrapper matching the YAML structure `fwip: ...`.
type configRoot struct {
	FWIP GlobalConfig `mapstructure:"fwip"`
}

// Load loads configuration from file.
// The YAML file uses `fwip:` as root key; env vars use the FWIP_ prefix
// (e.g. key "fwip.log.level" → env "FWIP_LOG_LEVEL").
func Load(path string) (*GlobalConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return fromViper(v)
}

// Default returns the configuration used when no file is given.
func Default() (*GlobalConfig, error) {
	return fromViper(viper.New())
}

func fromViper(v *viper.Viper) (*GlobalConfig, error) {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	var root configRoot
	if err := decode(v.AllSettings(), &root); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg := root.FWIP

	if err := cfg.ValidateAndApplyDefaults(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// decode maps viper settings onto the config structs. Hooks accept EUI-64
// strings, IP address strings, speed names and durations.
func decode(input map[string]interface{}, out interface{}) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			stringToEUI64Hook,
			stringToAddrHook,
			stringToSpeedHook,
		),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

func stringToEUI64Hook(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
	if f.Kind() != reflect.String || t != reflect.TypeOf(core.EUI64(0)) {
		return data, nil
	}
	return core.ParseEUI64(data.(string))
}

func stringToAddrHook(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
	if f.Kind() != reflect.String || t != reflect.TypeOf(netip.Addr{}) {
		return data, nil
	}
	s := data.(string)
	if s == "" {
		return netip.Addr{}, nil
	}
	return netip.ParseAddr(s)
}

func stringToSpeedHook(f reflect.Type, t reflect.Type, data interface{}) (interface{}, error) {
	if f.Kind() != reflect.String || t != reflect.TypeOf(core.Speed(0)) {
		return data, nil
	}
	switch strings.ToUpper(data.(string)) {
	case "S100":
		return core.S100, nil
	case "S200":
		return core.S200, nil
	case "S400":
		return core.S400, nil
	case "S800":
		return core.S800, nil
	case "S1600":
		return core.S1600, nil
	case "S3200":
		return core.S3200, nil
	}
	return nil, fmt.Errorf("unknown speed %q", data)
}

// setDefaults sets default values for configuration.
// All keys use the "fwip." prefix to match the YAML root wrapper.
func setDefaults(v *viper.Viper) {
	// Log defaults
	v.SetDefault("fwip.log.level", "info")
	v.SetDefault("fwip.log.format", "text")
	v.SetDefault("fwip.log.outputs.file.enabled", false)
	v.SetDefault("fwip.log.outputs.file.path", "/var/log/fwip/fwip.log")
	v.SetDefault("fwip.log.outputs.file.rotation.max_size_mb", 100)
	v.SetDefault("fwip.log.outputs.file.rotation.max_age_days", 30)
	v.SetDefault("fwip.log.outputs.file.rotation.max_backups", 5)
	v.SetDefault("fwip.log.outputs.file.rotation.compress", true)

	// Metrics defaults
	v.SetDefault("fwip.metrics.enabled", true)
	v.SetDefault("fwip.metrics.listen", ":9094")
	v.SetDefault("fwip.metrics.path", "/metrics")

	v.SetDefault("fwip.watchdog.tick", "1s")

	// Link defaults
	v.SetDefault("fwip.link.max_datagram_size", 4096)
	v.SetDefault("fwip.link.unicast_fifo", 0x0001_0000_0000)
	v.SetDefault("fwip.link.arp.lifetime_ticks", 600)
	v.SetDefault("fwip.link.arp.pending_ticks", 5)
	v.SetDefault("fwip.link.arp.retry_ticks", 1)
	v.SetDefault("fwip.link.arp.hold_queue", 4)
	v.SetDefault("fwip.link.device.grace_ticks", 30)
	v.SetDefault("fwip.link.reassembly.timeout_ticks", 5)
	v.SetDefault("fwip.link.reassembly.max_active", 64)
	v.SetDefault("fwip.link.mcap.broadcast_channel", core.DefaultBroadcastChannel)
	v.SetDefault("fwip.link.mcap.lease_ticks", 60)
	v.SetDefault("fwip.link.mcap.advertise_interval", 10)
	v.SetDefault("fwip.link.mcap.final_warnings", 4)
	v.SetDefault("fwip.link.mcap.solicit_ticks", 10)
	v.SetDefault("fwip.link.tx.unicast_descriptors", 32)
	v.SetDefault("fwip.link.tx.stream_descriptors", 16)

	// Tap defaults
	v.SetDefault("fwip.tap.enabled", false)
	v.SetDefault("fwip.tap.path", "fwip.pcap")
	v.SetDefault("fwip.tap.snaplen", 65535)

	// Simulation defaults
	v.SetDefault("fwip.simulation.traffic_interval", "0s")
}

// ValidateAndApplyDefaults validates configuration and applies runtime defaults.
func (cfg *GlobalConfig) ValidateAndApplyDefaults() error {
	// ── Log validation ──
	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Log.Level] {
		return invalid("log level %q (must be trace/debug/info/warn/error)", cfg.Log.Level)
	}
	if cfg.Log.Format != "json" && cfg.Log.Format != "text" {
		return invalid("log format %q (must be json/text)", cfg.Log.Format)
	}

	if cfg.Watchdog.Tick <= 0 {
		return invalid("watchdog.tick must be positive")
	}

	// ── Link validation ──
	l := &cfg.Link
	if l.MaxDatagramSize < 576 || l.MaxDatagramSize > 1<<14 {
		return invalid("link.max_datagram_size %d out of range [576, 16384]", l.MaxDatagramSize)
	}
	if l.UnicastFIFO == 0 || l.UnicastFIFO >= 1<<48 {
		return invalid("link.unicast_fifo %#x is not a 48-bit offset", l.UnicastFIFO)
	}
	if l.MCAP.BroadcastChannel >= core.ChannelCount {
		return invalid("link.mcap.broadcast_channel %d out of range", l.MCAP.BroadcastChannel)
	}
	if l.MCAP.LeaseTicks <= 0 || l.MCAP.AdvertiseInterval < 2 || l.MCAP.AdvertiseInterval >= l.MCAP.LeaseTicks {
		return invalid("link.mcap requires 2 <= advertise_interval < lease_ticks")
	}
	if l.MCAP.LeaseTicks > 255 {
		return invalid("link.mcap.lease_ticks %d does not fit the expiration field", l.MCAP.LeaseTicks)
	}
	if l.MCAP.FinalWarnings < 1 || l.MCAP.SolicitTicks < 1 {
		return invalid("link.mcap.final_warnings and solicit_ticks must be positive")
	}
	if l.TX.UnicastDescriptors < 1 || l.TX.StreamDescriptors < 1 {
		return invalid("link.tx descriptor pools must not be empty")
	}

	// ── Tap validation ──
	if cfg.Tap.Enabled && cfg.Tap.Path == "" {
		return invalid("tap.path is required when tap.enabled=true")
	}
	if cfg.Tap.Snaplen <= 0 {
		cfg.Tap.Snaplen = 65535
	}

	// ── Simulation validation ──
	names := make(map[string]bool)
	euis := make(map[core.EUI64]bool)
	for i := range cfg.Simulation.Nodes {
		n := &cfg.Simulation.Nodes[i]
		if n.Name == "" {
			n.Name = fmt.Sprintf("fw%d", i)
		}
		if names[n.Name] {
			return invalid("duplicate simulation node name %q", n.Name)
		}
		names[n.Name] = true
		if n.EUI64 == 0 || euis[n.EUI64] {
			return invalid("simulation node %s needs a unique non-zero eui64", n.Name)
		}
		euis[n.EUI64] = true
		if !n.IPv4.Is4() {
			return invalid("simulation node %s needs an ipv4 address", n.Name)
		}
		if n.MaxRec == 0 {
			n.MaxRec = 10
		}
		for _, g := range n.Groups {
			if !g.IsMulticast() {
				return invalid("simulation node %s: %s is not a multicast group", n.Name, g)
			}
		}
	}
	if cfg.Simulation.TrafficInterval < 0 {
		return invalid("simulation.traffic_interval must not be negative")
	}
	if len(cfg.Simulation.Nodes) > 63 {
		return invalid("at most 63 nodes fit on one bus")
	}

	return nil
}

// Dump renders the effective configuration as YAML under the `fwip:` root.
func Dump(cfg *GlobalConfig) ([]byte, error) {
	return yaml.Marshal(map[string]*GlobalConfig{"fwip": cfg})
}
