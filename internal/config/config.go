// Package config handles global configuration loading using viper.
package config

import (
	"fmt"
	"net/netip"
	"time"

	"firestige.xyz/fwip/internal/core"
)

// GlobalConfig represents the top-level configuration.
// Maps to the `fwip:` root key in YAML.
type GlobalConfig struct {
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Watchdog   WatchdogConfig   `mapstructure:"watchdog" yaml:"watchdog"`
	Link       LinkConfig       `mapstructure:"link" yaml:"link"`
	Tap        TapConfig        `mapstructure:"tap" yaml:"tap"`
	Simulation SimulationConfig `mapstructure:"simulation" yaml:"simulation"`
}

// ─── Log ───

// LogConfig contains logging settings.
type LogConfig struct {
	Level      string           `mapstructure:"level" yaml:"level"`   // trace / debug / info / warn / error
	Format     string           `mapstructure:"format" yaml:"format"` // text / json
	Pattern    string           `mapstructure:"pattern" yaml:"pattern,omitempty"`
	TimeFormat string           `mapstructure:"time_format" yaml:"time_format,omitempty"`
	Outputs    LogOutputsConfig `mapstructure:"outputs" yaml:"outputs"`
}

// LogOutputsConfig contains log output destinations besides stdout.
type LogOutputsConfig struct {
	File FileOutputConfig `mapstructure:"file" yaml:"file"`
}

// FileOutputConfig configures file log output.
type FileOutputConfig struct {
	Enabled  bool           `mapstructure:"enabled" yaml:"enabled"`
	Path     string         `mapstructure:"path" yaml:"path"`
	Rotation RotationConfig `mapstructure:"rotation" yaml:"rotation"`
}

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int  `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxBackups int  `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool `mapstructure:"compress" yaml:"compress"`
}

// ─── Metrics ───

// MetricsConfig contains Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// ─── Watchdog ───

// WatchdogConfig sets the period of the external tick that ages every cache.
type WatchdogConfig struct {
	Tick time.Duration `mapstructure:"tick" yaml:"tick"`
}

// ─── Link ───

// LinkConfig holds per-link protocol parameters. Timers are in watchdog ticks.
type LinkConfig struct {
	MaxDatagramSize int              `mapstructure:"max_datagram_size" yaml:"max_datagram_size"`
	UnicastFIFO     uint64           `mapstructure:"unicast_fifo" yaml:"unicast_fifo"`
	ARP             ARPConfig        `mapstructure:"arp" yaml:"arp"`
	Device          DeviceConfig     `mapstructure:"device" yaml:"device"`
	Reassembly      ReassemblyConfig `mapstructure:"reassembly" yaml:"reassembly"`
	MCAP            MCAPConfig       `mapstructure:"mcap" yaml:"mcap"`
	TX              TXConfig         `mapstructure:"tx" yaml:"tx"`
}

// ARPConfig configures the ARB table.
type ARPConfig struct {
	LifetimeTicks int `mapstructure:"lifetime_ticks" yaml:"lifetime_ticks"`
	PendingTicks  int `mapstructure:"pending_ticks" yaml:"pending_ticks"`
	RetryTicks    int `mapstructure:"retry_ticks" yaml:"retry_ticks"`
	HoldQueue     int `mapstructure:"hold_queue" yaml:"hold_queue"`
}

// DeviceConfig configures the DRB table.
type DeviceConfig struct {
	GraceTicks int `mapstructure:"grace_ticks" yaml:"grace_ticks"`
}

// ReassemblyConfig configures the RCB table.
type ReassemblyConfig struct {
	TimeoutTicks int `mapstructure:"timeout_ticks" yaml:"timeout_ticks"`
	MaxActive    int `mapstructure:"max_active" yaml:"max_active"`
}

// MCAPConfig configures multicast channel allocation.
type MCAPConfig struct {
	BroadcastChannel  uint8 `mapstructure:"broadcast_channel" yaml:"broadcast_channel"`
	LeaseTicks        int   `mapstructure:"lease_ticks" yaml:"lease_ticks"`
	AdvertiseInterval int   `mapstructure:"advertise_interval" yaml:"advertise_interval"`
	FinalWarnings     int   `mapstructure:"final_warnings" yaml:"final_warnings"`
	SolicitTicks      int   `mapstructure:"solicit_ticks" yaml:"solicit_ticks"`
}

// TXConfig sizes the transmit descriptor pools.
type TXConfig struct {
	UnicastDescriptors int `mapstructure:"unicast_descriptors" yaml:"unicast_descriptors"`
	StreamDescriptors  int `mapstructure:"stream_descriptors" yaml:"stream_descriptors"`
}

// ─── Tap ───

// TapConfig configures the pcap capture of datagrams crossing the links.
type TapConfig struct {
	Enabled    bool     `mapstructure:"enabled" yaml:"enabled"`
	Path       string   `mapstructure:"path" yaml:"path"`
	Snaplen    int      `mapstructure:"snaplen" yaml:"snaplen"`
	EtherTypes []uint16 `mapstructure:"ether_types" yaml:"ether_types,flow"` // empty = everything
}

// ─── Simulation ───

// SimulationConfig describes the nodes `fwip start` attaches to the
// in-memory bus.
type SimulationConfig struct {
	Nodes []NodeConfig `mapstructure:"nodes" yaml:"nodes"`
	// TrafficInterval makes every node send a UDP probe to its neighbour
	// and its groups this often. Zero disables the generator.
	TrafficInterval time.Duration `mapstructure:"traffic_interval" yaml:"traffic_interval"`
}

// NodeConfig is one simulated bus node running a link.
type NodeConfig struct {
	Name   string       `mapstructure:"name" yaml:"name"`
	EUI64  core.EUI64   `mapstructure:"eui64" yaml:"eui64"`
	IPv4   netip.Addr   `mapstructure:"ipv4" yaml:"ipv4"`
	MaxRec uint8        `mapstructure:"max_rec" yaml:"max_rec"`
	Speed  core.Speed   `mapstructure:"speed" yaml:"speed"`
	Groups []netip.Addr `mapstructure:"groups" yaml:"groups,omitempty"`
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", core.ErrConfigInvalid, fmt.Sprintf(format, args...))
}
