package irkeyd

import (
	"fmt"
	"strings"
	"time"
)

const (
	// DefaultListen is the default TCP endpoint the server binds to.
	DefaultListen = ":8000"
	// DefaultListenProto controls the network used when none is configured.
	DefaultListenProto = "tcp"
	// DefaultDevice is the IR character device handed to the transmit tool.
	DefaultDevice = "/dev/lirc0"
	// DefaultKeyFile is the key table loaded when --keyfile is omitted.
	DefaultKeyFile = "key.json"
	// DefaultProtocol prefixes bare scancodes in transmit calls.
	DefaultProtocol = "nec"
	// DefaultRepeatInterval is the delay between repeat sends while a key is held.
	DefaultRepeatInterval = 100 * time.Millisecond
	// DefaultMaxHold force-releases a held key when no release ever arrives.
	DefaultMaxHold = 5 * time.Second
	// DefaultJSONMaxBytes bounds incoming /action request bodies.
	DefaultJSONMaxBytes = 64 << 10
	// DefaultMetricsListen is the metrics endpoint (Prometheus scrape).
	// Empty disables metrics unless explicitly configured.
	DefaultMetricsListen = ""
	// DefaultPprofListen is the pprof debug listener (empty disables).
	DefaultPprofListen = ""
	// DefaultShutdownTimeout caps graceful shutdown (HTTP drain + session drain).
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultConfigFileName is the config file searched for when --config is omitted.
	DefaultConfigFileName = "config.yaml"
)

// Config carries every tunable of the daemon. All values are fixed for the
// process lifetime.
type Config struct {
	// Listen is the HTTP control endpoint.
	Listen string
	// ListenProto is the listen network (tcp, tcp4, tcp6).
	ListenProto string
	// Device is the IR device identifier passed through to every transmit call.
	Device string
	// KeyFile is the key definition table (JSON, or YAML by extension).
	KeyFile string
	// LayoutFile optionally arranges buttons on the remote page (JSON).
	LayoutFile string
	// Protocol is the scancode protocol prefix for bare scancodes.
	Protocol string
	// TransmitTool overrides the transmit binary (default ir-ctl).
	TransmitTool string
	// RepeatInterval is the repeat tick while a key is held. It doubles as
	// the cancellation checkpoint, so stop latency is bounded by it.
	RepeatInterval time.Duration
	// MaxHold is the safety timeout that auto-releases a held key.
	MaxHold time.Duration
	// SerializeTransmit makes whole-key sends mutually exclusive across
	// sessions, for transmitters that cannot accept overlapping calls.
	SerializeTransmit bool
	// JSONMaxBytes bounds /action request bodies.
	JSONMaxBytes int64
	// MetricsListen exposes a Prometheus scrape endpoint when non-empty.
	MetricsListen string
	// PprofListen exposes debug/pprof endpoints when non-empty.
	PprofListen string
	// ShutdownTimeout caps the total shutdown time.
	ShutdownTimeout time.Duration
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Listen) == "" {
		c.Listen = DefaultListen
	}
	if strings.TrimSpace(c.ListenProto) == "" {
		c.ListenProto = DefaultListenProto
	}
	if strings.TrimSpace(c.Device) == "" {
		c.Device = DefaultDevice
	}
	if strings.TrimSpace(c.KeyFile) == "" {
		c.KeyFile = DefaultKeyFile
	}
	if strings.TrimSpace(c.Protocol) == "" {
		c.Protocol = DefaultProtocol
	}
	if c.RepeatInterval == 0 {
		c.RepeatInterval = DefaultRepeatInterval
	}
	if c.MaxHold == 0 {
		c.MaxHold = DefaultMaxHold
	}
	if c.JSONMaxBytes == 0 {
		c.JSONMaxBytes = DefaultJSONMaxBytes
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
}

// Validate rejects configurations the press engine cannot honor.
func (c Config) Validate() error {
	if c.RepeatInterval < 0 {
		return fmt.Errorf("config: repeat interval must be positive, got %s", c.RepeatInterval)
	}
	if c.MaxHold < 0 {
		return fmt.Errorf("config: max hold must be positive, got %s", c.MaxHold)
	}
	if c.MaxHold > 0 && c.RepeatInterval > 0 && c.MaxHold < c.RepeatInterval {
		// Allowed, but a hold shorter than one tick only ever sends once;
		// flag the likely misconfiguration of swapping the two flags.
		if c.MaxHold < c.RepeatInterval/10 {
			return fmt.Errorf("config: max hold %s is far below repeat interval %s", c.MaxHold, c.RepeatInterval)
		}
	}
	if c.JSONMaxBytes < 0 {
		return fmt.Errorf("config: json max bytes must be positive, got %d", c.JSONMaxBytes)
	}
	switch c.ListenProto {
	case "", "tcp", "tcp4", "tcp6":
	default:
		return fmt.Errorf("config: unsupported listen network %q", c.ListenProto)
	}
	return nil
}
