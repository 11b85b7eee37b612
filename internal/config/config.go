package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Decoder DecoderConfig `yaml:"decoder" toml:"decoder"`
	Source  SourceConfig  `yaml:"source" toml:"source"`
	Output  OutputConfig  `yaml:"output" toml:"output"`
	Record  RecordConfig  `yaml:"record" toml:"record"`
	Web     WebConfig     `yaml:"web" toml:"web"`
}

type DecoderConfig struct {
	// Destuff defaults to true when omitted.
	Destuff *bool `yaml:"destuff" toml:"destuff"`
}

// DestuffEnabled reports the effective destuffing mode.
func (d DecoderConfig) DestuffEnabled() bool {
	return d.Destuff == nil || *d.Destuff
}

type SourceConfig struct {
	Kind           string        `yaml:"kind" toml:"kind"`
	Path           string        `yaml:"path" toml:"path"`
	Addr           string        `yaml:"addr" toml:"addr"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay" toml:"reconnect_delay"`
	MaxLineBytes   int           `yaml:"max_line_bytes" toml:"max_line_bytes"`
	Serial         SerialConfig  `yaml:"serial" toml:"serial"`
	Capture        CaptureConfig `yaml:"capture" toml:"capture"`
}

type SerialConfig struct {
	Device string `yaml:"device" toml:"device"`
	Baud   int    `yaml:"baud" toml:"baud"`
}

type CaptureConfig struct {
	Speed float64 `yaml:"speed" toml:"speed"`
	Loop  bool    `yaml:"loop" toml:"loop"`
}

type OutputConfig struct {
	Format string    `yaml:"format" toml:"format"`
	UDP    UDPConfig `yaml:"udp" toml:"udp"`
}

type UDPConfig struct {
	Enable bool   `yaml:"enable" toml:"enable"`
	Dest   string `yaml:"dest" toml:"dest"`
}

type RecordConfig struct {
	Enable bool   `yaml:"enable" toml:"enable"`
	Path   string `yaml:"path" toml:"path"`
}

type WebConfig struct {
	Enable bool   `yaml:"enable" toml:"enable"`
	Listen string `yaml:"listen" toml:"listen"`
}

const (
	SourceStdin   = "stdin"
	SourceFile    = "file"
	SourceTCP     = "tcp"
	SourceSerial  = "serial"
	SourceCapture = "capture"

	FormatJSON = "json"
	FormatText = "text"
)

// Load reads a YAML config, or TOML when the file ends in .toml, and applies
// defaults. An empty path yields the defaults alone.
func Load(path string) (Config, error) {
	var cfg Config
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return Config{}, err
		}
		if strings.EqualFold(filepath.Ext(path), ".toml") {
			if err := toml.Unmarshal(b, &cfg); err != nil {
				return Config{}, err
			}
		} else {
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return Config{}, err
			}
		}
	}
	if err := cfg.Normalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Normalize applies defaults and validates. It is also called after CLI
// flags have been merged into a loaded config.
func (cfg *Config) Normalize() error {
	src := &cfg.Source
	src.Kind = strings.ToLower(strings.TrimSpace(src.Kind))
	if src.Kind == "" {
		src.Kind = SourceStdin
	}
	if src.ReconnectDelay <= 0 {
		src.ReconnectDelay = 1 * time.Second
	}
	if src.MaxLineBytes <= 0 {
		src.MaxLineBytes = 4096
	}
	if src.Serial.Baud <= 0 {
		src.Serial.Baud = 115200
	}
	if src.Capture.Speed == 0 {
		src.Capture.Speed = 1
	}

	switch src.Kind {
	case SourceStdin:
	case SourceFile:
		if src.Path == "" {
			return fmt.Errorf("source.path is required when source.kind is 'file'")
		}
	case SourceCapture:
		if src.Path == "" {
			return fmt.Errorf("source.path is required when source.kind is 'capture'")
		}
		if src.Capture.Speed < 0 {
			return fmt.Errorf("source.capture.speed must be > 0")
		}
	case SourceTCP:
		if src.Addr == "" {
			return fmt.Errorf("source.addr is required when source.kind is 'tcp'")
		}
	case SourceSerial:
		if src.Serial.Device == "" {
			return fmt.Errorf("source.serial.device is required when source.kind is 'serial'")
		}
	default:
		return fmt.Errorf("source.kind %q is not supported", src.Kind)
	}

	cfg.Output.Format = strings.ToLower(strings.TrimSpace(cfg.Output.Format))
	if cfg.Output.Format == "" {
		cfg.Output.Format = FormatJSON
	}
	if cfg.Output.Format != FormatJSON && cfg.Output.Format != FormatText {
		return fmt.Errorf("output.format %q is not supported", cfg.Output.Format)
	}
	if cfg.Output.UDP.Enable && cfg.Output.UDP.Dest == "" {
		return fmt.Errorf("output.udp.dest is required when output.udp.enable is true")
	}

	if cfg.Record.Enable {
		if cfg.Record.Path == "" {
			return fmt.Errorf("record.path is required when record.enable is true")
		}
		if src.Kind == SourceCapture && cfg.Record.Path == src.Path {
			return fmt.Errorf("record.path cannot be the capture being replayed")
		}
	}

	if cfg.Web.Listen == "" {
		cfg.Web.Listen = ":8080"
	}
	return nil
}
