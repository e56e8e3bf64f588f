// Package config loads and merges tuxniffer's external configuration
// boundary (spec §6): a YAML file describing devices and sink settings,
// overlaid with CLI flags parsed by pflag. Either source alone is enough
// to run; when an input file is given, the other flags are ignored.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

// ResetPeriod mirrors internal/output.RotationPeriod's string values so
// this package does not need to import internal/output just to validate
// the YAML/flag enum.
type ResetPeriod string

const (
	ResetNone    ResetPeriod = "none"
	ResetHourly  ResetPeriod = "hourly"
	ResetDaily   ResetPeriod = "daily"
	ResetWeekly  ResetPeriod = "weekly"
	ResetMonthly ResetPeriod = "monthly"
)

func validResetPeriod(p ResetPeriod) bool {
	switch p {
	case ResetNone, ResetHourly, ResetDaily, ResetWeekly, ResetMonthly:
		return true
	}
	return false
}

// DeviceConfig is one entry of the YAML `devices` list (spec §6).
type DeviceConfig struct {
	Port      string `yaml:"port"`
	RadioMode int    `yaml:"radio_mode"`
	Channel   int    `yaml:"channel"`
}

// LogConfig is the YAML `log` section.
type LogConfig struct {
	Enabled         bool        `yaml:"enabled"`
	Path            string      `yaml:"path"`
	BaseName        string      `yaml:"base_name"`
	SplitDevicesLog bool        `yaml:"splitDevicesLog"`
	ResetPeriod     ResetPeriod `yaml:"resetPeriod"`
}

// PipeConfig is the YAML `pipe` section.
type PipeConfig struct {
	Enabled          bool   `yaml:"enabled"`
	Path             string `yaml:"path"`
	BaseName         string `yaml:"base_name"`
	SplitDevicesPipe bool   `yaml:"splitDevicesPipe"`
}

// CryptoConfig is the YAML `crypto` section.
type CryptoConfig struct {
	KeyExtraction  bool   `yaml:"key_extraction"`
	SecurityLevel  int    `yaml:"security_level"`
	SaveKeys       bool   `yaml:"save_keys"`
	KeysPath       string `yaml:"keys_path"`
	SavePackets    bool   `yaml:"save_packets"`
	PacketsPath    string `yaml:"packets_path"`
	Simulation     bool   `yaml:"simulation"`
	SimulationPath string `yaml:"simulation_path"`
}

// Config is the fully merged, validated configuration (spec §6's YAML
// schema, plus whatever CLI flags override).
type Config struct {
	Devices  []DeviceConfig `yaml:"devices"`
	Log      LogConfig      `yaml:"log"`
	Pipe     PipeConfig     `yaml:"pipe"`
	Crypto   CryptoConfig   `yaml:"crypto"`
	Duration int            `yaml:"duration"`
}

// defaultPipePath is the Linux default; the original also has a Windows
// default (`\\.\pipe\`), out of scope for this Linux-only port.
const defaultPipePath = "/tmp/"

// Default returns the document printed by `--yaml_example` and the
// baseline every loaded config is merged onto.
func Default() Config {
	return Config{
		Log: LogConfig{
			Enabled:         false,
			Path:            "./",
			BaseName:        "aceno",
			SplitDevicesLog: false,
			ResetPeriod:     ResetNone,
		},
		Pipe: PipeConfig{
			Enabled:          true,
			Path:             defaultPipePath,
			BaseName:         "aceno",
			SplitDevicesPipe: false,
		},
		Crypto: CryptoConfig{
			KeyExtraction:  false,
			SecurityLevel:  -1,
			SaveKeys:       false,
			KeysPath:       "keys",
			SavePackets:    false,
			PacketsPath:    "packets.bin",
			Simulation:     false,
			SimulationPath: "simulation.bin",
		},
		Duration: -1,
	}
}

// Flags holds the CLI-parsed values pflag fills in; a field is "set" (and
// therefore overrides the YAML/default value) only if its corresponding
// pflag.Flag reports Changed.
type Flags struct {
	fs *pflag.FlagSet

	Port        *string
	RadioMode   *int
	Channel     *int
	Name        *string
	Path        *string
	ResetPeriod *string
	Duration    *int
	KeyExtract  *bool
	InputFile   *string
	ListModes   *bool
	Version     *bool
	YAMLExample *bool
	Help        *bool
}

// RegisterFlags declares the short/long option pairs of spec §6's CLI
// table on fs. Callers pass pflag.CommandLine to bind to the process's
// default flag set, or a fresh pflag.NewFlagSet for testing.
func RegisterFlags(fs *pflag.FlagSet) *Flags {
	f := &Flags{fs: fs}
	f.Help = fs.BoolP("help", "h", false, "print help, exit 0")
	f.ListModes = fs.BoolP("list_modes", "l", false, "print radio-mode table, exit 0")
	f.Version = fs.BoolP("version", "v", false, "print version, exit 0")
	f.YAMLExample = fs.BoolP("yaml_example", "y", false, "print default config, exit 0")
	f.Port = fs.StringP("port", "p", "", "serial port path")
	f.RadioMode = fs.IntP("radio_mode", "m", 0, "radio mode (0-21)")
	f.Channel = fs.IntP("channel", "c", 0, "channel (range validated per mode)")
	f.Name = fs.StringP("name", "n", "", "file/pipe base name")
	f.Path = fs.StringP("path", "P", "", "file output directory")
	f.ResetPeriod = fs.StringP("reset_period", "r", "", "none|hourly|daily|weekly|monthly")
	f.Duration = fs.IntP("time_duration", "t", -1, "capture duration in seconds, -1 = indefinite")
	f.KeyExtract = fs.BoolP("key_extraction", "k", false, "enable Zigbee key extraction + save")
	f.InputFile = fs.StringP("input", "i", "", "YAML config file")
	return f
}

// Load builds the final Config: a YAML file (if InputFile is set) merged
// with defaults, then overridden field-by-field with any flag the caller
// actually changed on the command line. Per spec §6, when an input file is
// given every other flag is ignored.
func Load(flags *Flags) (Config, error) {
	cfg := Default()

	if flags.InputFile != nil && *flags.InputFile != "" {
		return loadYAML(*flags.InputFile)
	}

	applyFlagOverrides(&cfg, flags)

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadYAML(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if !validResetPeriod(cfg.Log.ResetPeriod) {
		cfg.Log.ResetPeriod = ResetNone
	}
	if cfg.Crypto.SecurityLevel != -1 && (cfg.Crypto.SecurityLevel < 5 || cfg.Crypto.SecurityLevel > 7) {
		cfg.Crypto.SecurityLevel = -1
	}
	if len(cfg.Devices) == 0 {
		return Config{}, fmt.Errorf("config: %s: devices list is required and must be non-empty", path)
	}
	return cfg, nil
}

func applyFlagOverrides(cfg *Config, flags *Flags) {
	if flags.Name != nil && flags.fs.Changed("name") {
		cfg.Log.BaseName = *flags.Name
		cfg.Pipe.BaseName = *flags.Name
	}
	if flags.Path != nil && flags.fs.Changed("path") {
		cfg.Log.Path = *flags.Path
	}
	if flags.ResetPeriod != nil && flags.fs.Changed("reset_period") {
		cfg.Log.ResetPeriod = ResetPeriod(*flags.ResetPeriod)
	}
	if flags.Duration != nil && flags.fs.Changed("time_duration") {
		cfg.Duration = *flags.Duration
	}
	if flags.KeyExtract != nil && flags.fs.Changed("key_extraction") {
		cfg.Crypto.KeyExtraction = *flags.KeyExtract
		cfg.Crypto.SaveKeys = *flags.KeyExtract
	}
	if flags.Port != nil && flags.fs.Changed("port") {
		cfg.Devices = []DeviceConfig{{
			Port:      *flags.Port,
			RadioMode: valueOrZero(flags.RadioMode),
			Channel:   valueOrZero(flags.Channel),
		}}
	}
}

func valueOrZero(p *int) int {
	if p == nil {
		return 0
	}
	return *p
}

// Validate enforces spec §6's "required unless -i is given" rule and the
// reset-period enum.
func Validate(cfg Config) error {
	if len(cfg.Devices) == 0 {
		return fmt.Errorf("config: -p/--port, -m/--radio_mode and -c/--channel are required unless -i/--input is given")
	}
	if !validResetPeriod(cfg.Log.ResetPeriod) {
		return fmt.Errorf("config: invalid reset_period %q", cfg.Log.ResetPeriod)
	}
	return nil
}
