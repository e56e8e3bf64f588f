// Command tuxniffer captures Zigbee/TI-radio traffic from one or more
// dongles and writes it to pcap-compatible log files and/or named pipes.
// See spec §6 for the CLI surface this binary implements.
package main

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/AcenoTecnologia/tuxniffer/internal/config"
	"github.com/AcenoTecnologia/tuxniffer/internal/orchestrator"
	"github.com/AcenoTecnologia/tuxniffer/internal/output"
	"github.com/AcenoTecnologia/tuxniffer/internal/radiomode"
	"github.com/AcenoTecnologia/tuxniffer/pkg/zigbee"
)

// version is overwritten at release-build time via -ldflags "-X main.version=...".
var version = "dev"

var firmwareRowNames = [...]string{
	"LP-CC1352PX",
	"LP-CC1312R1",
	"LP-CC1352R1",
	"LP-CC1350/LP-CC1310",
	"LP-CC26X2R1 / LP-CC26X2RB",
	"LP-CC2650",
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFFF00"))
	rowStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#9CA3AF"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#EF4444"))
)

func main() {
	flags := config.RegisterFlags(pflag.CommandLine)
	statusAddr := pflag.String("status_addr", "", "address for the read-only status/metrics HTTP server (empty disables it)")
	pflag.Usage = printUsage
	pflag.Parse()

	switch {
	case *flags.Help:
		printUsage()
		os.Exit(0)
	case *flags.ListModes:
		printModeTable()
		os.Exit(0)
	case *flags.Version:
		printVersion()
		os.Exit(0)
	case *flags.YAMLExample:
		printYAMLExample()
		os.Exit(0)
	}

	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(err.Error()))
		os.Exit(1)
	}

	if err := run(cfg, *statusAddr); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(err.Error()))
		os.Exit(1)
	}
}

func run(cfg config.Config, statusAddr string) error {
	var crypto output.KeyExtractor
	var keyStore *zigbee.KeyStore
	if cfg.Crypto.KeyExtraction {
		keyStore = zigbee.NewKeyStore(cfg.Crypto.SecurityLevel)
		crypto = keyStore
	}

	devices := make([]orchestrator.DeviceSpec, len(cfg.Devices))
	for i, d := range cfg.Devices {
		devices[i] = orchestrator.DeviceSpec{
			PortLabel: d.Port,
			RadioMode: byte(d.RadioMode),
			Channel:   d.Channel,
		}
	}

	duration := time.Duration(-1)
	if cfg.Duration >= 0 {
		duration = time.Duration(cfg.Duration) * time.Second
	}

	orchCfg := orchestrator.Config{
		Devices: devices,
		Output: output.Config{
			FileEnabled:     cfg.Log.Enabled,
			FilePath:        cfg.Log.Path,
			BaseName:        cfg.Log.BaseName,
			SplitDevicesLog: cfg.Log.SplitDevicesLog,
			ResetPeriod:     output.RotationPeriod(cfg.Log.ResetPeriod),

			PipeEnabled:         cfg.Pipe.Enabled,
			PipePath:            cfg.Pipe.Path,
			PipeSplitDevicesLog: cfg.Pipe.SplitDevicesPipe,

			SaveKeys:         cfg.Crypto.SaveKeys,
			KeysPath:         cfg.Crypto.KeysPath,
			SavePackets:      cfg.Crypto.SavePackets,
			PacketsPath:      cfg.Crypto.PacketsPath,
			SimulationActive: cfg.Crypto.Simulation,
			SimulationPath:   cfg.Crypto.SimulationPath,
		},
		Duration:   duration,
		StatusAddr: statusAddr,
	}

	o := orchestrator.New(orchCfg, crypto)
	if err := o.Run(); err != nil {
		return fmt.Errorf("tuxniffer: %w", err)
	}

	if keyStore != nil && cfg.Crypto.SaveKeys {
		if err := keyStore.SaveKeys(cfg.Crypto.KeysPath); err != nil {
			return fmt.Errorf("tuxniffer: save keys: %w", err)
		}
	}

	return nil
}

func printUsage() {
	fmt.Fprintln(os.Stderr, headerStyle.Render("tuxniffer — Zigbee/TI radio capture host"))
	pflag.PrintDefaults()
}

func printVersion() {
	fmt.Println(headerStyle.Render("tuxniffer " + version))
	fmt.Printf("Go: %s  OS/Arch: %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)

	if info, err := host.Info(); err == nil {
		fmt.Printf("Host: %s %s (uptime %ds)\n", info.Platform, info.PlatformVersion, info.Uptime)
	}
	if percents, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(percents) > 0 {
		fmt.Printf("CPU load: %.1f%%\n", percents[0])
	}
	if vmem, err := mem.VirtualMemory(); err == nil {
		fmt.Printf("Memory: %.1f%% used (%d/%d MiB)\n",
			vmem.UsedPercent, vmem.Used/1024/1024, vmem.Total/1024/1024)
	}
}

func printYAMLExample() {
	out, err := yaml.Marshal(config.Default())
	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(err.Error()))
		return
	}
	fmt.Print(string(out))
}

func printModeTable() {
	fmt.Println(headerStyle.Render("Radio mode table (firmware row × mode → PHY id, base frequency MHz)"))
	for row := 0; row < radiomode.FirmwareRows(); row++ {
		name := fmt.Sprintf("row %d", row)
		if row < len(firmwareRowNames) {
			name = firmwareRowNames[row]
		}
		fmt.Println(headerStyle.Render(name))
		for mode := 0; mode < radiomode.NumModes(); mode++ {
			entry, err := radiomode.Lookup(row, byte(mode))
			if err != nil {
				continue
			}
			fmt.Println(rowStyle.Render(fmt.Sprintf("  mode %2d: phy=0x%02X base=%.3f MHz", mode, entry.PHY, entry.BaseFreq)))
		}
	}
}
