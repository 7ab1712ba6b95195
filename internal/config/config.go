/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"gopkg.in/yaml.v3"
)

// Config represents the complete application configuration
type (
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	}

	// Monitor configures the default sampling mode the monitoring core
	// falls back to when a monitored process requests none explicitly
	// (spec §4.D, §4.E).
	Monitor struct {
		DefaultMode      string `yaml:"default_mode"`
		NTicks           int    `yaml:"nticks"`
		KernelBufferSize int    `yaml:"kernel_buffer_size"`
	}

	// Server configures the daemon's HTTP control and metrics surface.
	Server struct {
		ListenAddress string `yaml:"listen_address"`
		MetricsPath   string `yaml:"metrics_path"`
	}

	// RDT configures the RMID/CLOS pools backing the resource-QoS engine
	// (spec §4.I). CLOSCount and RMIDCount include the OS-reserved
	// entry at index 0.
	RDT struct {
		Enabled   bool `yaml:"enabled"`
		RMIDCount int  `yaml:"rmid_count"`
		CLOSCount int  `yaml:"clos_count"`

		// ReclusterInterval paces how often the LFOC clustering
		// algorithm re-runs over the live app set (spec §4.J).
		ReclusterInterval time.Duration `yaml:"recluster_interval"`
	}

	Config struct {
		Log     Log     `yaml:"log"`
		Monitor Monitor `yaml:"monitor"`
		Server  Server  `yaml:"server"`
		RDT     RDT     `yaml:"rdt"`
	}
)

const (
	// Flags
	LogLevelFlag  = "log.level"
	LogFormatFlag = "log.format"

	MonitorDefaultModeFlag      = "monitor.default-mode"
	MonitorNTicksFlag           = "monitor.nticks"
	MonitorKernelBufferSizeFlag = "monitor.kernel-buffer-size"
	ServerListenAddressFlag     = "server.listen-address"
	ServerMetricsPathFlag       = "server.metrics-path"
	RDTEnabledFlag              = "rdt.enabled"
	RDTRMIDCountFlag            = "rdt.rmid-count"
	RDTCLOSCountFlag            = "rdt.clos-count"
	RDTReclusterIntervalFlag    = "rdt.recluster-interval"

	// sampleRecordSize mirrors internal/bridge.SampleRecordSize; kept as
	// an independent constant so config does not import the monitoring
	// core just to validate one field.
	sampleRecordSize = 272
)

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	cfg := &Config{
		Log: Log{
			Level:  "info",
			Format: "text",
		},
		Monitor: Monitor{
			DefaultMode:      "tbs-sched",
			NTicks:           1,
			KernelBufferSize: sampleRecordSize * 64,
		},
		Server: Server{
			ListenAddress: ":9400",
			MetricsPath:   "/metrics",
		},
		RDT: RDT{
			Enabled:           false,
			RMIDCount:         8,
			CLOSCount:         4,
			ReclusterInterval: 2 * time.Second,
		},
	}

	return cfg
}

// Load loads configuration from an io.Reader
func Load(r io.Reader) (*Config, error) {
	cfg := DefaultConfig()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.sanitize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// FromFile loads configuration from a file
func FromFile(filePath string) (*Config, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	return Load(file)
}

type ConfigUpdaterFn func(*Config) error

// RegisterFlags registers command-line flags with kingpin app
// and returns ConfigUpdaterFn that updates the config from parsed flags
// as command line arguments override config file settings
func RegisterFlags(app *kingpin.Application) ConfigUpdaterFn {
	// track flags that were explicitly set
	flagsSet := map[string]bool{}

	app.PreAction(func(ctx *kingpin.ParseContext) error {
		// Clear the map in case this function is called multiple times
		flagsSet = map[string]bool{}

		for _, element := range ctx.Elements {
			if flag, ok := element.Clause.(*kingpin.FlagClause); ok && element.Value != nil {
				flagsSet[flag.Model().Name] = true
			}
		}
		return nil
	})

	// Logging
	logLevel := app.Flag(LogLevelFlag, "Logging level: debug, info, warn, error").Default("info").Enum("debug", "info", "warn", "error")
	logFormat := app.Flag(LogFormatFlag, "Logging format: text or json").Default("text").Enum("text", "json")

	// Monitor
	defaultMode := app.Flag(MonitorDefaultModeFlag, "Default sampling mode: tbs-sched, tbs-user, ebs").
		Default("tbs-sched").Enum("tbs-sched", "tbs-user", "ebs")
	nticks := app.Flag(MonitorNTicksFlag, "Ticks between samples in tbs-sched mode").Default("1").Int()
	kernelBufferSize := app.Flag(MonitorKernelBufferSizeFlag, "Per-thread sample ring buffer size in bytes").
		Default(fmt.Sprintf("%d", sampleRecordSize*64)).Int()

	// Server
	listenAddress := app.Flag(ServerListenAddressFlag, "Address the HTTP control/metrics server listens on").Default(":9400").String()
	metricsPath := app.Flag(ServerMetricsPathFlag, "HTTP path the Prometheus exporter is mounted at").Default("/metrics").String()

	// RDT
	rdtEnabled := app.Flag(RDTEnabledFlag, "Enable the RDT (RMID/CAT) resource-QoS engine").Default("false").Bool()
	rmidCount := app.Flag(RDTRMIDCountFlag, "Number of RMIDs, including the OS-reserved one").Default("8").Int()
	closCount := app.Flag(RDTCLOSCountFlag, "Number of CLOSes, including the OS-reserved one").Default("4").Int()
	reclusterInterval := app.Flag(RDTReclusterIntervalFlag, "How often the LFOC clustering algorithm re-runs over the live app set").Default("2s").Duration()

	return func(cfg *Config) error {
		// Logging settings
		if flagsSet[LogLevelFlag] {
			cfg.Log.Level = *logLevel
		}

		if flagsSet[LogFormatFlag] {
			cfg.Log.Format = *logFormat
		}

		if flagsSet[MonitorDefaultModeFlag] {
			cfg.Monitor.DefaultMode = *defaultMode
		}
		if flagsSet[MonitorNTicksFlag] {
			cfg.Monitor.NTicks = *nticks
		}
		if flagsSet[MonitorKernelBufferSizeFlag] {
			cfg.Monitor.KernelBufferSize = *kernelBufferSize
		}

		if flagsSet[ServerListenAddressFlag] {
			cfg.Server.ListenAddress = *listenAddress
		}
		if flagsSet[ServerMetricsPathFlag] {
			cfg.Server.MetricsPath = *metricsPath
		}

		if flagsSet[RDTEnabledFlag] {
			cfg.RDT.Enabled = *rdtEnabled
		}
		if flagsSet[RDTRMIDCountFlag] {
			cfg.RDT.RMIDCount = *rmidCount
		}
		if flagsSet[RDTCLOSCountFlag] {
			cfg.RDT.CLOSCount = *closCount
		}
		if flagsSet[RDTReclusterIntervalFlag] {
			cfg.RDT.ReclusterInterval = *reclusterInterval
		}

		cfg.sanitize()
		return cfg.Validate()
	}
}

func (c *Config) sanitize() {
	c.Log.Level = strings.TrimSpace(c.Log.Level)
	c.Log.Format = strings.TrimSpace(c.Log.Format)
	c.Monitor.DefaultMode = strings.TrimSpace(c.Monitor.DefaultMode)
	c.Server.ListenAddress = strings.TrimSpace(c.Server.ListenAddress)
	c.Server.MetricsPath = strings.TrimSpace(c.Server.MetricsPath)
}

// Validate checks for configuration errors
func (c *Config) Validate() error {
	var errs []string
	{ // log level

		validLogLevels := map[string]bool{
			"debug": true,
			"info":  true,
			"warn":  true,
			"error": true,
		}

		// Validate logging settings
		if _, valid := validLogLevels[c.Log.Level]; !valid {
			errs = append(errs, fmt.Sprintf("invalid log level: %s", c.Log.Level))
		}
	}
	{ // log format
		validFormats := map[string]bool{
			"text": true,
			"json": true,
		}
		if _, valid := validFormats[c.Log.Format]; !valid {
			errs = append(errs, fmt.Sprintf("invalid log format: %s", c.Log.Format))
		}
	}
	{ // monitor
		validModes := map[string]bool{
			"tbs-sched": true,
			"tbs-user":  true,
			"ebs":       true,
		}
		if _, valid := validModes[c.Monitor.DefaultMode]; !valid {
			errs = append(errs, fmt.Sprintf("invalid monitor default mode: %s", c.Monitor.DefaultMode))
		}
		if c.Monitor.NTicks < 1 {
			errs = append(errs, fmt.Sprintf("invalid monitor nticks: %d", c.Monitor.NTicks))
		}
		if c.Monitor.KernelBufferSize <= 0 || c.Monitor.KernelBufferSize%sampleRecordSize != 0 {
			errs = append(errs, fmt.Sprintf("kernel_buffer_size %d must be a positive multiple of %d", c.Monitor.KernelBufferSize, sampleRecordSize))
		}
	}
	{ // server
		if c.Server.ListenAddress == "" {
			errs = append(errs, "server listen_address must not be empty")
		}
		if !strings.HasPrefix(c.Server.MetricsPath, "/") {
			errs = append(errs, fmt.Sprintf("server metrics_path %q must start with /", c.Server.MetricsPath))
		}
	}
	{ // rdt
		if c.RDT.Enabled && c.RDT.RMIDCount < 2 {
			errs = append(errs, fmt.Sprintf("rdt rmid_count %d leaves no usable rmid once rmid 0 is reserved", c.RDT.RMIDCount))
		}
		if c.RDT.Enabled && c.RDT.CLOSCount < 2 {
			errs = append(errs, fmt.Sprintf("rdt clos_count %d leaves no usable clos once clos 0 is reserved", c.RDT.CLOSCount))
		}
		if c.RDT.Enabled && c.RDT.ReclusterInterval <= 0 {
			errs = append(errs, fmt.Sprintf("rdt recluster_interval %s must be positive", c.RDT.ReclusterInterval))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(errs, ", "))
	}

	return nil
}

func (c *Config) String() string {
	bytes, err := yaml.Marshal(c)
	if err == nil {
		return string(bytes)
	}
	// NOTE:  this code path should not happen but if it does (i.e if yaml marshal) fails
	// for some reason, manually build the string
	return c.manualString()
}

func (c *Config) manualString() string {
	cfgs := []struct {
		Name  string
		Value string
	}{
		{LogLevelFlag, c.Log.Level},
		{LogFormatFlag, c.Log.Format},
		{MonitorDefaultModeFlag, c.Monitor.DefaultMode},
		{MonitorNTicksFlag, fmt.Sprintf("%d", c.Monitor.NTicks)},
		{MonitorKernelBufferSizeFlag, fmt.Sprintf("%d", c.Monitor.KernelBufferSize)},
		{ServerListenAddressFlag, c.Server.ListenAddress},
		{ServerMetricsPathFlag, c.Server.MetricsPath},
		{RDTEnabledFlag, fmt.Sprintf("%t", c.RDT.Enabled)},
		{RDTRMIDCountFlag, fmt.Sprintf("%d", c.RDT.RMIDCount)},
		{RDTCLOSCountFlag, fmt.Sprintf("%d", c.RDT.CLOSCount)},
		{RDTReclusterIntervalFlag, c.RDT.ReclusterInterval.String()},
	}
	sb := strings.Builder{}

	for _, cfg := range cfgs {
		sb.WriteString(cfg.Name)
		sb.WriteString(": ")
		sb.WriteString(cfg.Value)
		sb.WriteString("\n")
	}

	return sb.String()
}
