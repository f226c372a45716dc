// Package config loads wasmcore's runtime configuration: defaults,
// overlaid by a JWCC (JSON-with-Comments-and-Commas) config file via
// tailscale/hujson, overlaid by CLI flags via urfave/cli — the same
// three-tier precedence and hujson.Standardize-then-json.Unmarshal
// flow as calvinalkan-agent-task's config.go, generalized from its
// single ticket_dir/editor pair to wasmcore's ring/lock/log knobs.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/tailscale/hujson"
	"github.com/urfave/cli"
)

// Config holds every tunable the compute/host demo binaries expose.
type Config struct {
	RingCapacity  int    `json:"ring_capacity"`
	LockStrategy  string `json:"lock_strategy"` // "busy" | "backoff" | "deadline"
	BackoffMinMS  int    `json:"backoff_min_ms"`
	BackoffMaxMS  int    `json:"backoff_max_ms"`
	TimeoutMS     int    `json:"timeout_ms"`
	MetricsCSV    string `json:"metrics_csv"`
	MetricsPeriodS int   `json:"metrics_period_s"`
	LogFile       string `json:"log_file,omitempty"`
}

// Default returns the baseline configuration, overridden by a config
// file and then CLI flags in that order.
func Default() Config {
	return Config{
		RingCapacity:   1 << 16,
		LockStrategy:   "backoff",
		BackoffMinMS:   1,
		BackoffMaxMS:   50,
		TimeoutMS:      30_000,
		MetricsPeriodS: 60,
	}
}

// LoadFile reads a JWCC config file at path, standardizing it to
// plain JSON before unmarshaling, and overlays any set fields onto
// base. A missing file is not an error — base is returned unchanged.
func LoadFile(base Config, path string) (Config, error) {
	if path == "" {
		return base, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return base, nil
		}
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("config: invalid JWCC in %s: %w", path, err)
	}
	var overlay Config
	if err := json.Unmarshal(standardized, &overlay); err != nil {
		return Config{}, fmt.Errorf("config: invalid JSON in %s: %w", path, err)
	}
	return merge(base, overlay), nil
}

func merge(base, overlay Config) Config {
	if overlay.RingCapacity != 0 {
		base.RingCapacity = overlay.RingCapacity
	}
	if overlay.LockStrategy != "" {
		base.LockStrategy = overlay.LockStrategy
	}
	if overlay.BackoffMinMS != 0 {
		base.BackoffMinMS = overlay.BackoffMinMS
	}
	if overlay.BackoffMaxMS != 0 {
		base.BackoffMaxMS = overlay.BackoffMaxMS
	}
	if overlay.TimeoutMS != 0 {
		base.TimeoutMS = overlay.TimeoutMS
	}
	if overlay.MetricsCSV != "" {
		base.MetricsCSV = overlay.MetricsCSV
	}
	if overlay.MetricsPeriodS != 0 {
		base.MetricsPeriodS = overlay.MetricsPeriodS
	}
	if overlay.LogFile != "" {
		base.LogFile = overlay.LogFile
	}
	return base
}

// Flags is the urfave/cli flag set the compute/host demo binaries
// register, named after Config's fields the same way xtaci-kcptun's
// client/main.go declares one cli.*Flag per Config field.
func Flags() []cli.Flag {
	d := Default()
	return []cli.Flag{
		cli.StringFlag{Name: "config, c", Usage: "path to a JWCC config file"},
		cli.IntFlag{Name: "ring-capacity", Value: d.RingCapacity, Usage: "bip-stream data area size in bytes"},
		cli.StringFlag{Name: "lock-strategy", Value: d.LockStrategy, Usage: "busy, backoff, or deadline"},
		cli.IntFlag{Name: "backoff-min-ms", Value: d.BackoffMinMS},
		cli.IntFlag{Name: "backoff-max-ms", Value: d.BackoffMaxMS},
		cli.IntFlag{Name: "timeout-ms", Value: d.TimeoutMS, Usage: "deadline strategy timeout, 0 disables"},
		cli.StringFlag{Name: "metrics-csv", Usage: "path (time.Format layout) for periodic metrics snapshots"},
		cli.IntFlag{Name: "metrics-period-s", Value: d.MetricsPeriodS},
		cli.StringFlag{Name: "log", Usage: "redirect logs to this file instead of stderr"},
	}
}

// FromCLI builds a Config by layering an optional config file over
// Default(), then CLI flags over that — the same three-step
// precedence xtaci-kcptun's Action closure applies (defaults, then
// -c config file, then explicit flags win because each c.Int/c.String
// call reads the flag's already-resolved value).
func FromCLI(c *cli.Context) (Config, error) {
	cfg, err := LoadFile(Default(), c.String("config"))
	if err != nil {
		return Config{}, err
	}
	if c.IsSet("ring-capacity") {
		cfg.RingCapacity = c.Int("ring-capacity")
	}
	if c.IsSet("lock-strategy") {
		cfg.LockStrategy = c.String("lock-strategy")
	}
	if c.IsSet("backoff-min-ms") {
		cfg.BackoffMinMS = c.Int("backoff-min-ms")
	}
	if c.IsSet("backoff-max-ms") {
		cfg.BackoffMaxMS = c.Int("backoff-max-ms")
	}
	if c.IsSet("timeout-ms") {
		cfg.TimeoutMS = c.Int("timeout-ms")
	}
	if c.IsSet("metrics-csv") {
		cfg.MetricsCSV = c.String("metrics-csv")
	}
	if c.IsSet("metrics-period-s") {
		cfg.MetricsPeriodS = c.Int("metrics-period-s")
	}
	if c.IsSet("log") {
		cfg.LogFile = c.String("log")
	}
	return cfg, nil
}

// Format renders cfg as indented JSON, mirroring FormatConfig's
// debug-print role.
func Format(cfg Config) (string, error) {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return "", fmt.Errorf("config: format: %w", err)
	}
	return string(data), nil
}
