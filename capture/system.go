package capture

import (
	"os"
	"runtime"
	"time"
)

// interestingEnvVars are snapshotted into every session record.
// Conda variables are kept for parity with analysis environments that
// launch Go tooling from a conda-managed shell.
var interestingEnvVars = []string{
	"CONDA_DEFAULT_ENV",
	"CONDA_PREFIX",
	"PATH",
	"LD_LIBRARY_PATH",
	"DYLD_LIBRARY_PATH",
	"USER",
	"HOME",
	"SHELL",
}

// systemProvenance snapshots everything fixed for the runtime:
// executable, platform, runtime version, selected environment
// variables, and the process arguments. Config-provided entries from
// SystemDict are merged last and win on key conflicts.
func (e *Engine) systemProvenance() map[string]any {
	hostname, _ := os.Hostname()
	executable, _ := os.Executable()

	system := map[string]any{
		"executable": executable,
		"platform": map[string]any{
			"system":   runtime.GOOS,
			"machine":  runtime.GOARCH,
			"node":     hostname,
			"num_cpus": runtime.NumCPU(),
		},
		"runtime": map[string]any{
			"version":  runtime.Version(),
			"compiler": runtime.Compiler,
		},
		"environment":    e.envVars(),
		"arguments":      os.Args,
		"start_time_utc": e.now().UTC().Format(time.RFC3339Nano),
	}
	for k, v := range e.config.SystemDict {
		system[k] = v
	}
	return system
}

// envVars snapshots the interesting environment variables plus any
// additional names requested in the configuration.
func (e *Engine) envVars() map[string]any {
	vars := map[string]any{}
	for _, name := range interestingEnvVars {
		vars[name] = os.Getenv(name)
	}
	for _, name := range e.config.EnvVars {
		vars[name] = os.Getenv(name)
	}
	return vars
}
