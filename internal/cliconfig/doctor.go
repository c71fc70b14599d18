// Package cliconfig backs the config and doctor commands: dotted-path edits
// of the config file and setup diagnostics.
package cliconfig

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/KafClaw/clawlet/internal/config"
	"github.com/KafClaw/clawlet/internal/identity"
	"github.com/KafClaw/clawlet/internal/provider"
	"github.com/KafClaw/clawlet/internal/scheduler"
	"github.com/KafClaw/clawlet/internal/secrets"
)

type DoctorStatus string

const (
	DoctorPass DoctorStatus = "pass"
	DoctorWarn DoctorStatus = "warn"
	DoctorFail DoctorStatus = "fail"
)

type DoctorCheck struct {
	Name    string
	Status  DoctorStatus
	Message string
}

type DoctorReport struct {
	Checks []DoctorCheck
}

// DoctorOptions selects the fixes RunDoctorWithOptions may apply.
type DoctorOptions struct {
	// Fix scaffolds a missing workspace and tightens config file permissions.
	Fix bool
	// KeyLookup overrides the keyring lookup, mainly for tests.
	KeyLookup provider.KeyLookup
}

func (r DoctorReport) HasFailures() bool {
	for _, c := range r.Checks {
		if c.Status == DoctorFail {
			return true
		}
	}
	return false
}

func (r *DoctorReport) add(name string, status DoctorStatus, format string, args ...any) {
	r.Checks = append(r.Checks, DoctorCheck{Name: name, Status: status, Message: fmt.Sprintf(format, args...)})
}

func RunDoctor() (DoctorReport, error) {
	return RunDoctorWithOptions(DoctorOptions{})
}

func RunDoctorWithOptions(opts DoctorOptions) (DoctorReport, error) {
	report := DoctorReport{Checks: make([]DoctorCheck, 0, 10)}

	cfgPath, err := config.ConfigPath()
	if err != nil {
		report.add("config_path", DoctorFail, "cannot resolve config path: %v", err)
		return report, nil
	}

	if info, err := os.Stat(cfgPath); err != nil {
		if os.IsNotExist(err) {
			report.add("config_file", DoctorWarn, "config file not found at %s (defaults will be used; run 'clawlet onboard')", cfgPath)
		} else {
			report.add("config_file", DoctorFail, "cannot access config file: %v", err)
		}
	} else {
		report.add("config_file", DoctorPass, "config file found at %s", cfgPath)
		checkConfigMode(&report, cfgPath, info.Mode().Perm(), opts.Fix)
	}

	if loaded := config.EnvFileCandidates(); len(loaded) > 0 {
		var present []string
		for _, p := range loaded {
			if _, err := os.Stat(p); err == nil {
				present = append(present, p)
			}
		}
		if len(present) > 0 {
			report.add("env_files", DoctorPass, "env files: %s", strings.Join(present, ", "))
		}
	}

	cfg, err := config.Load()
	if err != nil {
		report.add("config_load", DoctorFail, "config load failed: %v", err)
		return report, nil
	}
	report.add("config_load", DoctorPass, "config loaded successfully")

	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			report.add("config_validate", DoctorFail, "%v", e)
		}
	} else {
		report.add("config_validate", DoctorPass, "config is consistent")
	}

	checkWorkspace(&report, cfg.Paths.Workspace, opts.Fix)
	checkProviders(&report, cfg, opts.KeyLookup)
	checkCronStore(&report)

	return report, nil
}

func checkConfigMode(report *DoctorReport, path string, mode os.FileMode, fix bool) {
	if mode&0o077 == 0 {
		report.add("config_permissions", DoctorPass, "config file mode %#o", mode)
		return
	}
	if fix {
		if err := os.Chmod(path, 0o600); err != nil {
			report.add("config_permissions", DoctorFail, "chmod 600 %s: %v", path, err)
			return
		}
		report.add("config_permissions", DoctorPass, "config file mode tightened to 0600")
		return
	}
	report.add("config_permissions", DoctorWarn, "config file is readable by others (%#o); it may hold API keys", mode)
}

func checkWorkspace(report *DoctorReport, ws string, fix bool) {
	if ws == "" {
		report.add("workspace", DoctorFail, "paths.workspace is empty")
		return
	}
	missing := identity.MissingFiles(ws)
	if len(missing) == 0 {
		report.add("workspace", DoctorPass, "workspace: %s", ws)
		return
	}
	if fix {
		res, err := identity.ScaffoldWorkspace(ws, false)
		if err != nil {
			report.add("workspace", DoctorFail, "scaffold %s: %v", ws, err)
			return
		}
		report.add("workspace", DoctorPass, "scaffolded %d file(s) in %s", len(res.Created), ws)
		return
	}
	report.add("workspace", DoctorWarn, "workspace %s is missing %s (run 'clawlet doctor --fix' or 'clawlet onboard')", ws, strings.Join(missing, ", "))
}

func checkProviders(report *DoctorReport, cfg *config.Config, lookup provider.KeyLookup) {
	if lookup == nil {
		lookup = secrets.NewStore().Lookup
	}
	router := provider.NewRouter(ProviderCredentials(cfg), cfg.Model.Name, provider.WithKeyLookup(lookup))

	var configured []string
	for _, s := range provider.Specs {
		if router.Configured(s.Name) {
			configured = append(configured, s.Label())
		}
	}
	if len(configured) == 0 {
		report.add("providers", DoctorFail, "no LLM provider has an API key (set one with 'clawlet auth set <provider>')")
		return
	}
	report.add("providers", DoctorPass, "configured: %s", strings.Join(configured, ", "))

	if ep, err := router.Resolve(cfg.Model.Name); err != nil {
		report.add("model_route", DoctorFail, "model %s: %v", cfg.Model.Name, err)
	} else {
		report.add("model_route", DoctorPass, "model %s routes to %s as %s", cfg.Model.Name, ep.Provider, ep.Model)
	}
}

func checkCronStore(report *DoctorReport) {
	path, err := config.CronStorePath()
	if err != nil {
		report.add("cron_store", DoctorWarn, "cannot resolve cron store: %v", err)
		return
	}
	lock, err := scheduler.AcquireStoreLock(path)
	switch {
	case errors.Is(err, scheduler.ErrLocked):
		report.add("gateway", DoctorPass, "gateway is running (cron store locked)")
	case err != nil:
		report.add("gateway", DoctorWarn, "cannot check cron store lock: %v", err)
	default:
		_ = lock.Unlock()
		report.add("gateway", DoctorPass, "gateway is not running")
	}

	jobs := scheduler.NewService(path, nil).ListJobs(true)
	report.add("cron_store", DoctorPass, "%d job(s) in %s", len(jobs), path)
}

// ProviderCredentials converts the providers block into router credentials.
func ProviderCredentials(cfg *config.Config) map[string]provider.Credentials {
	out := make(map[string]provider.Credentials)
	for name, p := range cfg.Providers.ByName() {
		out[name] = provider.Credentials{
			APIKey:       p.APIKey,
			APIBase:      p.APIBase,
			ExtraHeaders: p.ExtraHeaders,
		}
	}
	return out
}
