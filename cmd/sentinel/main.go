// Command sentinel runs the security and execution governance core: the
// capability-gated execution broker, threat assessment, audit log, and
// host security scanner. Every component is constructed here and passed
// down explicitly; there are no package-level service singletons.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonchat/sentinel/pkg/audit"
	"github.com/halcyonchat/sentinel/pkg/broker"
	"github.com/halcyonchat/sentinel/pkg/bus"
	"github.com/halcyonchat/sentinel/pkg/capability"
	"github.com/halcyonchat/sentinel/pkg/config"
	"github.com/halcyonchat/sentinel/pkg/grants"
	"github.com/halcyonchat/sentinel/pkg/hostscan"
	"github.com/halcyonchat/sentinel/pkg/launcher"
	"github.com/halcyonchat/sentinel/pkg/logging"
	"github.com/halcyonchat/sentinel/pkg/policy"
	"github.com/halcyonchat/sentinel/pkg/storage"
	"github.com/halcyonchat/sentinel/pkg/threat"
)

// Version information - set via ldflags during build
var (
	version = "1.0.0-dev"
	commit  = "unknown"
)

var (
	configPath string
	logDir     string
)

func main() {
	flag.StringVar(&configPath, "config", defaultConfigPath(), "path to config file")
	flag.StringVar(&logDir, "log-dir", "", "override log directory")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(2)
	}

	if err := run(flag.Arg(0), flag.Args()[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "sentinel: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `sentinel %s (%s) - security & execution governance

Usage:
  sentinel [flags] <command> [command flags]

Commands:
  serve     run the governance service (bus, background monitoring, hot reload)
  exec      run a code fragment through the execution broker
  check     classify a code fragment without executing it
  assess    score text against the threat pattern sets
  scan      run a host security scan and print the report
  export    export the audit log produced by this invocation

Flags:
`, version, commit)
	flag.PrintDefaults()
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "sentinel.yaml"
	}
	return filepath.Join(home, ".sentinel", "config.yaml")
}

// app holds the wired component graph for one process.
type app struct {
	cfg      *config.Config
	logger   *logging.Logger
	msgBus   bus.MessageBus
	auditLog *audit.Log
	alerts   *audit.AlertStore
	grants   *grants.Store
	grantDB  *storage.Store
	policy   *policy.Engine
	assessor *threat.Assessor
	scanner  *hostscan.Scanner
	broker   *broker.Broker
}

func newApp(cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	dir := cfg.Logging.Dir
	if logDir != "" {
		dir = logDir
	}
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving log directory: %w", err)
		}
		dir = filepath.Join(home, ".sentinel", "logs")
	}
	logger, err := logging.NewLogger(dir, uuid.NewString())
	if err != nil {
		return nil, err
	}
	logger.SetMinLevel(logging.Level(strings.ToLower(cfg.Logging.MinLevel)))
	a.logger = logger

	switch strings.ToLower(cfg.Bus.Mode) {
	case "nats":
		a.msgBus, err = bus.NewNATSBus(bus.Config{URL: cfg.Bus.URL, Name: "sentinel"})
		if err != nil {
			a.close()
			return nil, fmt.Errorf("connecting message bus: %w", err)
		}
	default:
		a.msgBus = bus.NewMemoryBus()
	}

	a.auditLog = audit.NewLog(audit.Config{
		MaxEntries:      cfg.Audit.MaxEntries,
		LogThreatsOnly:  cfg.Audit.LogThreatsOnly,
		ThreatThreshold: cfg.ThreatThreshold(),
	}, a.msgBus)
	a.alerts = audit.NewAlertStore(a.msgBus)

	var persister grants.Persister
	if cfg.Storage.GrantDBPath != "" {
		a.grantDB, err = storage.New(cfg.Storage.GrantDBPath)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("opening grant store: %w", err)
		}
		persister = a.grantDB
	}
	a.grants, err = grants.NewStore(persister)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("loading grants: %w", err)
	}

	a.policy, err = policy.NewEngine()
	if err != nil {
		a.close()
		return nil, err
	}

	a.assessor, err = threat.NewAssessor(threat.Gates{
		AutoBlockCritical: cfg.Policy.AutoBlockCritical,
		PromptOnHigh:      cfg.Policy.PromptOnHigh,
	}, a.auditLog, a.alerts)
	if err != nil {
		a.close()
		return nil, err
	}

	a.scanner = hostscan.NewScanner(nil, a.auditLog, a.alerts, a.logger, a.msgBus, hostscan.Options{})

	a.broker = broker.NewBroker(a.policy, a.grants, launcher.NewLocal(), a.auditLog, a.logger, broker.Options{
		DefaultTimeout:     a.cfg.Timeout(),
		OutputCeiling:      cfg.Execution.OutputCeilingBytes,
		MaxConcurrent:      int64(cfg.Execution.MaxConcurrent),
		StrictCapabilities: cfg.Policy.StrictCapabilities,
	})

	return a, nil
}

// applyConfig pushes a hot-reloaded config into the running components.
func (a *app) applyConfig(cfg *config.Config) {
	a.cfg = cfg
	a.auditLog.SetMaxEntries(cfg.Audit.MaxEntries)
	a.auditLog.SetThreatFilter(cfg.Audit.LogThreatsOnly, cfg.ThreatThreshold())
	a.assessor.SetGates(threat.Gates{
		AutoBlockCritical: cfg.Policy.AutoBlockCritical,
		PromptOnHigh:      cfg.Policy.PromptOnHigh,
	})
	a.broker.SetOptions(broker.Options{
		DefaultTimeout:     cfg.Timeout(),
		OutputCeiling:      cfg.Execution.OutputCeilingBytes,
		StrictCapabilities: cfg.Policy.StrictCapabilities,
	})
	a.logger.SetMinLevel(logging.Level(strings.ToLower(cfg.Logging.MinLevel)))
}

func (a *app) close() {
	if a.grantDB != nil {
		a.grantDB.Close()
	}
	if a.msgBus != nil {
		a.msgBus.Close()
	}
	if a.logger != nil {
		a.logger.Close()
	}
}

func run(command string, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.close()

	switch command {
	case "serve":
		return a.serve()
	case "exec":
		return a.execCommand(args)
	case "check":
		return a.checkCommand(args)
	case "assess":
		return a.assessCommand(args)
	case "scan":
		return a.scanCommand(args)
	case "export":
		return a.exportCommand(args)
	default:
		usage()
		return fmt.Errorf("unknown command: %s", command)
	}
}

func (a *app) serve() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher, err := config.NewWatcher(configPath, a.logger, a.applyConfig)
	if err != nil {
		_ = a.logger.Warn(logging.CategoryConfig, "watch_unavailable",
			"config hot reload disabled", map[string]any{"error": err.Error()})
	} else {
		defer watcher.Close()
	}

	scanSub, err := a.scanner.AttachBus(ctx)
	if err == nil {
		defer scanSub.Unsubscribe()
	}

	if a.cfg.Monitoring.BackgroundMonitoring {
		go a.scanner.Run(ctx, a.cfg.ScanInterval())
	}

	_ = a.logger.Info(logging.CategoryBroker, "started", "sentinel service started", map[string]any{
		"version": version,
		"bus":     a.cfg.Bus.Mode,
	})

	<-ctx.Done()
	a.broker.CancelAll()
	return nil
}

func (a *app) execCommand(args []string) error {
	fs := flag.NewFlagSet("exec", flag.ExitOnError)
	lang := fs.String("lang", "python", "language: python, javascript, ruby, shell")
	conv := fs.String("conversation", "cli", "conversation id the grants are scoped to")
	timeout := fs.Duration("timeout", 0, "execution timeout (0 = configured default)")
	grantCaps := fs.String("grant", "", "comma-separated capabilities to grant first")
	grantFor := fs.String("grant-duration", "once", "grant duration: once, session, always")
	if err := fs.Parse(args); err != nil {
		return err
	}

	language, err := capability.ParseLanguage(*lang)
	if err != nil {
		return err
	}
	code, err := readCode(fs.Args())
	if err != nil {
		return err
	}

	if *grantCaps != "" {
		set, err := parseCapabilities(*grantCaps)
		if err != nil {
			return err
		}
		duration, err := capability.ParseDuration(*grantFor)
		if err != nil {
			return err
		}
		if err := a.broker.Approve(*conv, set, duration); err != nil {
			return err
		}
	}

	result, err := a.broker.Execute(context.Background(), broker.ExecutionRequest{
		ConversationID: *conv,
		Language:       language,
		Code:           code,
		WorkingDir:     a.cfg.Execution.WorkingDir,
		Timeout:        *timeout,
	})
	if err != nil {
		var execErr *broker.ExecutionError
		if errors.As(err, &execErr) && execErr.Kind == broker.KindCapabilityDenied {
			// The denial reason renders verbatim; tell the caller how to
			// approve and retry.
			return fmt.Errorf("%w\nre-run with -grant %s to approve", execErr, execErr.Denied)
		}
		return err
	}

	fmt.Print(result.Stdout)
	if result.Stderr != "" {
		fmt.Fprint(os.Stderr, result.Stderr)
	}
	if result.WasTruncated {
		fmt.Fprintln(os.Stderr, "(output truncated)")
	}
	if result.SecretsDetected {
		fmt.Fprintln(os.Stderr, "(secrets redacted)")
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("exit code %d", result.ExitCode)
	}
	return nil
}

func (a *app) checkCommand(args []string) error {
	fs := flag.NewFlagSet("check", flag.ExitOnError)
	lang := fs.String("lang", "python", "language: python, javascript, ruby, shell")
	if err := fs.Parse(args); err != nil {
		return err
	}

	language, err := capability.ParseLanguage(*lang)
	if err != nil {
		return err
	}
	code, err := readCode(fs.Args())
	if err != nil {
		return err
	}

	c := a.policy.Classify(language, code)
	if c.Blocked != nil {
		fmt.Printf("blocked: %s\n", c.Blocked)
		return nil
	}
	caps := c.Required.Strings()
	if len(caps) == 0 {
		fmt.Println("no capabilities required")
		return nil
	}
	fmt.Printf("required capabilities: %s\n", strings.Join(caps, ", "))
	return nil
}

func (a *app) assessCommand(args []string) error {
	fs := flag.NewFlagSet("assess", flag.ExitOnError)
	direction := fs.String("direction", "prompt", "content direction: prompt or response")
	if err := fs.Parse(args); err != nil {
		return err
	}

	text, err := readCode(fs.Args())
	if err != nil {
		return err
	}

	result := a.assessor.Assess(text, threat.Context{
		ConversationID: "cli",
		Direction:      threat.Direction(*direction),
	})
	fmt.Printf("threat level: %s\n", result.Level)
	for _, p := range result.MatchedPatterns {
		fmt.Printf("  matched: %s\n", p)
	}
	if result.Blocked {
		fmt.Println("verdict: blocked")
	} else if result.NeedsConfirmation {
		fmt.Println("verdict: needs confirmation")
	}
	return nil
}

func (a *app) scanCommand(args []string) error {
	fs := flag.NewFlagSet("scan", flag.ExitOnError)
	scanTimeout := fs.Duration("timeout", 30*time.Second, "scan timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), *scanTimeout)
	defer cancel()

	report, err := a.scanner.Scan(ctx)
	if err != nil {
		return err
	}

	printCheck := func(name string, ok bool) {
		state := "FAIL"
		if ok {
			state = "ok"
		}
		fmt.Printf("%-28s %s\n", name, state)
	}
	printCheck("firewall", report.FirewallEnabled)
	printCheck("disk encryption", report.DiskEncrypted)
	printCheck("gatekeeper", report.GatekeeperEnabled)
	printCheck("system integrity", report.SystemIntegrityProtection)

	for _, p := range report.SuspiciousProcesses {
		fmt.Printf("suspicious process: %s (pid %d) - %s\n", p.Name, p.PID, p.Indicator)
	}
	for _, p := range report.OpenPorts {
		fmt.Printf("suspicious port: %d/%s (%s) - %s\n", p.Port, p.Protocol, p.Process, p.Indicator)
	}
	for _, r := range report.Recommendations {
		fmt.Printf("recommendation: %s\n", r)
	}
	return nil
}

func (a *app) exportCommand(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	out := fs.String("o", "", "output file (default stdout)")
	withScan := fs.Bool("scan", false, "run a host scan before exporting")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *withScan {
		if _, err := a.scanner.Scan(context.Background()); err != nil {
			return err
		}
	}

	data, err := a.auditLog.ExportAll()
	if err != nil {
		return err
	}
	if *out == "" {
		fmt.Println(string(data))
		return nil
	}
	return os.WriteFile(*out, data, 0o600)
}

// readCode takes the fragment from the remaining args, or stdin when the
// sole arg is "-" or none are given.
func readCode(args []string) (string, error) {
	if len(args) > 0 && args[0] != "-" {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("no code provided")
	}
	return string(data), nil
}

func parseCapabilities(s string) (capability.Set, error) {
	set := capability.NewSet()
	for _, name := range strings.Split(s, ",") {
		c, err := capability.Parse(name)
		if err != nil {
			return nil, err
		}
		set = set.Add(c)
	}
	return set, nil
}
