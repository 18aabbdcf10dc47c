package hostscan

import (
	"context"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
)

// Runner executes an external probe command and returns its combined
// output. Injectable so tests never shell out.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
}

// ExecRunner is the production Runner.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, name, args...).CombinedOutput()
	return string(out), err
}

// boolProbe checks one OS-level protection. A probe that errors counts
// as failed: an unqueryable protection cannot be assumed on.
type boolProbe struct {
	name string
	argv []string
	pass func(output string) bool
	// assume is reported without running anything when argv is empty,
	// for protections that do not exist on this platform.
	assume         bool
	set            func(r *HostSecurityReport, ok bool)
	recommendation string
}

// protectionProbes returns the platform's probe table. Order is the
// fixed recommendation order.
func protectionProbes() []boolProbe {
	if runtime.GOOS == "darwin" {
		return []boolProbe{
			{
				name: "firewall",
				argv: []string{"/usr/libexec/ApplicationFirewall/socketfilterfw", "--getglobalstate"},
				pass: func(out string) bool { return strings.Contains(strings.ToLower(out), "enabled") },
				set:  func(r *HostSecurityReport, ok bool) { r.FirewallEnabled = ok },
				recommendation: "Enable the system firewall to block unsolicited inbound connections.",
			},
			{
				name: "disk_encryption",
				argv: []string{"fdesetup", "status"},
				pass: func(out string) bool { return strings.Contains(out, "FileVault is On") },
				set:  func(r *HostSecurityReport, ok bool) { r.DiskEncrypted = ok },
				recommendation: "Enable full-disk encryption to protect data at rest.",
			},
			{
				name: "gatekeeper",
				argv: []string{"spctl", "--status"},
				pass: func(out string) bool { return strings.Contains(out, "assessments enabled") },
				set:  func(r *HostSecurityReport, ok bool) { r.GatekeeperEnabled = ok },
				recommendation: "Enable Gatekeeper so only trusted applications can run.",
			},
			{
				name: "system_integrity_protection",
				argv: []string{"csrutil", "status"},
				pass: func(out string) bool { return strings.Contains(strings.ToLower(out), "enabled") },
				set:  func(r *HostSecurityReport, ok bool) { r.SystemIntegrityProtection = ok },
				recommendation: "Re-enable System Integrity Protection.",
			},
		}
	}

	return []boolProbe{
		{
			name: "firewall",
			argv: []string{"ufw", "status"},
			pass: func(out string) bool { return strings.Contains(out, "Status: active") },
			set:  func(r *HostSecurityReport, ok bool) { r.FirewallEnabled = ok },
			recommendation: "Enable the system firewall to block unsolicited inbound connections.",
		},
		{
			name: "disk_encryption",
			argv: []string{"lsblk", "-n", "-o", "TYPE"},
			pass: func(out string) bool { return strings.Contains(out, "crypt") },
			set:  func(r *HostSecurityReport, ok bool) { r.DiskEncrypted = ok },
			recommendation: "Enable full-disk encryption to protect data at rest.",
		},
		// No Gatekeeper or SIP equivalents; reported as passing so they
		// never generate noise recommendations.
		{
			name:   "gatekeeper",
			assume: true,
			set:    func(r *HostSecurityReport, ok bool) { r.GatekeeperEnabled = ok },
		},
		{
			name:   "system_integrity_protection",
			assume: true,
			set:    func(r *HostSecurityReport, ok bool) { r.SystemIntegrityProtection = ok },
		},
	}
}

// enumerateProcesses lists processes via ps and returns those matching
// the indicator table.
func enumerateProcesses(ctx context.Context, runner Runner) ([]ProcessInfo, error) {
	out, err := runner.Run(ctx, "ps", "axo", "pid=,comm=,args=")
	if err != nil {
		return nil, err
	}

	var flagged []ProcessInfo
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		name := fields[1]
		command := strings.Join(fields[1:], " ")
		if reason, ok := matchProcess(name, command); ok {
			flagged = append(flagged, ProcessInfo{
				PID:       pid,
				Name:      name,
				Command:   command,
				Indicator: reason,
			})
		}
	}
	return flagged, nil
}

// enumeratePorts lists listening TCP sockets via lsof and returns those
// matching the indicator table.
func enumeratePorts(ctx context.Context, runner Runner) ([]PortInfo, error) {
	out, err := runner.Run(ctx, "lsof", "-nP", "-iTCP", "-sTCP:LISTEN")
	if err != nil {
		return nil, err
	}

	var flagged []PortInfo
	seen := make(map[int]bool)
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 9 || fields[0] == "COMMAND" {
			continue
		}
		// The NAME column is last unless lsof appended a "(LISTEN)" state
		// field after it.
		addr := fields[len(fields)-1]
		if addr == "(LISTEN)" {
			addr = fields[len(fields)-2]
		}
		idx := strings.LastIndex(addr, ":")
		if idx < 0 {
			continue
		}
		port, err := strconv.Atoi(addr[idx+1:])
		if err != nil || seen[port] {
			continue
		}
		if reason, ok := matchPort(port); ok {
			seen[port] = true
			flagged = append(flagged, PortInfo{
				Port:      port,
				Protocol:  "tcp",
				Process:   fields[0],
				Indicator: reason,
			})
		}
	}
	return flagged, nil
}
