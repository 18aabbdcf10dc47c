// Package hostscan probes host security posture: OS-level protections,
// suspicious processes, and listening ports. Each scan replaces the
// previous report wholesale; history lives in the audit log.
package hostscan

import "time"

// ProcessInfo describes one flagged process.
type ProcessInfo struct {
	PID       int    `json:"pid"`
	Name      string `json:"name"`
	Command   string `json:"command"`
	Indicator string `json:"indicator"`
}

// PortInfo describes one flagged listening port.
type PortInfo struct {
	Port      int    `json:"port"`
	Protocol  string `json:"protocol"`
	Process   string `json:"process"`
	Indicator string `json:"indicator"`
}

// HostSecurityReport is the result of one full scan. Only the latest
// report is retained live; prior ones are folded into audit entries.
type HostSecurityReport struct {
	Timestamp                 time.Time     `json:"timestamp"`
	FirewallEnabled           bool          `json:"firewall_enabled"`
	DiskEncrypted             bool          `json:"disk_encrypted"`
	GatekeeperEnabled         bool          `json:"gatekeeper_enabled"`
	SystemIntegrityProtection bool          `json:"system_integrity_protection"`
	SuspiciousProcesses       []ProcessInfo `json:"suspicious_processes"`
	OpenPorts                 []PortInfo    `json:"open_ports"`
	Recommendations           []string      `json:"recommendations"`
}

// passCount returns how many of the boolean protection checks passed.
func (r *HostSecurityReport) passCount() (passed, failed int) {
	for _, ok := range []bool{r.FirewallEnabled, r.DiskEncrypted, r.GatekeeperEnabled, r.SystemIntegrityProtection} {
		if ok {
			passed++
		} else {
			failed++
		}
	}
	return passed, failed
}
