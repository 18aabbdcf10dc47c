package hostscan

import "strings"

// processIndicator flags a process whose name or command line contains
// the given substring (case-insensitive).
type processIndicator struct {
	Substring string
	Reason    string
}

// The indicator tables are data; enumeration code iterates them
// generically, the same way the capability-detection tables work.
var processIndicators = []processIndicator{
	{"xmrig", "known cryptominer"},
	{"minerd", "known cryptominer"},
	{"cpuminer", "known cryptominer"},
	{"keylogger", "keylogging tool"},
	{"mimikatz", "credential dumping tool"},
	{"ngrok", "tunnel exposing local services"},
	{"torrent", "peer-to-peer file sharing"},
}

// portIndicator flags a listening port commonly associated with remote
// access tooling or malware command channels.
type portIndicator struct {
	Port   int
	Reason string
}

var portIndicators = []portIndicator{
	{1337, "commonly used by backdoors"},
	{4444, "default metasploit handler port"},
	{5555, "unauthenticated debug bridge port"},
	{6667, "irc port used by botnets"},
	{12345, "legacy remote access trojan port"},
	{31337, "commonly used by backdoors"},
}

func matchProcess(name, command string) (string, bool) {
	lowName := strings.ToLower(name)
	lowCmd := strings.ToLower(command)
	for _, ind := range processIndicators {
		if strings.Contains(lowName, ind.Substring) || strings.Contains(lowCmd, ind.Substring) {
			return ind.Reason, true
		}
	}
	return "", false
}

func matchPort(port int) (string, bool) {
	for _, ind := range portIndicators {
		if ind.Port == port {
			return ind.Reason, true
		}
	}
	return "", false
}
