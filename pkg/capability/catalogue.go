package capability

// DetectionRule maps a substring of code text to the capability its
// presence implies. Matching is case-sensitive substring search over the
// raw code; the rules are deliberately coarse. This is a heuristic, not a
// static analyzer: missed capabilities are possible, and the dangerous
// command catalogue below remains the hard backstop for shell.
type DetectionRule struct {
	Pattern    string
	Capability Capability
}

// DetectionRules is the per-language capability-detection table. It is
// iterated generically by the policy engine; adding a language means
// adding an entry here, not a new code path.
var DetectionRules = map[Language][]DetectionRule{
	LangPython: {
		{Pattern: "open(", Capability: FilesystemRead},
		{Pattern: "pathlib", Capability: FilesystemRead},
		{Pattern: "os.listdir", Capability: FilesystemRead},
		{Pattern: "os.walk", Capability: FilesystemRead},
		{Pattern: "shutil", Capability: FilesystemWrite},
		{Pattern: "os.remove", Capability: FilesystemWrite},
		{Pattern: "os.rename", Capability: FilesystemWrite},
		{Pattern: "os.makedirs", Capability: FilesystemWrite},
		{Pattern: "tempfile", Capability: FilesystemWrite},
		{Pattern: "requests.", Capability: Network},
		{Pattern: "urllib", Capability: Network},
		{Pattern: "http.client", Capability: Network},
		{Pattern: "socket.", Capability: Network},
		{Pattern: "aiohttp", Capability: Network},
		{Pattern: "subprocess", Capability: ProcessSpawn},
		{Pattern: "Popen", Capability: ProcessSpawn},
		{Pattern: "os.system", Capability: ProcessSpawn},
		{Pattern: "os.exec", Capability: ProcessSpawn},
		{Pattern: "pty.spawn", Capability: ProcessSpawn},
	},
	LangJavaScript: {
		{Pattern: "fs.read", Capability: FilesystemRead},
		{Pattern: "readFileSync", Capability: FilesystemRead},
		{Pattern: "createReadStream", Capability: FilesystemRead},
		{Pattern: "fs.write", Capability: FilesystemWrite},
		{Pattern: "writeFileSync", Capability: FilesystemWrite},
		{Pattern: "createWriteStream", Capability: FilesystemWrite},
		{Pattern: "fs.unlink", Capability: FilesystemWrite},
		{Pattern: "fs.mkdir", Capability: FilesystemWrite},
		{Pattern: "fetch(", Capability: Network},
		{Pattern: "http.request", Capability: Network},
		{Pattern: "https.request", Capability: Network},
		{Pattern: "net.connect", Capability: Network},
		{Pattern: "axios", Capability: Network},
		{Pattern: "child_process", Capability: ProcessSpawn},
		{Pattern: "execSync", Capability: ProcessSpawn},
		{Pattern: "spawnSync", Capability: ProcessSpawn},
	},
	LangRuby: {
		{Pattern: "File.read", Capability: FilesystemRead},
		{Pattern: "File.open", Capability: FilesystemRead},
		{Pattern: "Dir.glob", Capability: FilesystemRead},
		{Pattern: "File.write", Capability: FilesystemWrite},
		{Pattern: "File.delete", Capability: FilesystemWrite},
		{Pattern: "FileUtils", Capability: FilesystemWrite},
		{Pattern: "Net::HTTP", Capability: Network},
		{Pattern: "URI.open", Capability: Network},
		{Pattern: "TCPSocket", Capability: Network},
		{Pattern: "system(", Capability: ProcessSpawn},
		{Pattern: "Open3", Capability: ProcessSpawn},
		{Pattern: "IO.popen", Capability: ProcessSpawn},
		{Pattern: "exec(", Capability: ProcessSpawn},
	},
	// Shell gets ShellExecution unconditionally (Language.IsShell); these
	// rules only refine the set for approval prompts.
	LangShell: {
		{Pattern: "cat ", Capability: FilesystemRead},
		{Pattern: "head ", Capability: FilesystemRead},
		{Pattern: "tail ", Capability: FilesystemRead},
		{Pattern: "grep ", Capability: FilesystemRead},
		{Pattern: "find ", Capability: FilesystemRead},
		{Pattern: "cp ", Capability: FilesystemWrite},
		{Pattern: "mv ", Capability: FilesystemWrite},
		{Pattern: "rm ", Capability: FilesystemWrite},
		{Pattern: "mkdir ", Capability: FilesystemWrite},
		{Pattern: "touch ", Capability: FilesystemWrite},
		{Pattern: "tee ", Capability: FilesystemWrite},
		{Pattern: "> ", Capability: FilesystemWrite},
		{Pattern: ">> ", Capability: FilesystemWrite},
		{Pattern: "curl ", Capability: Network},
		{Pattern: "wget ", Capability: Network},
		{Pattern: "ssh ", Capability: Network},
		{Pattern: "scp ", Capability: Network},
		{Pattern: "rsync ", Capability: Network},
		{Pattern: "nc ", Capability: Network},
		{Pattern: "ping ", Capability: Network},
		{Pattern: "xargs ", Capability: ProcessSpawn},
		{Pattern: "nohup ", Capability: ProcessSpawn},
	},
}

// PatternCategory groups dangerous command patterns for reporting.
type PatternCategory string

const (
	CategoryDestructive         PatternCategory = "destructive_operations"
	CategoryPrivilegeEscalation PatternCategory = "privilege_escalation"
	CategoryPermissionChanges   PatternCategory = "permission_changes"
	CategoryNetworkAttacks      PatternCategory = "network_attacks"
	CategorySystemModification  PatternCategory = "system_modification"
)

// DangerousPattern is one entry in the shell blocklist. Expr is a
// case-insensitive regular expression matched against the raw command
// text. A match rejects the command before any process is spawned,
// regardless of granted capabilities.
type DangerousPattern struct {
	Category PatternCategory
	Expr     string
	Reason   string
}

// DangerousPatterns is the fixed blocklist. Order matters only for which
// reason is reported when multiple patterns match (first wins).
var DangerousPatterns = []DangerousPattern{
	// Destructive operations
	{CategoryDestructive, `rm\s+(-[a-z]*[rf][a-z]*\s+)+`, "recursive or forced file deletion"},
	{CategoryDestructive, `\brmdir\b`, "directory removal"},
	{CategoryDestructive, `\bmkfs(\.|$|\s)`, "filesystem formatting"},
	{CategoryDestructive, `dd\s+.*of=/dev/`, "raw write to a block device"},
	{CategoryDestructive, `>\s*/dev/sd`, "redirect onto a block device"},
	{CategoryDestructive, `\bshred\b`, "secure file destruction"},
	{CategoryDestructive, `:\(\)\s*\{.*\};\s*:`, "fork bomb"},
	{CategoryDestructive, `drop\s+(table|database)`, "database destruction"},
	{CategoryDestructive, `truncate\s+-s\s*0`, "file truncation"},

	// Privilege escalation
	{CategoryPrivilegeEscalation, `\bsudo\b`, "privilege escalation via sudo"},
	{CategoryPrivilegeEscalation, `\bdoas\b`, "privilege escalation via doas"},
	{CategoryPrivilegeEscalation, `\bsu\s+(-|root)`, "switching to the root user"},
	{CategoryPrivilegeEscalation, `pkexec`, "privilege escalation via polkit"},

	// Permission changes
	{CategoryPermissionChanges, `chmod\s+777`, "world-writable permission change"},
	{CategoryPermissionChanges, `chmod\s+-r\s`, "recursive permission change"},
	{CategoryPermissionChanges, `chown\s+.*root`, "ownership change to root"},
	{CategoryPermissionChanges, `\bsetuid\b|\bchmod\s+[0-7]*[4-7][0-7]{3}\b`, "setuid/setgid bit manipulation"},

	// Network attacks
	{CategoryNetworkAttacks, `nc\s+-l`, "listening socket via netcat"},
	{CategoryNetworkAttacks, `\bnetcat\b.*-l`, "listening socket via netcat"},
	{CategoryNetworkAttacks, `nmap\s`, "port scanning"},
	{CategoryNetworkAttacks, `(curl|wget)[^|]*\|\s*(ba)?sh`, "piping a download into a shell"},
	{CategoryNetworkAttacks, `/dev/tcp/`, "raw tcp via shell device"},

	// System modification
	{CategorySystemModification, `\bcrontab\b`, "cron table modification"},
	{CategorySystemModification, `\blaunchctl\b`, "launch daemon modification"},
	{CategorySystemModification, `\bsystemctl\s+(enable|disable|mask)`, "system service modification"},
	{CategorySystemModification, `>\s*/etc/`, "writing under /etc"},
	{CategorySystemModification, `\bvisudo\b|>\s*.*sudoers`, "sudoers modification"},
	{CategorySystemModification, `\bdefaults\s+write\b`, "system preference modification"},
	{CategorySystemModification, `\bkextload\b|\binsmod\b`, "kernel extension loading"},
	{CategorySystemModification, `\bhistory\s+-c\b`, "shell history tampering"},
}
