package capability

import (
	"fmt"
	"strings"
)

// Language identifies an execution target understood by the broker.
type Language string

const (
	LangPython     Language = "python"
	LangJavaScript Language = "javascript"
	LangRuby       Language = "ruby"
	LangShell      Language = "shell"
)

// Languages lists every supported language.
func Languages() []Language {
	return []Language{LangPython, LangJavaScript, LangRuby, LangShell}
}

// IsShell reports whether the language executes through a shell.
// Shell languages always require ShellExecution, independent of what the
// detection tables find in the code text.
func (l Language) IsShell() bool {
	return l == LangShell
}

// ParseLanguage normalizes a language name.
func ParseLanguage(s string) (Language, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "python", "python3", "py":
		return LangPython, nil
	case "javascript", "js", "node":
		return LangJavaScript, nil
	case "ruby", "rb":
		return LangRuby, nil
	case "shell", "sh", "bash", "zsh":
		return LangShell, nil
	default:
		return "", fmt.Errorf("unsupported language: %q", s)
	}
}
