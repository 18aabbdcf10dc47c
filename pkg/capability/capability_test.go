package capability

import (
	"testing"
)

func TestSetMissingOrder(t *testing.T) {
	granted := NewSet(Network)
	required := NewSet(ShellExecution, FilesystemWrite, FilesystemRead, Network)

	missing := granted.Missing(required)
	expected := []Capability{FilesystemRead, FilesystemWrite, ShellExecution}

	if len(missing) != len(expected) {
		t.Fatalf("missing = %v, want %v", missing, expected)
	}
	for i, c := range expected {
		if missing[i] != c {
			t.Errorf("missing[%d] = %v, want %v", i, missing[i], c)
		}
	}
}

func TestSetUnionDoesNotMutate(t *testing.T) {
	a := NewSet(FilesystemRead)
	b := NewSet(Network)

	u := a.Union(b)
	if !u.Has(FilesystemRead) || !u.Has(Network) {
		t.Errorf("union missing members: %v", u.Strings())
	}
	if a.Has(Network) {
		t.Error("Union mutated receiver")
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Capability
		wantErr bool
	}{
		{"filesystem_read", FilesystemRead, false},
		{"NETWORK", Network, false},
		{"shell", ShellExecution, false},
		{" process_spawn ", ProcessSpawn, false},
		{"write", FilesystemWrite, false},
		{"root", 0, true},
	}

	for _, tt := range tests {
		got, err := Parse(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("Parse(%q) expected error", tt.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestParseLanguage(t *testing.T) {
	tests := []struct {
		in      string
		want    Language
		wantErr bool
	}{
		{"python3", LangPython, false},
		{"js", LangJavaScript, false},
		{"bash", LangShell, false},
		{"zsh", LangShell, false},
		{"rb", LangRuby, false},
		{"perl", "", true},
	}

	for _, tt := range tests {
		got, err := ParseLanguage(tt.in)
		if tt.wantErr != (err != nil) {
			t.Errorf("ParseLanguage(%q) err = %v, wantErr = %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLanguage(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestShellIsShell(t *testing.T) {
	if !LangShell.IsShell() {
		t.Error("LangShell.IsShell() = false")
	}
	if LangPython.IsShell() {
		t.Error("LangPython.IsShell() = true")
	}
}

func TestDetectionTablesCoverAllLanguages(t *testing.T) {
	for _, lang := range Languages() {
		if len(DetectionRules[lang]) == 0 {
			t.Errorf("no detection rules for %s", lang)
		}
	}
}

func TestDurationRoundTrip(t *testing.T) {
	for _, d := range []Duration{DurationOnce, DurationSession, DurationAlways} {
		parsed, err := ParseDuration(d.String())
		if err != nil {
			t.Fatalf("ParseDuration(%q): %v", d.String(), err)
		}
		if parsed != d {
			t.Errorf("ParseDuration(%q) = %v, want %v", d.String(), parsed, d)
		}
	}
}
