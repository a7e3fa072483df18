package version

import (
	"encoding/json"
	"runtime"
	"strings"
	"testing"
)

// withBuild overrides the ldflags variables for one test.
func withBuild(t *testing.T, version, commit, branch, treeState string) {
	t.Helper()
	origVersion, origCommit, origBranch, origTree := Version, Commit, Branch, TreeState
	t.Cleanup(func() {
		Version, Commit, Branch, TreeState = origVersion, origCommit, origBranch, origTree
	})
	Version, Commit, Branch, TreeState = version, commit, branch, treeState
}

func TestGetInfo(t *testing.T) {
	info := GetInfo()

	if info.Version == "" {
		t.Error("expected non-empty version")
	}
	if info.GoVersion != runtime.Version() {
		t.Errorf("expected go version %s, got %s", runtime.Version(), info.GoVersion)
	}
	if info.OS != runtime.GOOS {
		t.Errorf("expected os %s, got %s", runtime.GOOS, info.OS)
	}
	if info.Arch != runtime.GOARCH {
		t.Errorf("expected arch %s, got %s", runtime.GOARCH, info.Arch)
	}
}

func TestGetInfo_CommitSHA(t *testing.T) {
	tests := []struct {
		name      string
		commit    string
		treeState string
		want      string
	}{
		{"unknown commit", "unknown", "clean", ""},
		{"short commit", "abc", "clean", ""},
		{"clean tree", "0123456789abcdef", "clean", "01234567"},
		{"dirty tree", "0123456789abcdef", "dirty", "01234567*"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			withBuild(t, "1.0.0", tt.commit, "main", tt.treeState)
			if got := GetInfo().CommitSHA; got != tt.want {
				t.Errorf("CommitSHA = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestString(t *testing.T) {
	withBuild(t, "dev", "unknown", "unknown", "unknown")
	s := String()

	if !strings.HasPrefix(s, ApplicationName+" version dev") {
		t.Errorf("unexpected string %q", s)
	}
	if !strings.Contains(s, runtime.GOOS+"/"+runtime.GOARCH) {
		t.Errorf("expected platform in %q", s)
	}
	if strings.Contains(s, "commit:") {
		t.Errorf("expected no commit for an unknown build, got %q", s)
	}
}

func TestString_WithCommit(t *testing.T) {
	withBuild(t, "1.2.3", "0123456789abcdef", "feature/x", "clean")
	s := String()

	for _, want := range []string{"version 1.2.3", "commit: 01234567", "branch: feature/x", "built: "} {
		if !strings.Contains(s, want) {
			t.Errorf("expected %q in %q", want, s)
		}
	}
}

func TestShort(t *testing.T) {
	withBuild(t, "1.0.0", "unknown", "unknown", "unknown")
	if got := Short(); got != "1.0.0" {
		t.Errorf("Short() = %q, want 1.0.0", got)
	}

	withBuild(t, "1.0.0", "fedcba9876543210", "main", "dirty")
	if got := Short(); got != "1.0.0 (fedcba98*)" {
		t.Errorf("Short() = %q, want 1.0.0 (fedcba98*)", got)
	}
}

func TestJSON(t *testing.T) {
	withBuild(t, "2.0.0", "0123456789abcdef", "main", "clean")

	var info Info
	if err := json.Unmarshal([]byte(JSON()), &info); err != nil {
		t.Fatalf("JSON() is not valid JSON: %v", err)
	}
	if info.Version != "2.0.0" {
		t.Errorf("expected version 2.0.0, got %s", info.Version)
	}
	if info.CommitSHA != "01234567" {
		t.Errorf("expected commit_sha 01234567, got %s", info.CommitSHA)
	}
	if info.OS != runtime.GOOS || info.Arch != runtime.GOARCH {
		t.Errorf("expected %s/%s, got %s/%s", runtime.GOOS, runtime.GOARCH, info.OS, info.Arch)
	}
}

func TestLogAttr(t *testing.T) {
	withBuild(t, "1.4.0", "0123456789abcdef", "main", "clean")
	attr := LogAttr()

	if attr.Key != "build" {
		t.Errorf("expected build group, got %s", attr.Key)
	}
	got := attr.Value.String()
	for _, want := range []string{"1.4.0", "01234567", runtime.Version()} {
		if !strings.Contains(got, want) {
			t.Errorf("expected group to contain %s, got %s", want, got)
		}
	}
}

func TestIsSnapshot(t *testing.T) {
	tests := []struct {
		version  string
		snapshot bool
		release  bool
	}{
		{"dev", true, false},
		{"1.0.0", false, true},
		{"1.0.1-SNAPSHOT.abc1234", true, false},
		{"1.2.3-alpha.1", false, true},
	}

	for _, tt := range tests {
		t.Run(tt.version, func(t *testing.T) {
			withBuild(t, tt.version, "unknown", "unknown", "unknown")
			if got := IsSnapshot(); got != tt.snapshot {
				t.Errorf("IsSnapshot() = %v, want %v", got, tt.snapshot)
			}
			if got := IsRelease(); got != tt.release {
				t.Errorf("IsRelease() = %v, want %v", got, tt.release)
			}
		})
	}
}
