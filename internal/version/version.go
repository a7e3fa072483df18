// Package version provides build-time version information for abrhls.
//
// The variables are injected at build time via ldflags:
//
//	go build -ldflags "-X github.com/jmylchreest/abrhls/internal/version.Version=x.y.z \
//	                   -X github.com/jmylchreest/abrhls/internal/version.Commit=$(git rev-parse HEAD) \
//	                   -X github.com/jmylchreest/abrhls/internal/version.Date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
)

// Build-time variables injected via ldflags.
var (
	// Version is the semantic version following SemVer 2.0.0.
	// Release format: "1.2.3"
	// Prerelease format: "1.2.3-SNAPSHOT.abc1234"
	Version = "dev"

	// Commit is the full git commit SHA.
	Commit = "unknown"

	// Date is the build timestamp in RFC3339 format.
	Date = "unknown"

	// Branch is the git branch the binary was built from.
	Branch = "unknown"

	// TreeState is "clean" or "dirty".
	TreeState = "unknown"
)

// ApplicationName is the canonical name of this application.
const ApplicationName = "abrhls"

const shortSHALen = 8

// Info contains structured version information.
type Info struct {
	Version   string `json:"version" yaml:"version"`
	Commit    string `json:"commit" yaml:"commit"`
	CommitSHA string `json:"commit_sha" yaml:"commit_sha"`
	Date      string `json:"date" yaml:"date"`
	Branch    string `json:"branch" yaml:"branch"`
	TreeState string `json:"tree_state" yaml:"tree_state"`
	GoVersion string `json:"go_version" yaml:"go_version"`
	OS        string `json:"os" yaml:"os"`
	Arch      string `json:"arch" yaml:"arch"`
}

// GetInfo returns all version information as a structured type.
func GetInfo() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		CommitSHA: shortSHA(),
		Date:      Date,
		Branch:    Branch,
		TreeState: TreeState,
		GoVersion: runtime.Version(),
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}

func shortSHA() string {
	if Commit == "unknown" || len(Commit) < shortSHALen {
		return ""
	}
	sha := Commit[:shortSHALen]
	if TreeState == "dirty" {
		sha += "*"
	}
	return sha
}

// String returns a human-readable version string.
func String() string {
	info := GetInfo()
	platform := info.OS + "/" + info.Arch
	if info.CommitSHA == "" {
		return fmt.Sprintf("%s version %s (%s, %s)", ApplicationName, info.Version, info.GoVersion, platform)
	}
	parts := []string{"commit: " + info.CommitSHA}
	if info.Branch != "unknown" && info.Branch != "" {
		parts = append(parts, "branch: "+info.Branch)
	}
	parts = append(parts, "built: "+info.Date, info.GoVersion, platform)
	return fmt.Sprintf("%s version %s (%s)", ApplicationName, info.Version, strings.Join(parts, ", "))
}

// Short returns a short version string for cobra's --version output,
// which already prints the application name.
func Short() string {
	if sha := shortSHA(); sha != "" {
		return fmt.Sprintf("%s (%s)", Version, sha)
	}
	return Version
}

// JSON returns the version information as a JSON document.
func JSON() string {
	data, err := json.Marshal(GetInfo())
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LogAttr groups the version information for a startup log line.
func LogAttr() slog.Attr {
	info := GetInfo()
	return slog.Group("build",
		slog.String("version", info.Version),
		slog.String("commit", info.CommitSHA),
		slog.String("go", info.GoVersion),
	)
}

// IsSnapshot returns true if this is a snapshot/prerelease build.
// Snapshots use SemVer prerelease format: X.Y.Z-SNAPSHOT.commitsha
func IsSnapshot() bool {
	return Version == "dev" || strings.Contains(Version, "-SNAPSHOT")
}

// IsRelease returns true if this is a tagged release build.
func IsRelease() bool {
	return !IsSnapshot() && Version != "dev"
}
