/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package kindstore

import (
	"fmt"
	"runtime"
)

// Version information, overridden at build time with
// -ldflags "-X github.com/suparena/kindstore.GitCommit=..."
var (
	// Version is the semantic version of KindStore
	Version = "0.1.0"

	// GitCommit is the git commit hash
	GitCommit = "unknown"

	// BuildDate is the build date
	BuildDate = "unknown"
)

// VersionInfo describes the running build.
type VersionInfo struct {
	Version   string   `json:"version" yaml:"version"`
	GitCommit string   `json:"gitCommit" yaml:"gitCommit"`
	BuildDate string   `json:"buildDate" yaml:"buildDate"`
	GoVersion string   `json:"goVersion" yaml:"goVersion"`
	Backends  []string `json:"backends" yaml:"backends"`
}

// GetVersionInfo returns the version information
func GetVersionInfo() VersionInfo {
	return VersionInfo{
		Version:   Version,
		GitCommit: GitCommit,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Backends:  Backends(),
	}
}

func (v VersionInfo) String() string {
	return fmt.Sprintf("kindstore %s (commit %s, built %s, %s)", v.Version, v.GitCommit, v.BuildDate, v.GoVersion)
}
