package version

import (
	"fmt"
	"os"
	"runtime"

	fversion "fortio.org/version"
)

const modulePath = "github.com/arhuman/distserve"

var (
	// Version is the application version - set by build flags
	Version = "dev"
	// GitCommit is the git commit hash - set by build flags
	GitCommit = "unknown"
	// BuildDate is the build date - set by build flags
	BuildDate = "unknown"
	// BuildEnv is the environment this binary was built for - set by build flags
	BuildEnv = "unknown"
)

func init() {
	// go install builds carry module info instead of ldflags
	if Version != "dev" {
		return
	}
	if short, _, _ := fversion.FromBuildInfoPath(modulePath); short != "" && short != "dev" {
		Version = short
	}
}

// Info returns detailed version information
func Info() string {
	return fmt.Sprintf("Version: %s, Commit: %s, Built: %s, BuildEnv: %s, Go: %s",
		Version, GitCommit, BuildDate, BuildEnv, runtime.Version())
}

// Component returns version info for a specific component
func Component(componentName string) string {
	return fmt.Sprintf("%s %s (commit: %s, built: %s, env: %s)",
		componentName, Version, GitCommit, BuildDate, BuildEnv)
}

// Environment returns the build environment
func Environment() string {
	if BuildEnv == "unknown" {
		return "dev"
	}
	return BuildEnv
}

// EnvironmentInfo returns build and runtime (DISTSERVE_ENV) environments
func EnvironmentInfo() string {
	buildEnv := Environment()
	runtimeEnv := "unknown"

	if envVar := os.Getenv("DISTSERVE_ENV"); envVar != "" {
		runtimeEnv = envVar
	}

	if buildEnv == runtimeEnv {
		return fmt.Sprintf("Environment: %s (build matches runtime)", buildEnv)
	}

	return fmt.Sprintf("Environment: build=%s, runtime=%s", buildEnv, runtimeEnv)
}
