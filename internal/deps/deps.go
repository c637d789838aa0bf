// Package deps discovers the external binaries YanheKt shells out to.
package deps

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
)

// FFmpegEnv names the environment override consulted before config and PATH.
const FFmpegEnv = "INSIGHT_FFMPEG"

// Status reports the availability of a dependency.
type Status struct {
	Name        string
	Command     string
	Description string
	Source      string
	Available   bool
	Detail      string
}

// ResolveFFmpeg locates the remux binary. Lookup order: the INSIGHT_FFMPEG
// environment variable when it names an existing file, then the configured
// path, then "ffmpeg" on PATH.
func ResolveFFmpeg(configured string) Status {
	result := Status{
		Name:        "FFmpeg",
		Description: "Remuxes merged transport streams into MP4",
	}

	if candidate := strings.TrimSpace(os.Getenv(FFmpegEnv)); candidate != "" {
		if info, err := os.Stat(candidate); err == nil && isExecutable(info) {
			result.Command = candidate
			result.Source = "env"
			result.Available = true
			return result
		}
	}

	if configured = strings.TrimSpace(configured); configured != "" {
		if resolved, err := exec.LookPath(configured); err == nil {
			result.Command = resolved
			result.Source = "config"
			result.Available = true
			return result
		}
	}

	if resolved, err := exec.LookPath("ffmpeg"); err == nil {
		result.Command = resolved
		result.Source = "path"
		result.Available = true
		return result
	}

	result.Command = "ffmpeg"
	result.Detail = fmt.Sprintf("binary %q not found (set %s or ffmpeg.path)", "ffmpeg", FFmpegEnv)
	return result
}

func isExecutable(info os.FileInfo) bool {
	if info == nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}
