package deps

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"solasola/internal/config"
)

// CheckFFmpeg reports the FFmpeg binary the separator will decode
// compressed audio with.
//
// FFmpeg builds ship ffmpeg and ffprobe side by side, so an ffmpeg next to
// the configured ffprobe wins over one resolved from PATH. Both tools then
// come from the same build.
func CheckFFmpeg(ffprobeCommand string) Status {
	result := Status{
		Name:        "FFmpeg",
		Description: "Used by the separator to decode compressed audio",
	}

	ffprobeBinary, _ := config.CommandLine(ffprobeCommand)
	if ffprobeBinary != "" {
		if resolved, err := exec.LookPath(ffprobeBinary); err == nil {
			candidate := siblingBinary(resolved, "ffmpeg")
			if info, statErr := os.Stat(candidate); statErr == nil && isExecutable(info) {
				result.Command = candidate
				result.Available = true
				return result
			}
		}
	}

	ffmpegName := "ffmpeg"
	if ffmpegPath, err := exec.LookPath(ffmpegName); err == nil {
		result.Command = ffmpegPath
		result.Available = true
		return result
	}

	result.Command = ffmpegName
	result.Detail = fmt.Sprintf("binary %q not found", ffmpegName)
	return result
}

func siblingBinary(path, name string) string {
	if runtime.GOOS == "windows" && !strings.HasSuffix(name, ".exe") {
		name += ".exe"
	}
	return filepath.Join(filepath.Dir(path), name)
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
