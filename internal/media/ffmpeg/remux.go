package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

// Remuxer runs ffmpeg stream-copy remuxes.
type Remuxer struct {
	binary  string
	timeout time.Duration
}

// NewRemuxer returns a remuxer for the resolved binary. A zero timeout means
// the caller's context alone bounds the run.
func NewRemuxer(binary string, timeout time.Duration) *Remuxer {
	return &Remuxer{binary: strings.TrimSpace(binary), timeout: timeout}
}

// Binary returns the executable the remuxer invokes.
func (r *Remuxer) Binary() string {
	return r.binary
}

// Remux copies every stream of src into the container implied by dst's
// extension. A failed run removes any partial dst.
func (r *Remuxer) Remux(ctx context.Context, src, dst string) error {
	if r == nil || r.binary == "" {
		return errors.New("ffmpeg remux: binary not configured")
	}
	if strings.TrimSpace(src) == "" || strings.TrimSpace(dst) == "" {
		return errors.New("ffmpeg remux: source and destination required")
	}
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, r.binary, "-y", "-loglevel", "error", "-i", src, "-c", "copy", dst)
	output, err := cmd.CombinedOutput()
	if err != nil {
		_ = os.Remove(dst)
		return fmt.Errorf("ffmpeg remux: %w: %s", err, strings.TrimSpace(string(output)))
	}
	info, err := os.Stat(dst)
	if err != nil {
		return fmt.Errorf("ffmpeg remux: output missing: %w", err)
	}
	if info.Size() == 0 {
		_ = os.Remove(dst)
		return errors.New("ffmpeg remux: output is empty")
	}
	return nil
}
