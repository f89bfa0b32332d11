package toolchain

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// ArkDisasm runs the ark_disasm executable.
type ArkDisasm struct {
	Path    string
	Timeout time.Duration // zero means no limit
}

// Disassemble runs `ark_disasm <abc> <out>` and checks that output was produced.
func (d ArkDisasm) Disassemble(ctx context.Context, abcPath, outPath string) error {
	if d.Path == "" {
		return fmt.Errorf("ark_disasm path not configured")
	}
	if _, err := os.Stat(d.Path); err != nil {
		if _, lookErr := exec.LookPath(d.Path); lookErr != nil {
			return fmt.Errorf("ark_disasm not found at %s: %w", d.Path, err)
		}
	}
	if d.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.Timeout)
		defer cancel()
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return err
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, d.Path, abcPath, outPath)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return fmt.Errorf("ark_disasm %s: %w: %s", abcPath, err, msg)
		}
		return fmt.Errorf("ark_disasm %s: %w", abcPath, err)
	}

	info, err := os.Stat(outPath)
	if err != nil {
		return fmt.Errorf("ark_disasm produced no output: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("ark_disasm produced an empty %s", outPath)
	}
	return nil
}
