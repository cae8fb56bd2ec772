// -----------------------------------------------------------------------
// CLI helpers - Shared plumbing for local command-line extractors
// -----------------------------------------------------------------------

package extractors

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// runCLI executes a local extractor binary and returns its combined output.
// Cancellation kills the process via the context.
func runCLI(ctx context.Context, binary string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, binary, args...)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("%s failed: %w: %s", binary, err, truncate(out.String(), 500))
	}
	return out.String(), nil
}

// binaryAvailable reports whether the binary resolves on PATH (or is an
// absolute path to an executable).
func binaryAvailable(binary string) bool {
	if binary == "" {
		return false
	}
	_, err := exec.LookPath(binary)
	return err == nil
}

// findMarkdownOutput locates the first .md file an extractor CLI wrote to
// its output directory.
func findMarkdownOutput(outDir string) (string, error) {
	var found string
	err := filepath.WalkDir(outDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if found == "" && !d.IsDir() && strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			found = path
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", fmt.Errorf("no markdown output in %s", outDir)
	}
	data, err := os.ReadFile(found)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", found, err)
	}
	return string(data), nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
