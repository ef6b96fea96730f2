package reporting

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const defaultWkhtmltopdf = "wkhtmltopdf"

// WkhtmltopdfRenderer shells out to the wkhtmltopdf binary.
type WkhtmltopdfRenderer struct {
	binary string
	tmpDir string
}

// NewWkhtmltopdfRenderer uses binary (looked up in PATH when empty) and
// writes its intermediate HTML under tmpDir.
func NewWkhtmltopdfRenderer(binary, tmpDir string) *WkhtmltopdfRenderer {
	if strings.TrimSpace(binary) == "" {
		binary = defaultWkhtmltopdf
	}
	if tmpDir == "" {
		tmpDir = os.TempDir()
	}
	return &WkhtmltopdfRenderer{binary: binary, tmpDir: tmpDir}
}

// Name implements Renderer.
func (r *WkhtmltopdfRenderer) Name() string { return EngineWkhtmltopdf }

// Args returns the command line for converting in to out.
func (r *WkhtmltopdfRenderer) Args(in, out string) []string {
	return []string{
		"--enable-local-file-access",
		"--quiet",
		"--margin-top", "70",
		"--margin-bottom", "40",
		in, out,
	}
}

// Render implements Renderer.
func (r *WkhtmltopdfRenderer) Render(ctx context.Context, htmlDoc []byte, outPath string) error {
	if err := os.MkdirAll(r.tmpDir, 0o700); err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}
	in := filepath.Join(r.tmpDir, "zbx_report_"+uuid.NewString()+".html")
	if err := os.WriteFile(in, htmlDoc, 0o600); err != nil {
		return fmt.Errorf("write report HTML: %w", err)
	}
	defer func() {
		if err := os.Remove(in); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", in).Msg("Failed to remove report HTML")
		}
	}()

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.binary, r.Args(in, outPath)...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return fmt.Errorf("%s failed: %w: %s", r.binary, err, msg)
	}
	return nil
}
