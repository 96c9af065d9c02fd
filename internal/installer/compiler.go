package installer

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Compiler turns a gettext .po file into a binary .mo catalog.
type Compiler interface {
	Compile(ctx context.Context, po, mo string) error
}

// Msgfmt compiles with the msgfmt binary from gettext.
type Msgfmt struct {
	// Path defaults to "msgfmt" looked up in PATH.
	Path string
}

// Compile runs msgfmt -c -o mo po.
func (m Msgfmt) Compile(ctx context.Context, po, mo string) error {
	bin := m.Path
	if bin == "" {
		bin = "msgfmt"
	}
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, bin, "-c", "-o", mo, po)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}
