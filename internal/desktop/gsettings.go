// Package desktop reads which spices the desktop currently has enabled.
package desktop

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/starford/spices/internal/models"
)

// Runner executes a command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).Output()
}

// GSettings queries the desktop setting store through the gsettings tool.
type GSettings struct {
	run Runner
}

// NewGSettings returns a reader using run, or the gsettings binary if nil.
func NewGSettings(run Runner) *GSettings {
	if run == nil {
		run = execRunner
	}
	return &GSettings{run: run}
}

// EnabledUUIDs lists the enabled uuids of kind.
func (g *GSettings) EnabledUUIDs(ctx context.Context, kind models.PackageType) ([]string, error) {
	if kind.IsTheme() {
		out, err := g.run(ctx, "gsettings", "get", "org.cinnamon.theme", "name")
		if err != nil {
			return nil, fmt.Errorf("desktop: read theme: %w", err)
		}
		name, err := ParseString(string(out))
		if err != nil || name == "" {
			return nil, err
		}
		return []string{name}, nil
	}

	out, err := g.run(ctx, "gsettings", "get", "org.cinnamon", "enabled-"+kind.Plural())
	if err != nil {
		return nil, fmt.Errorf("desktop: read enabled %s: %w", kind.Plural(), err)
	}
	items, err := ParseStringList(string(out))
	if err != nil {
		return nil, fmt.Errorf("desktop: enabled %s: %w", kind.Plural(), err)
	}
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if id := uuidOf(kind, item); id != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// uuidOf extracts the uuid from one entry of an enabled-* list:
// applets are "panel:location:order:uuid:instance", desklets
// "uuid:instance:x:y", extensions are bare uuids.
func uuidOf(kind models.PackageType, item string) string {
	switch kind {
	case models.Applet:
		parts := strings.Split(item, ":")
		if len(parts) < 4 {
			return ""
		}
		return parts[3]
	case models.Desklet:
		return strings.SplitN(item, ":", 2)[0]
	default:
		return item
	}
}

// ParseStringList parses a GVariant string array as printed by gsettings,
// e.g. "['a', 'b']" or "@as []".
func ParseStringList(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSpace(strings.TrimPrefix(s, "@as"))
	if !strings.HasPrefix(s, "[") || !strings.HasSuffix(s, "]") {
		return nil, fmt.Errorf("not a string array: %q", s)
	}
	body := s[1 : len(s)-1]

	var out []string
	for i := 0; i < len(body); {
		c := body[i]
		if c == ' ' || c == ',' {
			i++
			continue
		}
		if c != '\'' && c != '"' {
			return nil, fmt.Errorf("unexpected %q at offset %d", c, i)
		}
		str, n, err := readQuoted(body[i:])
		if err != nil {
			return nil, err
		}
		out = append(out, str)
		i += n
	}
	return out, nil
}

// ParseString parses a single quoted GVariant string.
func ParseString(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", nil
	}
	str, n, err := readQuoted(s)
	if err != nil {
		return "", err
	}
	if n != len(s) {
		return "", fmt.Errorf("trailing data after string: %q", s[n:])
	}
	return str, nil
}

// readQuoted reads one quoted string at the start of s and returns it with
// the number of bytes consumed.
func readQuoted(s string) (string, int, error) {
	quote := s[0]
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		switch c := s[i]; {
		case c == '\\' && i+1 < len(s):
			i++
			b.WriteByte(s[i])
		case c == quote:
			return b.String(), i + 1, nil
		default:
			b.WriteByte(c)
		}
	}
	return "", 0, fmt.Errorf("unterminated string: %q", s)
}
