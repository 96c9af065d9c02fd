package assets

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"strings"

	// Decoders for the preview formats the catalog publishes.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"
)

var errEmpty = errors.New("empty image")

// Validate checks that data is a decodable image. SVG previews only need
// an <svg> root element.
func Validate(name string, data []byte) error {
	if len(data) == 0 {
		return errEmpty
	}
	if strings.EqualFold(filepath.Ext(name), ".svg") {
		head := data
		if len(head) > 4096 {
			head = head[:4096]
		}
		if !bytes.Contains(bytes.ToLower(head), []byte("<svg")) {
			return fmt.Errorf("%s: no <svg> element", name)
		}
		return nil
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return fmt.Errorf("%s: zero-sized image", name)
	}
	return nil
}
