// Package assets embeds the helper scripts injected into browsed pages.
package assets

import (
	"embed"
	"fmt"
	"io/fs"

	"github.com/hazyhaar/webclip/horosafe"
)

//go:embed lib/*.js
var FS embed.FS

// Helper script names, as requested through load-script.
const (
	OverlayScript = "lib/overlay.js"
	ToastScript   = "lib/toast.js"
)

// Script returns the source of a helper script.
func Script(name string) (string, error) {
	clean, err := horosafe.CleanAssetPath(name)
	if err != nil {
		return "", fmt.Errorf("assets: %s: %w", name, err)
	}
	data, err := fs.ReadFile(FS, clean)
	if err != nil {
		return "", fmt.Errorf("assets: %w", err)
	}
	return string(data), nil
}
