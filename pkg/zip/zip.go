// Package zip builds flat in-memory archives of generated assets for
// download endpoints.
package zip

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strings"
)

// Asset is a single archive entry.
type Asset struct {
	Filename string
	Data     []byte
}

// ArchiveAssets packs the assets into a zip archive held in memory.
// Duplicate or empty filenames get a numeric suffix so every asset
// survives extraction.
func ArchiveAssets(assets []Asset) ([]byte, error) {
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	seen := make(map[string]int, len(assets))
	for _, asset := range assets {
		name := asset.Filename
		if name == "" {
			name = "asset"
		}
		seen[name]++
		if n := seen[name]; n > 1 {
			name = numberedName(name, n-1)
		}
		w, err := zw.Create(name)
		if err != nil {
			return nil, fmt.Errorf("zip: create %s: %w", name, err)
		}
		if _, err := w.Write(asset.Data); err != nil {
			return nil, fmt.Errorf("zip: write %s: %w", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("zip: close: %w", err)
	}
	return buf.Bytes(), nil
}

func numberedName(name string, n int) string {
	if i := strings.LastIndex(name, "."); i > 0 {
		return fmt.Sprintf("%s-%d%s", name[:i], n, name[i:])
	}
	return fmt.Sprintf("%s-%d", name, n)
}
