package dispatch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/troupehq/troupe/internal/format"
	"github.com/troupehq/troupe/internal/slack"
)

// downloadFiles pulls user-shared files into the instance working
// directory and returns the uploaded-files note for the prompt. Files
// over the size cap or without a download URL are skipped, never fatal:
// the message itself still routes.
func (d *Dispatcher) downloadFiles(files []slack.File, dir string) string {
	var lines []string
	for _, f := range files {
		if f.DownloadURL == "" {
			d.logger.Warn("shared file has no download url", "name", f.Name)
			continue
		}
		if d.fileSizeCap > 0 && int64(f.Size) > d.fileSizeCap {
			d.logger.Warn("skipping oversized shared file",
				"name", f.Name, "size", f.Size, "cap", d.fileSizeCap)
			lines = append(lines, fmt.Sprintf("%s (%s) skipped: over the %s download cap",
				f.Name, format.Bytes(int64(f.Size)), format.Bytes(d.fileSizeCap)))
			continue
		}
		path, err := d.saveFile(f, dir)
		if err != nil {
			d.logger.Error("file download failed", "name", f.Name, "error", err)
			continue
		}
		lines = append(lines, fmt.Sprintf("%s (%s) → %s", f.Name, format.Bytes(int64(f.Size)), path))
	}
	if len(lines) == 0 {
		return ""
	}
	return "[User uploaded files:\n  " + strings.Join(lines, "\n  ") + "]"
}

func (d *Dispatcher) saveFile(f slack.File, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("intake dir: %w", err)
	}
	path := intakePath(dir, f.Name)
	out, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := d.client.GetFile(f.DownloadURL, out); err != nil {
		out.Close()
		os.Remove(path)
		return "", fmt.Errorf("download %s: %w", f.Name, err)
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return path, nil
}

// intakePath picks a collision-free destination. Names are flattened to
// their base so a crafted filename cannot escape the working directory.
func intakePath(dir, name string) string {
	base := filepath.Base(strings.TrimSpace(name))
	if base == "" || base == "." || base == ".." || base == string(filepath.Separator) {
		base = "upload"
	}
	path := filepath.Join(dir, base)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	for i := 1; ; i++ {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return path
		}
		path = filepath.Join(dir, fmt.Sprintf("%s-%d%s", stem, i, ext))
	}
}
