package fonts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/termcam/host/internal/errors"
	"github.com/termcam/host/internal/platform"
)

const downloadTimeout = 5 * time.Minute

// InstallResult reports one font URL.
type InstallResult struct {
	URL  string `json:"url"`
	Path string `json:"path,omitempty"`
	// Downloaded is false when an earlier download of the same URL was reused.
	Downloaded bool   `json:"downloaded"`
	Valid      bool   `json:"valid"`
	Error      string `json:"error,omitempty"`
}

// Install downloads font files into the directory fontconfig scans for
// the toolchain and checks each with fc-validate. A failing URL is
// reported in its result and does not stop the others. The family
// listing is reloaded afterwards.
func (c *Catalog) Install(ctx context.Context, urls []string) ([]InstallResult, error) {
	tc, err := c.toolchain(ctx)
	if err != nil {
		return nil, err
	}
	if tc.FcList == "" {
		return nil, errors.New(errors.CodeFontUnsupported, "fontconfig is not installed on this host")
	}

	dir, err := FontDir(tc)
	if err != nil {
		return nil, errors.Wrap(errors.CodeFontInstallFailed, "cannot locate the font directory", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(errors.CodeFontInstallFailed, "cannot create "+dir, err)
	}

	validate := fcValidatePath(tc.FcList)
	results := make([]InstallResult, 0, len(urls))
	for _, raw := range urls {
		res := c.installOne(ctx, dir, validate, tc.Env, raw)
		if res.Error != "" {
			c.log.Warn().Str("url", res.URL).Str("error", res.Error).Msg("font install failed")
		} else {
			c.log.Info().Str("path", res.Path).Bool("valid", res.Valid).Msg("font installed")
		}
		results = append(results, res)
	}

	c.Invalidate()
	return results, nil
}

func (c *Catalog) installOne(ctx context.Context, dir, validate string, env []string, raw string) InstallResult {
	res := InstallResult{URL: raw}

	name, err := fontFileName(raw)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	target := filepath.Join(dir, name)
	res.Path = target

	if !downloadedFrom(target, raw) {
		if err := c.download(ctx, raw, target); err != nil {
			res.Error = err.Error()
			return res
		}
		res.Downloaded = true
	}

	if _, err := c.run(ctx, env, validate, target); err != nil {
		res.Error = fmt.Sprintf("fc-validate: %v", err)
		return res
	}
	res.Valid = true
	return res
}

// download writes url to target through a temporary file and records the
// source URL next to it.
func (c *Catalog) download(ctx context.Context, raw, target string) error {
	ctx, cancel := context.WithTimeout(ctx, downloadTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download: server returned %s", resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(target), ".download-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("download: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return err
	}
	return os.WriteFile(target+".src", []byte(raw), 0o644)
}

func downloadedFrom(target, raw string) bool {
	if _, err := os.Stat(target); err != nil {
		return false
	}
	src, err := os.ReadFile(target + ".src")
	return err == nil && strings.TrimSpace(string(src)) == raw
}

// fontFileName returns the last path element of an http(s) URL.
func fontFileName(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid font URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("font URL %q must use http or https", raw)
	}
	name := path.Base(u.Path)
	if name == "" || name == "." || name == "/" || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("font URL %q does not name a file", raw)
	}
	return name, nil
}

// FontDir returns the per-host font directory fontconfig scans: the
// private XDG data home on Linux, ~/.fonts on macOS and a directory under
// /usr/share/fonts inside the Cygwin root.
func FontDir(tc platform.Toolchain) (string, error) {
	if tc.Class == platform.ClassCygwin {
		root := filepath.Dir(filepath.Dir(tc.FcList))
		return filepath.Join(root, "usr", "share", "fonts", "termcam"), nil
	}
	for _, kv := range tc.Env {
		if v, ok := strings.CutPrefix(kv, "XDG_DATA_HOME="); ok && v != "" {
			return filepath.Join(v, "fonts"), nil
		}
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".fonts"), nil
}

// fcValidatePath returns fc-validate next to fc-list.
func fcValidatePath(fcList string) string {
	name := "fc-validate"
	if strings.HasSuffix(fcList, ".exe") {
		name += ".exe"
	}
	return filepath.Join(filepath.Dir(fcList), name)
}
