// Package update checks GitHub releases for newer tasktimer builds and
// swaps the running binary for the platform asset.
package update

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// DefaultAPIBase is the GitHub REST endpoint.
const DefaultAPIBase = "https://api.github.com"

// ErrNoAsset is returned when the latest release has no build for this platform.
var ErrNoAsset = errors.New("no release asset for this platform")

// Release is a newer build available for the current platform.
type Release struct {
	Version string `json:"version"`
	URL     string `json:"url"`
}

type githubRelease struct {
	TagName string        `json:"tag_name"`
	Assets  []githubAsset `json:"assets"`
}

type githubAsset struct {
	Name               string `json:"name"`
	BrowserDownloadURL string `json:"browser_download_url"`
}

// Updater checks for and applies releases of one binary.
type Updater struct {
	CurrentVersion string
	Owner, Repo    string
	Binary         string // asset name prefix, e.g. "tasktimer"
	APIBase        string
	GOOS, GOARCH   string

	HTTPClient *http.Client
}

// New returns an Updater for the tasktimer CLI on the running platform.
func New(currentVersion string) *Updater {
	return &Updater{
		CurrentVersion: currentVersion,
		Owner:          "GoCodeAlone",
		Repo:           "tasktimer",
		Binary:         "tasktimer",
		APIBase:        DefaultAPIBase,
		GOOS:           runtime.GOOS,
		GOARCH:         runtime.GOARCH,
		HTTPClient:     &http.Client{Timeout: 30 * time.Second},
	}
}

// Check returns the latest release when it differs from CurrentVersion.
// It returns nil, nil for an up-to-date or "dev" build.
func (u *Updater) Check(ctx context.Context) (*Release, error) {
	url := fmt.Sprintf("%s/repos/%s/%s/releases/latest", strings.TrimRight(u.APIBase, "/"), u.Owner, u.Repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", u.Binary+"/"+u.CurrentVersion)

	resp, err := u.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch latest release: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("github API returned %d", resp.StatusCode)
	}

	var rel githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&rel); err != nil {
		return nil, fmt.Errorf("decode release: %w", err)
	}
	if u.CurrentVersion == "dev" || strings.TrimPrefix(rel.TagName, "v") == strings.TrimPrefix(u.CurrentVersion, "v") {
		return nil, nil
	}

	asset := u.assetURL(rel.Assets)
	if asset == "" {
		return nil, fmt.Errorf("%s %s/%s: %w", rel.TagName, u.GOOS, u.GOARCH, ErrNoAsset)
	}
	return &Release{Version: rel.TagName, URL: asset}, nil
}

// assetURL picks the asset named <binary>_<os>_<arch> (or with dashes).
func (u *Updater) assetURL(assets []githubAsset) string {
	arches := []string{u.GOARCH}
	if u.GOARCH == "amd64" {
		arches = append(arches, "x86_64")
	}
	for _, a := range assets {
		name := strings.ToLower(a.Name)
		rest, ok := strings.CutPrefix(name, u.Binary)
		if !ok || rest == "" || (rest[0] != '_' && rest[0] != '-') || !strings.Contains(rest, u.GOOS) {
			continue
		}
		for _, arch := range arches {
			if strings.Contains(name, arch) {
				return a.BrowserDownloadURL
			}
		}
	}
	return ""
}

// Apply downloads rel and atomically replaces the file at exe.
func (u *Updater) Apply(ctx context.Context, rel *Release, exe string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rel.URL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := u.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("download release: %w", err)
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download returned %d", resp.StatusCode)
	}

	// Same directory as exe so the rename never crosses filesystems.
	tmp, err := os.CreateTemp(filepath.Dir(exe), "."+u.Binary+"-update-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) //nolint:errcheck

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close() //nolint:errcheck
		return fmt.Errorf("write download: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, 0o755); err != nil {
		return fmt.Errorf("chmod: %w", err)
	}
	if err := os.Rename(tmpPath, exe); err != nil {
		return fmt.Errorf("replace binary: %w", err)
	}
	return nil
}
