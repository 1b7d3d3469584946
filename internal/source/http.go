package source

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/bianoble/flacm/internal/command"
)

// listingArtifact matches the sort-order pages wget saves while crawling
// a server-generated directory index (index.html?C=M;O=D and friends).
var listingArtifact = regexp.MustCompile(`C=[DMNS];O=[AD]$`)

// HTTP mirrors a directory tree, or fetches a single file, from a web
// server. Locations take the form //host/path/to/item.
type HTTP struct {
	// Scheme is "http" or "https".
	Scheme   string
	Client   HTTPClient
	Runner   command.Runner
	Insecure bool
	Timeout  time.Duration
}

// NewHTTP returns an HTTP transport for scheme with a default client.
func NewHTTP(scheme string, runner command.Runner, insecure bool, timeout time.Duration) *HTTP {
	return &HTTP{
		Scheme:   scheme,
		Client:   newHTTPClient(insecure, timeout),
		Runner:   runner,
		Insecure: insecure,
		Timeout:  timeout,
	}
}

func newHTTPClient(insecure bool, timeout time.Duration) *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	if insecure {
		tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // operator opt-in
	}
	return &http.Client{Transport: tr, Timeout: timeout}
}

// Fetch mirrors location into destDir/<basename>. The location is first
// treated as a directory (trailing slash); if that fails it is retried
// once as a plain file.
func (h *HTTP) Fetch(ctx context.Context, location, destDir string) error {
	hostPath := strings.TrimPrefix(location, "//")
	hostPath = strings.TrimRight(hostPath, "/")
	if hostPath == "" {
		return &SourceError{Source: h.Scheme + ":" + location, Operation: "fetch", Err: fmt.Errorf("empty location")}
	}
	base := h.Scheme + "://" + hostPath

	var lastErr error
	for _, url := range []string{base + "/", base} {
		if lastErr = h.mirror(ctx, url, hostPath, destDir); lastErr == nil {
			break
		}
	}
	if lastErr != nil {
		return &SourceError{
			Source:    base,
			Operation: "fetch",
			Err:       lastErr,
			Hint:      "check that the URL is accessible",
		}
	}

	if err := removeListingArtifacts(destDir); err != nil {
		return &SourceError{Source: base, Operation: "fetch", Err: err}
	}
	item := filepath.Join(destDir, filepath.Base(hostPath))
	if err := markScriptsExecutable(filepath.Join(item, "scripts")); err != nil {
		return &SourceError{Source: base, Operation: "fetch", Err: err}
	}
	return nil
}

// mirror checks that url exists and then pulls it with wget, cutting the
// leading path components so the item lands directly under destDir.
func (h *HTTP) mirror(ctx context.Context, url, hostPath, destDir string) error {
	if err := h.exists(ctx, url); err != nil {
		return err
	}

	args := []string{
		"-r", "-nH", "-l", "20", "--quiet",
		"--cut-dirs=" + strconv.Itoa(cutDirs(hostPath)),
		"-R", "index.htm*",
		"-X", ".svn",
		"-P", destDir,
		"--no-parent",
	}
	if h.Insecure {
		args = append(args, "--no-check-certificate")
	}
	args = append(args, url)
	return h.Runner.Run(ctx, "", "wget", args...)
}

func (h *HTTP) exists(ctx context.Context, url string) error {
	if h.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}

	client := h.Client
	if client == nil {
		client = newHTTPClient(h.Insecure, h.Timeout)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("checking %s: %w", url, err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return fmt.Errorf("HTTP %d from %s: %w", resp.StatusCode, url, fs.ErrNotExist)
	case resp.StatusCode >= http.StatusBadRequest:
		return fmt.Errorf("HTTP %d from %s", resp.StatusCode, url)
	}
	return nil
}

// cutDirs counts the path segments above the fetched item.
func cutDirs(hostPath string) int {
	_, path, _ := strings.Cut(hostPath, "/")
	path = strings.Trim(path, "/")
	if path == "" {
		return 0
	}
	return strings.Count(path, "/")
}

func removeListingArtifacts(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && listingArtifact.MatchString(d.Name()) {
			if rmErr := os.Remove(path); rmErr != nil {
				return fmt.Errorf("removing listing artifact %s: %w", path, rmErr)
			}
		}
		return nil
	})
}

// markScriptsExecutable sets 0755 on everything under dir. A role
// without a scripts directory is fine.
func markScriptsExecutable(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return nil
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}
		return os.Chmod(path, 0755)
	})
}
