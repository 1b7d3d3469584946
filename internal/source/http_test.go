package source

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestHTTPFetchDirectory(t *testing.T) {
	var heads []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		heads = append(heads, r.Method+" "+r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dest := t.TempDir()
	r := &fakeRunner{run: func(name string, args []string) error {
		// Simulate what wget leaves behind.
		writeFile(t, filepath.Join(dest, "web", "scripts", "pre"), "#!/bin/sh\n", 0644)
		writeFile(t, filepath.Join(dest, "web", "root", "etc", "motd.whole"), "hi\n", 0644)
		writeFile(t, filepath.Join(dest, "web", "root", "index.html?C=M;O=D"), "junk", 0644)
		return nil
	}}
	h := &HTTP{Scheme: "http", Client: srv.Client(), Runner: r}

	location := "//" + strings.TrimPrefix(srv.URL, "http://") + "/flacm/ROLES/web"
	if err := h.Fetch(context.Background(), location, dest); err != nil {
		t.Fatalf("Fetch: %v", err)
	}

	if len(heads) != 1 || heads[0] != "HEAD /flacm/ROLES/web/" {
		t.Errorf("existence checks = %v", heads)
	}
	if len(r.calls) != 1 {
		t.Fatalf("wget calls = %d", len(r.calls))
	}
	cmdline := strings.Join(r.calls[0], " ")
	for _, want := range []string{"wget -r -nH -l 20", "--cut-dirs=2", "-P " + dest, "--no-parent", srv.URL + "/flacm/ROLES/web/"} {
		if !strings.Contains(cmdline, want) {
			t.Errorf("missing %q in %q", want, cmdline)
		}
	}
	if strings.Contains(cmdline, "--no-check-certificate") {
		t.Errorf("certificate checks disabled without insecure: %q", cmdline)
	}

	if _, err := os.Stat(filepath.Join(dest, "web", "root", "index.html?C=M;O=D")); !os.IsNotExist(err) {
		t.Errorf("listing artifact not removed: %v", err)
	}
	fi, err := os.Stat(filepath.Join(dest, "web", "scripts", "pre"))
	if err != nil || fi.Mode().Perm() != 0755 {
		t.Errorf("script mode = %v, %v", fi, err)
	}
}

func TestHTTPFetchFallsBackToFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := &fakeRunner{}
	h := &HTTP{Scheme: "http", Client: srv.Client(), Runner: r, Insecure: true}

	location := "//" + strings.TrimPrefix(srv.URL, "http://") + "/flacm/roles.yaml"
	if err := h.Fetch(context.Background(), location, t.TempDir()); err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(r.calls) != 1 {
		t.Fatalf("wget calls = %d, want 1", len(r.calls))
	}
	cmdline := strings.Join(r.calls[0], " ")
	if !strings.HasSuffix(cmdline, srv.URL+"/flacm/roles.yaml") {
		t.Errorf("expected file URL without trailing slash: %q", cmdline)
	}
	if !strings.Contains(cmdline, "--no-check-certificate") {
		t.Errorf("insecure should disable certificate checks: %q", cmdline)
	}
	if !strings.Contains(cmdline, "--cut-dirs=1") {
		t.Errorf("cut-dirs: %q", cmdline)
	}
}

func TestHTTPFetchMissing(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	r := &fakeRunner{}
	h := &HTTP{Scheme: "http", Client: srv.Client(), Runner: r}

	location := "//" + strings.TrimPrefix(srv.URL, "http://") + "/flacm/ROLES/none"
	err := h.Fetch(context.Background(), location, t.TempDir())
	var se *SourceError
	if !errors.As(err, &se) {
		t.Fatalf("expected *SourceError, got %v", err)
	}
	if !strings.Contains(err.Error(), "404") {
		t.Errorf("error should mention the status: %v", err)
	}
	if !IsNotFound(err) {
		t.Errorf("404 should count as not found: %v", err)
	}
	if len(r.calls) != 0 {
		t.Errorf("wget should not run for a missing URL: %v", r.calls)
	}
}

func TestHTTPFetchWgetFailureRetriesWithoutSlash(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	r := &fakeRunner{errs: []error{errors.New("exit 8"), errors.New("exit 8")}}
	h := &HTTP{Scheme: "http", Client: srv.Client(), Runner: r}

	location := "//" + strings.TrimPrefix(srv.URL, "http://") + "/a/b"
	if err := h.Fetch(context.Background(), location, t.TempDir()); err == nil {
		t.Fatal("expected error after both attempts fail")
	}
	if len(r.calls) != 2 {
		t.Fatalf("wget calls = %d, want 2", len(r.calls))
	}
	if !strings.HasSuffix(r.calls[0][len(r.calls[0])-1], "/a/b/") || !strings.HasSuffix(r.calls[1][len(r.calls[1])-1], "/a/b") {
		t.Errorf("attempt URLs = %v", r.calls)
	}
}

func TestCutDirs(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"host", 0},
		{"host/web", 0},
		{"host/flacm/ROLES/web", 2},
		{"host/flacm/ROLES/web/root+tls", 3},
		{"host:8080/a/", 0},
	}
	for _, tt := range tests {
		if got := cutDirs(tt.in); got != tt.want {
			t.Errorf("cutDirs(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
