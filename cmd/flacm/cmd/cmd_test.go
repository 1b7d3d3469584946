package cmd

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/bianoble/flacm/internal/agent"
	"github.com/bianoble/flacm/internal/ledger"
	"github.com/bianoble/flacm/pkg/flacm"
)

// useConfig points the global flags at a config file in a temp dir and
// isolates the test from FLACM_ variables set by earlier tests.
func useConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "flacm.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	oldConfig, oldSource, oldQuiet := configPath, sourceFlag, quiet
	configPath, sourceFlag = path, ""
	t.Cleanup(func() { configPath, sourceFlag, quiet = oldConfig, oldSource, oldQuiet })
	return dir
}

func TestExitErrorCodes(t *testing.T) {
	var err error = &exitError{code: 2}
	var ee *exitError
	if !errors.As(err, &ee) || ee.code != 2 || ee.Error() != "" {
		t.Errorf("exitError = %+v", ee)
	}
}

func TestStopStartCommands(t *testing.T) {
	dir := useConfig(t, "source: local:/srv/flacm\n")
	state := filepath.Join(dir, "state")
	t.Setenv("FLACM_STATE_DIR", state)
	quiet = true

	if err := stopCmd.RunE(stopCmd, nil); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if _, err := os.Stat(filepath.Join(state, "ignore")); err != nil {
		t.Errorf("ignore file missing after stop: %v", err)
	}
	if err := startCmd.RunE(startCmd, nil); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := os.Stat(filepath.Join(state, "ignore")); !os.IsNotExist(err) {
		t.Error("ignore file still present after start")
	}
}

func TestLoadConfigSourceFlag(t *testing.T) {
	useConfig(t, "source: local:/srv/flacm\n")
	sourceFlag = "https://cfg.example.com/flacm"

	cfg, layers, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Source != sourceFlag {
		t.Errorf("source = %q, want flag value", cfg.Source)
	}
	if !layers[len(layers)-1].Loaded {
		t.Error("--config layer not loaded")
	}
}

func TestPrintStatus(t *testing.T) {
	quiet = false
	rep := &flacm.StatusReport{
		Status: agent.StatusIgnored,
		Ledger: &ledger.Ledger{Version: 1, Roles: []ledger.RoleRecord{
			{Name: "web", Variant: "function", Status: ledger.StatusFailed, State: "scanned", Error: "pre failed", Finished: time.Now()},
		}},
	}
	var buf bytes.Buffer
	printStatus(&buf, rep)
	out := buf.String()
	for _, want := range []string{"running, but not active", "web", "failed", "pre failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("status output missing %q:\n%s", want, out)
		}
	}
	if rep.Status.ExitCode() != 2 {
		t.Errorf("exit code = %d", rep.Status.ExitCode())
	}
}
