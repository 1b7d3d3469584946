package role

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/bianoble/flacm/internal/reconcile"
	"github.com/bianoble/flacm/internal/script"
	"github.com/bianoble/flacm/internal/source"
)

type env struct {
	data    string // data source root
	live    string
	staging string
	engine  *Engine
	logBuf  *bytes.Buffer
}

func newEnv(t *testing.T) *env {
	t.Helper()
	var buf bytes.Buffer
	e := &env{
		data:    t.TempDir(),
		live:    t.TempDir(),
		staging: t.TempDir(),
		logBuf:  &buf,
	}
	reg := source.NewRegistry()
	reg.Register("Local", source.Local{})

	log := zerolog.New(&buf)
	e.engine = &Engine{
		Sources: reg,
		Syncer:  source.TreeSync{Log: log},
		Fixer: reconcile.Fixer{
			StagingDir: e.staging,
			LiveRoot:   e.live,
			Owner:      strconv.Itoa(os.Getuid()),
			Group:      strconv.Itoa(os.Getgid()),
		},
		Log: log,
	}
	return e
}

func (e *env) put(t *testing.T, rel, content string, perm os.FileMode) {
	t.Helper()
	p := filepath.Join(e.data, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), perm); err != nil {
		t.Fatal(err)
	}
}

func (e *env) role(t *testing.T, kind Kind, name string) Role {
	t.Helper()
	v, err := VariantFor(kind)
	if err != nil {
		t.Fatal(err)
	}
	r, err := New(v, source.MustParseLocator("local:"+e.data), name, false)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func (e *env) liveFile(t *testing.T, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(e.live, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatalf("reading live %s: %v", rel, err)
	}
	return string(data)
}

func (e *env) assertStagingEmpty(t *testing.T) {
	t.Helper()
	entries, err := os.ReadDir(e.staging)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		var names []string
		for _, de := range entries {
			names = append(names, de.Name())
		}
		t.Errorf("staging directories left behind: %v", names)
	}
}

func TestRunAppliesWholeFile(t *testing.T) {
	e := newEnv(t)
	e.put(t, "ROLES/web/root/etc/motd.whole", "Welcome to web\n", 0644)

	res, err := e.engine.Run(context.Background(), e.role(t, Function, "web"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := e.liveFile(t, "etc/motd"); got != "Welcome to web\n" {
		t.Errorf("motd = %q", got)
	}
	if res.State != Cleaned {
		t.Errorf("state = %v, want cleaned", res.State)
	}
	e.assertStagingEmpty(t)
}

func TestRunPartIsIdempotent(t *testing.T) {
	e := newEnv(t)
	e.put(t, "ROLES/db/root/etc/hosts.part", "# cluster\n10.0.0.5 db1\n", 0644)
	os.MkdirAll(filepath.Join(e.live, "etc"), 0755)
	os.WriteFile(filepath.Join(e.live, "etc", "hosts"), []byte("127.0.0.1 localhost\n"), 0644)

	for i := 0; i < 2; i++ {
		if _, err := e.engine.Run(context.Background(), e.role(t, Function, "db")); err != nil {
			t.Fatalf("Run #%d: %v", i+1, err)
		}
	}
	if got := e.liveFile(t, "etc/hosts"); got != "127.0.0.1 localhost\n10.0.0.5 db1\n" {
		t.Errorf("hosts = %q", got)
	}
}

func TestRunSubroles(t *testing.T) {
	e := newEnv(t)
	e.put(t, "ROLES/web/root/etc/nginx/nginx.conf.whole", "plain\n", 0644)
	e.put(t, "ROLES/web/root/etc/motd.whole", "web\n", 0644)
	e.put(t, "ROLES/web/root+tls/etc/nginx/nginx.conf.whole", "tls\n", 0644)
	e.put(t, "ROLES/web/root+tls/etc/nginx/tls.conf", "ssl on;\n", 0644)
	e.put(t, "ROLES/web/root+tls+hsts/etc/nginx/hsts.conf", "hsts;\n", 0644)

	res, err := e.engine.Run(context.Background(), e.role(t, Function, "web+tls+hsts"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := e.liveFile(t, "etc/nginx/nginx.conf"); got != "tls\n" {
		t.Errorf("nginx.conf = %q, want subrole version", got)
	}
	if got := e.liveFile(t, "etc/nginx/tls.conf"); got != "ssl on;\n" {
		t.Errorf("tls.conf = %q", got)
	}
	if got := e.liveFile(t, "etc/nginx/hsts.conf"); got != "hsts;\n" {
		t.Errorf("hsts.conf = %q", got)
	}
	if got := e.liveFile(t, "etc/motd"); got != "web\n" {
		t.Errorf("motd = %q", got)
	}
	if len(res.Actions) != 4 {
		t.Errorf("actions = %+v", res.Actions)
	}
	e.assertStagingEmpty(t)
}

func TestRunScripts(t *testing.T) {
	e := newEnv(t)
	marks := t.TempDir()
	e.put(t, "ROLES/web/root/etc/motd.whole", "hi\n", 0644)
	e.put(t, "ROLES/web/root+tls/etc/tls.conf.whole", "on\n", 0644)
	e.put(t, "ROLES/web/scripts/pre", "#!/bin/sh\necho \"$@\" > "+marks+"/pre\n", 0755)
	e.put(t, "ROLES/web/scripts/fix", "#!/bin/sh\necho \"$1\" > "+marks+"/fix\nls etc > "+marks+"/fix-ls\nls \"$2\" > "+marks+"/fix-tree\n", 0755)
	e.put(t, "ROLES/web/scripts/post", "#!/bin/sh\n[ -f "+e.live+"/etc/motd ] && echo synced > "+marks+"/post\n", 0755)

	e.engine.Fixer.StagingDir = filepath.Join(t.TempDir(), "staging area")

	if _, err := e.engine.Run(context.Background(), e.role(t, Function, "web+tls")); err != nil {
		t.Fatalf("Run: %v", err)
	}

	read := func(name string) string {
		data, err := os.ReadFile(filepath.Join(marks, name))
		if err != nil {
			t.Fatalf("%s did not run: %v", name, err)
		}
		return strings.TrimSpace(string(data))
	}
	if got := read("pre"); got != "web" {
		t.Errorf("pre args = %q", got)
	}
	if got := read("fix"); got != "web+tls" {
		t.Errorf("fix first arg = %q", got)
	}
	if got := read("fix-ls"); got != "motd\ntls.conf" {
		t.Errorf("fix script should run inside the fix tree, saw %q", got)
	}
	if got := read("fix-tree"); got != "etc" {
		t.Errorf("fix script tree argument lists %q, want the root tree", got)
	}
	if got := read("post"); got != "synced" {
		t.Errorf("post ran before sync: %q", got)
	}
}

func TestRunPreFailureStopsRole(t *testing.T) {
	e := newEnv(t)
	e.put(t, "ROLES/web/root/etc/motd.whole", "hi\n", 0644)
	e.put(t, "ROLES/web/scripts/pre", "#!/bin/sh\nexit 3\n", 0755)

	res, err := e.engine.Run(context.Background(), e.role(t, Function, "web"))
	var fse *script.FailedScriptError
	if !errors.As(err, &fse) {
		t.Fatalf("expected *FailedScriptError, got %v", err)
	}
	if res.State != SubroleOverlay && res.State != Scanned {
		t.Errorf("state = %v", res.State)
	}
	if _, err := os.Stat(filepath.Join(e.live, "etc", "motd")); !os.IsNotExist(err) {
		t.Error("live root changed after a failed pre script")
	}
	e.assertStagingEmpty(t)
}

func TestRunPostFailureIsNotFatal(t *testing.T) {
	e := newEnv(t)
	e.put(t, "ROLES/web/root/etc/motd.whole", "hi\n", 0644)
	e.put(t, "ROLES/web/scripts/post", "#!/bin/sh\nexit 1\n", 0755)

	res, err := e.engine.Run(context.Background(), e.role(t, Function, "web"))
	if err != nil {
		t.Fatalf("post failure should not fail the role: %v", err)
	}
	if res.State != Cleaned {
		t.Errorf("state = %v", res.State)
	}
	if !strings.Contains(e.logBuf.String(), "script failed") {
		t.Errorf("post failure not logged: %s", e.logBuf.String())
	}
}

func TestRunFetchFailureCleansUp(t *testing.T) {
	e := newEnv(t)

	res, err := e.engine.Run(context.Background(), e.role(t, Function, "missing"))
	if err == nil {
		t.Fatal("expected fetch error")
	}
	if res.State != Init {
		t.Errorf("state = %v, want init", res.State)
	}
	if res.Err == nil {
		t.Error("result should carry the error")
	}
	e.assertStagingEmpty(t)
}

func TestRunMissingSubroleFails(t *testing.T) {
	e := newEnv(t)
	e.put(t, "ROLES/web/root/etc/motd.whole", "hi\n", 0644)

	res, err := e.engine.Run(context.Background(), e.role(t, Function, "web+nope"))
	if err == nil || !strings.Contains(err.Error(), "subrole nope") {
		t.Fatalf("expected subrole error, got %v", err)
	}
	if res.State != Scanned {
		t.Errorf("state = %v", res.State)
	}
	e.assertStagingEmpty(t)
}

func TestRunDryRun(t *testing.T) {
	e := newEnv(t)
	e.engine.DryRun = true
	e.put(t, "ROLES/web/root/etc/motd.whole", "new\n", 0644)
	e.put(t, "ROLES/web/root/etc/old.remove", "", 0644)
	e.put(t, "ROLES/web/scripts/pre", "#!/bin/sh\nexit 1\n", 0755)
	os.MkdirAll(filepath.Join(e.live, "etc"), 0755)
	os.WriteFile(filepath.Join(e.live, "etc", "old"), []byte("x"), 0644)

	res, err := e.engine.Run(context.Background(), e.role(t, Function, "web"))
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != Fixed {
		t.Errorf("state = %v, want fixed", res.State)
	}
	if _, err := os.Stat(filepath.Join(e.live, "etc", "motd")); !os.IsNotExist(err) {
		t.Error("dry run wrote to the live root")
	}
	if _, err := os.Stat(filepath.Join(e.live, "etc", "old")); err != nil {
		t.Error("dry run removed a live file")
	}
	if len(res.Actions) != 2 {
		t.Errorf("actions = %+v", res.Actions)
	}
	e.assertStagingEmpty(t)
}

func TestRunHostAndDomainVariants(t *testing.T) {
	e := newEnv(t)
	e.put(t, "HOSTS/www1/root/etc/hostname", "www1\n", 0644)
	e.put(t, "DOMAINS/example.com/root/etc/resolv.conf.whole", "search example.com\n", 0644)
	e.put(t, "OS/linux/root/etc/issue", "Linux\n", 0644)

	for _, r := range []Role{
		e.role(t, Host, "www1"),
		e.role(t, Domain, "example.com"),
		e.role(t, OS, "linux"),
	} {
		if _, err := e.engine.Run(context.Background(), r); err != nil {
			t.Fatalf("Run %s: %v", r.Name, err)
		}
	}
	if got := e.liveFile(t, "etc/hostname"); got != "www1\n" {
		t.Errorf("hostname = %q", got)
	}
	if got := e.liveFile(t, "etc/resolv.conf"); got != "search example.com\n" {
		t.Errorf("resolv.conf = %q", got)
	}
	if got := e.liveFile(t, "etc/issue"); got != "Linux\n" {
		t.Errorf("issue = %q", got)
	}
}

func TestStateString(t *testing.T) {
	if Cleaned.String() != "cleaned" || SubroleOverlay.String() != "subrole-overlay" || State(42).String() != "state(42)" {
		t.Error("unexpected state names")
	}
}

func TestRunOptionalRoleWithoutTree(t *testing.T) {
	e := newEnv(t)
	r := e.role(t, Host, "www9")
	r.Optional = true

	res, err := e.engine.Run(context.Background(), r)
	if err != nil {
		t.Fatalf("optional role without a tree should not fail: %v", err)
	}
	if !res.Skipped || res.State != Init {
		t.Errorf("result = %+v", res)
	}
	e.assertStagingEmpty(t)

	r.Optional = false
	if _, err := e.engine.Run(context.Background(), r); err == nil {
		t.Error("required role without a tree should fail")
	}
}
