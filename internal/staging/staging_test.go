package staging

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestMakeRootName(t *testing.T) {
	parent := t.TempDir()

	root, err := MakeRoot(FalseRoot, parent)
	if err != nil {
		t.Fatalf("MakeRoot: %v", err)
	}

	if filepath.Dir(root) != parent {
		t.Errorf("root %s not under %s", root, parent)
	}
	if !regexp.MustCompile(`^flacm\d{1,3}\d{10,}$`).MatchString(filepath.Base(root)) {
		t.Errorf("unexpected name %q", filepath.Base(root))
	}
	fi, err := os.Stat(root)
	if err != nil || !fi.IsDir() {
		t.Fatalf("root is not a directory: %v", err)
	}
}

func TestMakeRootCollision(t *testing.T) {
	parent := t.TempDir()
	orig := suffix
	suffix = func() string { return "42" }
	t.Cleanup(func() { suffix = orig })

	if _, err := MakeRoot(FixRoot, parent); err != nil {
		t.Fatalf("first MakeRoot: %v", err)
	}
	_, err := MakeRoot(FixRoot, parent)
	if !errors.Is(err, ErrCollision) {
		t.Fatalf("expected ErrCollision, got %v", err)
	}
}

func TestMakeRootReplacesStrayFile(t *testing.T) {
	parent := t.TempDir()
	orig := suffix
	suffix = func() string { return "7" }
	t.Cleanup(func() { suffix = orig })

	stray := filepath.Join(parent, "flacm7")
	os.WriteFile(stray, []byte("junk"), 0644)

	root, err := MakeRoot(FalseRoot, parent)
	if err != nil {
		t.Fatalf("MakeRoot: %v", err)
	}
	if fi, err := os.Stat(root); err != nil || !fi.IsDir() {
		t.Fatalf("expected directory at %s", root)
	}
}

func TestMakeRootDefaultParent(t *testing.T) {
	t.Setenv("TMPDIR", t.TempDir())

	root, err := MakeRoot(FalseRoot, "")
	if err != nil {
		t.Fatalf("MakeRoot: %v", err)
	}
	defer os.RemoveAll(root)

	if filepath.Dir(root) != os.TempDir() {
		t.Errorf("root %s not in temp dir %s", root, os.TempDir())
	}
}

func TestCleanRemovesTree(t *testing.T) {
	root, err := MakeRoot(FalseRoot, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	os.MkdirAll(filepath.Join(root, "web", "root", "etc"), 0755)
	os.WriteFile(filepath.Join(root, "web", "root", "etc", "motd"), []byte("hi\n"), 0644)

	Clean(zerolog.Nop(), root)

	if _, err := os.Stat(root); !os.IsNotExist(err) {
		t.Errorf("root still exists: %v", err)
	}
}

func TestCleanMissingPathIsQuiet(t *testing.T) {
	var buf bytes.Buffer
	Clean(zerolog.New(&buf), filepath.Join(t.TempDir(), "never-created"))
	Clean(zerolog.New(&buf), "")

	if strings.Contains(buf.String(), `"level":"warn"`) {
		t.Errorf("missing path should not warn: %s", buf.String())
	}
}

func TestKindPrefix(t *testing.T) {
	if FalseRoot.Prefix() != "flacm" || FixRoot.Prefix() != "fix" {
		t.Errorf("prefixes = %q, %q", FalseRoot.Prefix(), FixRoot.Prefix())
	}
	if FixRoot.String() != "fix root" {
		t.Errorf("String = %q", FixRoot.String())
	}

	root, err := MakeRoot(FixRoot, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(filepath.Base(root), "fix") {
		t.Errorf("fix root named %q", filepath.Base(root))
	}
}

func TestWithinJoinsUnderRoot(t *testing.T) {
	root := t.TempDir()

	got, err := Within(root, "/etc/motd")
	if err != nil {
		t.Fatalf("Within: %v", err)
	}
	realRoot, _ := filepath.EvalSymlinks(root)
	if got != filepath.Join(realRoot, "etc", "motd") {
		t.Errorf("got %q", got)
	}
}

func TestWithinRejectsDotDot(t *testing.T) {
	root := t.TempDir()
	sub := filepath.Join(root, "jail")
	os.MkdirAll(sub, 0755)

	_, err := Within(sub, "../escape")
	if err == nil {
		t.Fatal("expected error for .. escape")
	}
	if !strings.Contains(err.Error(), "outside") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestWithinRejectsSymlinkedParentEscape(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	os.Symlink(outside, filepath.Join(root, "link"))

	_, err := Within(root, "link/file")
	if err == nil {
		t.Fatal("expected error for symlinked parent escaping root")
	}
}

func TestWithinKeepsLeafSymlink(t *testing.T) {
	root := t.TempDir()
	outside := t.TempDir()
	os.Symlink(outside, filepath.Join(root, "leaf"))

	got, err := Within(root, "leaf")
	if err != nil {
		t.Fatalf("leaf symlink should be addressable: %v", err)
	}
	if filepath.Base(got) != "leaf" {
		t.Errorf("got %q", got)
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "file.conf")

	if err := WriteFileAtomic(path, strings.NewReader("content\n"), 0640); err != nil {
		t.Fatalf("WriteFileAtomic: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "content\n" {
		t.Errorf("content = %q", data)
	}
	fi, _ := os.Stat(path)
	if fi.Mode().Perm() != 0640 {
		t.Errorf("perm = %o, want 640", fi.Mode().Perm())
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestIdentical(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a")
	b := filepath.Join(dir, "b")
	c := filepath.Join(dir, "c")
	os.WriteFile(a, []byte("same\n"), 0644)
	os.WriteFile(b, []byte("same\n"), 0644)
	os.WriteFile(c, []byte("diff\n"), 0644)

	if same, err := Identical(a, b); err != nil || !same {
		t.Errorf("Identical(a, b) = %v, %v", same, err)
	}
	if same, _ := Identical(a, c); same {
		t.Error("different content reported identical")
	}

	os.Chmod(b, 0600)
	if same, _ := Identical(a, b); same {
		t.Error("different permissions reported identical")
	}

	if same, err := Identical(a, filepath.Join(dir, "missing")); err != nil || same {
		t.Errorf("missing path = %v, %v", same, err)
	}

	os.Symlink("a", filepath.Join(dir, "l1"))
	os.Symlink("a", filepath.Join(dir, "l2"))
	if same, _ := Identical(filepath.Join(dir, "l1"), filepath.Join(dir, "l2")); !same {
		t.Error("symlinks with the same target should be identical")
	}
	if same, _ := Identical(filepath.Join(dir, "l1"), a); same {
		t.Error("symlink and file should differ")
	}
}
