// Package role applies roles: it fetches a role tree, builds its manifest,
// reconciles it into a fix tree, runs the role's scripts and merges the
// fix tree onto the live root.
package role

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kballard/go-shellquote"
	"github.com/rs/zerolog"

	"github.com/bianoble/flacm/internal/command"
	"github.com/bianoble/flacm/internal/manifest"
	"github.com/bianoble/flacm/internal/reconcile"
	"github.com/bianoble/flacm/internal/script"
	"github.com/bianoble/flacm/internal/source"
	"github.com/bianoble/flacm/internal/staging"
	"github.com/bianoble/flacm/internal/telemetry"
)

// State is a step of a role run.
type State int

const (
	Init State = iota
	Fetched
	Scanned
	SubroleOverlay
	PreScripted
	Fixed
	Synced
	PostScripted
	Cleaned
)

var stateNames = [...]string{
	"init", "fetched", "scanned", "subrole-overlay", "pre-scripted",
	"fixed", "synced", "post-scripted", "cleaned",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// subroleDir holds fetched subrole trees inside the false root.
const subroleDir = ".subroles"

// Result describes a finished role run.
type Result struct {
	Role    string
	Variant Kind
	// State is the last state reached. A successful run ends in Cleaned,
	// or in Fixed for a dry run.
	State    State
	Actions  []reconcile.Action
	Duration time.Duration
	Err      error
	// Skipped is set when an optional role has no tree in the data source.
	Skipped bool
}

// errNoTree marks an optional role whose tree is absent.
var errNoTree = errors.New("role has no tree")

// Engine runs roles.
type Engine struct {
	Sources *source.Registry
	Syncer  source.Syncer
	Scanner manifest.Scanner
	// Fixer carries the staging directory, live root and ownership used
	// for every role; PartAsWhole is taken from the role.
	Fixer   reconcile.Fixer
	Exec    command.Runner
	Metrics *telemetry.Metrics
	DryRun  bool
	Log     zerolog.Logger
}

// Run applies r. Staging directories are removed before Run returns,
// whatever the outcome.
func (e *Engine) Run(ctx context.Context, r Role) (*Result, error) {
	start := time.Now()
	res := &Result{Role: r.Name, Variant: r.Variant.Kind, State: Init}
	log := e.Log.With().Str("role", r.Name).Str("variant", string(r.Variant.Kind)).Logger()

	err := e.run(ctx, r, res, log)

	res.Duration = time.Since(start)
	if errors.Is(err, errNoTree) {
		res.Skipped = true
		log.Info().Msg("no tree for role; skipping")
		return res, nil
	}
	res.Err = err
	e.Metrics.RecordRoleRun(string(r.Variant.Kind), err, res.Duration)
	if err != nil {
		log.Error().Err(err).Str("state", res.State.String()).Msg("role failed")
		return res, err
	}
	if !e.DryRun {
		res.State = Cleaned
	}
	log.Info().Dur("duration", res.Duration).Int("files", len(res.Actions)).Msg("role applied")
	return res, nil
}

func (e *Engine) run(ctx context.Context, r Role, res *Result, log zerolog.Logger) error {
	falseRoot, err := staging.MakeRoot(staging.FalseRoot, e.Fixer.StagingDir)
	if err != nil {
		return fmt.Errorf("creating false root: %w", err)
	}
	defer staging.Clean(log, falseRoot)

	if err := e.Sources.Fetch(ctx, r.Locator, falseRoot); err != nil {
		if r.Optional && source.IsNotFound(err) {
			return errNoTree
		}
		return err
	}
	res.State = Fetched

	base := r.Base()
	roleDir := filepath.Join(falseRoot, base)
	m, err := e.Scanner.Scan(filepath.Join(roleDir, "root"), false)
	if err != nil {
		return err
	}
	res.State = Scanned
	log.Debug().Int("entries", m.Len()).Msg("scanned role tree")

	for _, composite := range r.Composites() {
		if err := e.overlaySubrole(ctx, r, composite, falseRoot, m, log); err != nil {
			return err
		}
		res.State = SubroleOverlay
	}

	scripts := script.Runner{
		ScriptDir: filepath.Join(roleDir, "scripts"),
		Exec:      e.Exec,
		Log:       log.With().Str("component", "script").Logger(),
	}

	if !e.DryRun {
		if err := e.hook(ctx, scripts, "pre", base, true, log); err != nil {
			return err
		}
		res.State = PreScripted
	}

	fixer := e.Fixer
	fixer.PartAsWhole = r.PartAsWhole
	fixer.DryRun = e.DryRun
	fixer.Log = log.With().Str("component", "reconcile").Logger()
	fixRoot, actions, err := fixer.Fix(ctx, base, m)
	if err != nil {
		return err
	}
	defer staging.Clean(log, fixRoot)
	res.Actions = actions
	for _, a := range actions {
		e.Metrics.RecordFile(a.Type.String())
	}
	tree := reconcile.TreeRoot(fixRoot, base)

	if e.DryRun {
		res.State = Fixed
		return nil
	}

	fixScripts := scripts
	fixScripts.Dir = tree
	if err := e.hook(ctx, fixScripts, "fix", shellquote.Join(r.Name, tree), true, log); err != nil {
		return err
	}
	res.State = Fixed

	live := e.Fixer.LiveRoot
	if live == "" {
		live = "/"
	}
	if err := e.Syncer.Sync(ctx, tree, live); err != nil {
		return err
	}
	res.State = Synced

	if err := e.hook(ctx, scripts, "post", base, false, log); err != nil {
		return err
	}
	res.State = PostScripted
	return nil
}

// overlaySubrole fetches <role>/root+<composite> and lays its manifest
// over m.
func (e *Engine) overlaySubrole(ctx context.Context, r Role, composite, falseRoot string, m *manifest.Manifest, log zerolog.Logger) error {
	dir := filepath.Join(falseRoot, subroleDir)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}
	name := "root+" + composite
	if err := e.Sources.Fetch(ctx, r.Locator.Join(name), dir); err != nil {
		return fmt.Errorf("subrole %s: %w", composite, err)
	}
	sub, err := e.Scanner.Scan(filepath.Join(dir, name), true)
	if err != nil {
		return fmt.Errorf("subrole %s: %w", composite, err)
	}
	manifest.Overlay(m, sub, log)
	log.Debug().Str("subrole", composite).Int("entries", sub.Len()).Msg("overlaid subrole")
	return nil
}

// hook runs one of the role's scripts. A missing script is logged and
// skipped.
func (e *Engine) hook(ctx context.Context, s script.Runner, name, args string, exitOnFail bool, log zerolog.Logger) error {
	err := s.Run(ctx, filepath.Join(s.ScriptDir, name), args, exitOnFail)
	if errors.Is(err, script.ErrNoScript) {
		log.Info().Str("script", name).Msg("no script; skipping")
		return nil
	}
	return err
}
