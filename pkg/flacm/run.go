package flacm

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bianoble/flacm/internal/agent"
	"github.com/bianoble/flacm/internal/ledger"
	"github.com/bianoble/flacm/internal/role"
	"github.com/bianoble/flacm/internal/source"
)

// ErrNotAssigned is returned for an explicitly requested role that the
// role data file does not assign to this host.
var ErrNotAssigned = errors.New("role is not assigned to this host")

// ErrIgnored is returned by Run while the ignore file is present.
var ErrIgnored = errors.New("flacm is stopped; remove the ignore file or use --no-ignore")

// RunOptions configures a run.
type RunOptions struct {
	// Roles limits the run to these function roles. Empty means every
	// role that applies to the host.
	Roles []string
	// Force runs explicit roles even when they are not assigned.
	Force bool
	// NoIgnore runs even while the ignore file is present.
	NoIgnore bool
	DryRun   bool
}

// RunResult holds the outcome of one pass over the host's roles.
type RunResult struct {
	RunID   string
	Host    string
	Started time.Time
	Results []*role.Result
	// Skipped lists optional roles that have no tree in the data source.
	Skipped []string
	Failed  int
}

// Err summarises failed roles as a single error.
func (r *RunResult) Err() error {
	if r.Failed == 0 {
		return nil
	}
	return fmt.Errorf("%d of %d roles failed", r.Failed, len(r.Results))
}

// Plan resolves the roles to apply in order: OS, domain, function roles,
// host. Explicit roles replace the whole plan and run as function roles.
func (c *Client) Plan(ctx context.Context, opts RunOptions) ([]role.Role, error) {
	return c.plan(ctx, opts, c.log)
}

func (c *Client) plan(ctx context.Context, opts RunOptions, log zerolog.Logger) ([]role.Role, error) {
	base, err := source.ParseLocator(c.cfg.Source)
	if err != nil {
		return nil, err
	}

	add := func(out []role.Role, kind role.Kind, name string, optional bool) ([]role.Role, error) {
		v, err := role.VariantFor(kind)
		if err != nil {
			return out, err
		}
		r, err := role.New(v, base, name, c.cfg.PartAsWhole)
		if err != nil {
			return out, err
		}
		r.Optional = optional
		return append(out, r), nil
	}

	if len(opts.Roles) > 0 {
		a := &role.Assignments{}
		if !opts.Force {
			if a, err = c.assignments(ctx, log); err != nil {
				return nil, err
			}
		}
		var out []role.Role
		for _, name := range opts.Roles {
			if !opts.Force && !c.assigned(a, name) {
				return nil, fmt.Errorf("%s: %w (use --force to apply it anyway)", name, ErrNotAssigned)
			}
			if out, err = add(out, role.Function, name, false); err != nil {
				return nil, err
			}
		}
		return out, nil
	}

	var out []role.Role
	if out, err = add(out, role.OS, c.facts.OS, true); err != nil {
		return nil, err
	}
	if c.facts.Domain != "" {
		if out, err = add(out, role.Domain, c.facts.Domain, true); err != nil {
			return nil, err
		}
	}

	assigned, assignErr := c.assignedRoles(ctx, log)
	for _, name := range assigned {
		var addErr error
		if out, addErr = add(out, role.Function, name, false); addErr != nil {
			log.Error().Err(addErr).Str("role", name).Msg("skipping invalid role name")
		}
	}

	if out, err = add(out, role.Host, c.facts.Host, true); err != nil {
		return nil, err
	}
	return out, assignErr
}

// assignedRoles returns the function roles assigned to the host by short
// name or FQDN. A missing role data file assigns nothing.
func (c *Client) assignedRoles(ctx context.Context, log zerolog.Logger) ([]string, error) {
	a, err := c.assignments(ctx, log)
	if err != nil {
		return nil, err
	}
	roles := a.For(c.facts.Host)
	if c.facts.FQDN != "" && c.facts.FQDN != c.facts.Host {
		for _, r := range a.For(c.facts.FQDN) {
			if !slices.Contains(roles, r) {
				roles = append(roles, r)
			}
		}
	}
	return roles, nil
}

// assignments loads the role data file. A missing file yields no
// assignments.
func (c *Client) assignments(ctx context.Context, log zerolog.Logger) (*role.Assignments, error) {
	loc, err := c.cfg.RolesLocator()
	if err != nil {
		return nil, err
	}
	a, err := role.LoadAssignments(ctx, c.registry, loc, c.cfg.StagingDir, log)
	if source.IsNotFound(err) {
		log.Warn().Str("locator", loc.String()).Msg("no role data file; no function roles assigned")
		return &role.Assignments{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading role data: %w", err)
	}
	return a, nil
}

// assigned reports whether name is assigned to the host by short name or
// FQDN.
func (c *Client) assigned(a *role.Assignments, name string) bool {
	if a.Has(name, c.facts.Host) {
		return true
	}
	return c.facts.FQDN != "" && a.Has(name, c.facts.FQDN)
}

// Roles returns the function roles assigned to this host.
func (c *Client) Roles(ctx context.Context) ([]string, error) {
	return c.assignedRoles(ctx, c.log)
}

// Run takes the run lock and applies the planned roles once.
func (c *Client) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	if !opts.NoIgnore && c.state.Ignored() {
		return nil, ErrIgnored
	}
	lock, err := c.state.Lock()
	if err != nil {
		return nil, err
	}
	defer lock.Release()

	return c.pass(ctx, opts)
}

// pass applies every planned role, isolating failures so one broken role
// never stops the next.
func (c *Client) pass(ctx context.Context, opts RunOptions) (*RunResult, error) {
	res := &RunResult{
		RunID:   uuid.NewString(),
		Host:    c.facts.Host,
		Started: time.Now(),
	}
	log := c.log.With().Str("run_id", res.RunID).Logger()

	plan, planErr := c.plan(ctx, opts, log)
	if planErr != nil {
		if len(opts.Roles) > 0 || len(plan) == 0 {
			return nil, planErr
		}
		log.Error().Err(planErr).Msg("role data unavailable; applying host-wide roles only")
		res.Failed++
	}
	log.Info().Int("roles", len(plan)).Str("host", c.facts.Host).Bool("dry_run", opts.DryRun).Msg("starting run")

	ledgerPath := filepath.Join(c.cfg.StateDir, ledger.FileName)
	led, err := ledger.Load(ledgerPath)
	if err != nil {
		log.Warn().Err(err).Msg("discarding unreadable ledger")
		led = &ledger.Ledger{Version: 1}
	}
	led.RunID, led.Host, led.Started = res.RunID, res.Host, res.Started

	eng := c.engine(log, opts.DryRun)
	for _, r := range plan {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		out, runErr := eng.Run(ctx, r)
		if out.Skipped {
			res.Skipped = append(res.Skipped, r.Name)
			continue
		}
		res.Results = append(res.Results, out)
		if runErr != nil {
			res.Failed++
		}
		led.Record(record(out, res.RunID, opts.DryRun))
	}

	if err := ledger.Save(ledgerPath, led); err != nil {
		log.Warn().Err(err).Msg("could not save ledger")
	}
	if err := c.metrics.WriteTextfile(c.cfg.Metrics.Textfile); err != nil {
		log.Warn().Err(err).Msg("could not write metrics")
	}

	log.Info().
		Int("applied", len(res.Results)-res.Failed).
		Int("failed", res.Failed).
		Int("skipped", len(res.Skipped)).
		Dur("duration", time.Since(res.Started)).
		Msg("run finished")
	return res, nil
}

func record(r *role.Result, runID string, dryRun bool) ledger.RoleRecord {
	rec := ledger.RoleRecord{
		Name:     r.Role,
		Variant:  string(r.Variant),
		Status:   ledger.StatusOK,
		State:    r.State.String(),
		Files:    len(r.Actions),
		Duration: r.Duration,
		Finished: time.Now().UTC(),
		RunID:    runID,
	}
	switch {
	case r.Err != nil:
		rec.Status = ledger.StatusFailed
		rec.Error = r.Err.Error()
	case dryRun:
		rec.Status = ledger.StatusDryRun
	}
	return rec
}

// Daemon holds the run lock and applies the host's roles every
// daemon.interval until ctx is cancelled. Passes are skipped while the
// ignore file is present. It returns agent.ErrReboot when the agent
// should exit so the bootstrap can replace it.
func (c *Client) Daemon(ctx context.Context, opts RunOptions) error {
	lock, err := c.state.Lock()
	if err != nil {
		return err
	}
	defer lock.Release()

	log := c.log.With().Str("mode", "daemon").Logger()
	log.Info().Dur("interval", c.cfg.Daemon.Interval).Msg("daemon started")

	for {
		if err := c.state.CheckReboot(); err != nil {
			if errors.Is(err, agent.ErrReboot) {
				log.Info().Msg("reboot requested; exiting")
			}
			return err
		}

		if c.state.Ignored() && !opts.NoIgnore {
			log.Info().Str("file", c.cfg.IgnoreFile).Msg("ignore file present; skipping pass")
		} else if res, err := c.pass(ctx, opts); err != nil {
			log.Error().Err(err).Msg("pass failed")
		} else if res.Failed > 0 {
			log.Warn().Int("failed", res.Failed).Msg("pass finished with failures")
		}

		if _, err := c.state.Wait(ctx, c.cfg.Daemon.Interval); err != nil {
			if errors.Is(err, context.Canceled) {
				log.Info().Msg("daemon stopped")
				return nil
			}
			return err
		}
	}
}

// StatusReport describes the agent as seen by the status command.
type StatusReport struct {
	Status agent.Status
	Ledger *ledger.Ledger
}

// Status reports whether an agent is running and the last role outcomes.
func (c *Client) Status() (*StatusReport, error) {
	led, err := ledger.Load(filepath.Join(c.cfg.StateDir, ledger.FileName))
	if err != nil {
		return nil, err
	}
	return &StatusReport{Status: c.state.Status(), Ledger: led}, nil
}
