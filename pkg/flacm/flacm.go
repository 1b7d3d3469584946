// Package flacm provides the public Go library API for the flacm agent.
//
// flacm pulls role trees from a data source, reconciles them against the
// live filesystem and runs each role's scripts. This package wires the
// transports, the role engine and the agent's state files together for
// the command line tool and for programs that embed the agent.
//
// # Basic Usage
//
//	cfg, _, err := config.Load(config.DiscoverOptions{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client, err := flacm.New(flacm.Options{Config: cfg, Log: logger})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	// Apply every role assigned to this host once.
//	result, err := client.Run(ctx, flacm.RunOptions{})
//
//	// Or keep applying them until ctx is cancelled.
//	err = client.Daemon(ctx, flacm.RunOptions{})
package flacm

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/bianoble/flacm/internal/agent"
	"github.com/bianoble/flacm/internal/command"
	"github.com/bianoble/flacm/internal/config"
	"github.com/bianoble/flacm/internal/hostinfo"
	"github.com/bianoble/flacm/internal/manifest"
	"github.com/bianoble/flacm/internal/reconcile"
	"github.com/bianoble/flacm/internal/role"
	"github.com/bianoble/flacm/internal/source"
	"github.com/bianoble/flacm/internal/telemetry"
)

// Options configures a Client.
type Options struct {
	// Config is the loaded agent configuration (required).
	Config *config.Config

	Log zerolog.Logger

	// Facts overrides host detection.
	Facts *hostinfo.Info

	// Runner executes external programs. Default: command.Exec.
	Runner command.Runner

	// Metrics receives run metrics. Default: a fresh registry.
	Metrics *telemetry.Metrics
}

// Client is the main entry point for the flacm library.
type Client struct {
	cfg      *config.Config
	log      zerolog.Logger
	facts    *hostinfo.Info
	registry *source.Registry
	syncer   source.Syncer
	runner   command.Runner
	state    *agent.State
	metrics  *telemetry.Metrics
}

// New creates a Client from opts, detecting host facts unless provided.
func New(opts Options) (*Client, error) {
	cfg := opts.Config
	if cfg == nil {
		return nil, fmt.Errorf("flacm: a config is required")
	}
	if errs := config.Validate(cfg); len(errs) > 0 {
		return nil, &config.ValidationError{Errors: errs}
	}

	facts := opts.Facts
	if facts == nil {
		var err error
		facts, err = hostinfo.Detect(hostinfo.Overrides{
			Host:   cfg.Host.Name,
			Domain: cfg.Host.Domain,
			OS:     cfg.Host.OS,
		})
		if err != nil {
			return nil, fmt.Errorf("detecting host facts: %w", err)
		}
	}

	runner := opts.Runner
	if runner == nil {
		runner = command.Exec{Log: telemetry.Component(opts.Log, "exec")}
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = telemetry.NewMetrics()
	}

	c := &Client{
		cfg:      cfg,
		log:      opts.Log,
		facts:    facts,
		registry: newRegistry(cfg, runner, opts.Log),
		runner:   runner,
		metrics:  metrics,
		state: &agent.State{
			Dir:            cfg.StateDir,
			IgnoreFile:     cfg.IgnoreFile,
			RebootFile:     cfg.RebootFile,
			RebootInterval: cfg.RebootInterval,
			Log:            telemetry.Component(opts.Log, "agent"),
		},
	}
	c.syncer = c.newSyncer()
	return c, nil
}

// newRegistry registers every built-in transport under the names the
// locator lookup expects.
func newRegistry(cfg *config.Config, runner command.Runner, log zerolog.Logger) *source.Registry {
	reg := source.NewRegistry()
	reg.Register("Local", source.Local{})
	reg.Register("Rsync", source.Rsync{Runner: runner})
	reg.Register("HTTP", source.NewHTTP("http", runner, cfg.HTTP.Insecure, cfg.HTTP.Timeout))
	reg.Register("HTTPS", source.NewHTTP("https", runner, cfg.HTTP.Insecure, cfg.HTTP.Timeout))
	reg.Register("Sftp", source.Sftp{
		User:         cfg.SSH.User,
		IdentityFile: cfg.SSH.IdentityFile,
		KnownHosts:   cfg.SSH.KnownHosts,
		Timeout:      cfg.SSH.Timeout,
		Log:          telemetry.Component(log, "sftp"),
	})
	return reg
}

func (c *Client) newSyncer() source.Syncer {
	if c.cfg.Sync == "rsync" {
		return source.RsyncSync{Runner: c.runner}
	}
	return source.TreeSync{Log: telemetry.Component(c.log, "sync")}
}

// engine builds a role engine for one invocation.
func (c *Client) engine(log zerolog.Logger, dryRun bool) *role.Engine {
	return &role.Engine{
		Sources: c.registry,
		Syncer:  c.syncer,
		Scanner: manifest.Scanner{
			Exclude: c.cfg.Scan.Exclude,
			Log:     telemetry.Component(log, "manifest"),
		},
		Fixer: reconcile.Fixer{
			StagingDir: c.cfg.StagingDir,
			LiveRoot:   c.cfg.LiveRoot,
			Owner:      c.cfg.Owner,
			Group:      c.cfg.Group,
		},
		Exec:    c.runner,
		Metrics: c.metrics,
		DryRun:  dryRun,
		Log:     telemetry.Component(log, "role"),
	}
}

// Facts returns the host facts roles are selected by.
func (c *Client) Facts() *hostinfo.Info {
	return c.facts
}

// State returns the agent's control state.
func (c *Client) State() *agent.State {
	return c.state
}

// Metrics returns the client's metrics set.
func (c *Client) Metrics() *telemetry.Metrics {
	return c.metrics
}
