// Package lifecycle orchestrates template operations: init, apply, destroy
// and the global cleanup. It owns the sequencing between the registry, the
// workspace manager, the terraform runner and the bucket reconciler, and it
// serializes operations per template name so concurrent requests cannot
// interleave a destroy's record-delete with an apply's record-read.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/mattjoyce/terraflow/internal/config"
	"github.com/mattjoyce/terraflow/internal/events"
	"github.com/mattjoyce/terraflow/internal/history"
	"github.com/mattjoyce/terraflow/internal/log"
	"github.com/mattjoyce/terraflow/internal/metrics"
	"github.com/mattjoyce/terraflow/internal/reconcile"
	"github.com/mattjoyce/terraflow/internal/registry"
	"github.com/mattjoyce/terraflow/internal/runner"
	"github.com/mattjoyce/terraflow/internal/workspace"
)

// ErrTemplateNotFound reports apply or destroy against a name with no
// active record. No subprocess is invoked in that case.
var ErrTemplateNotFound = errors.New("template not found")

// Reconciler is the bucket-cleanup contract the coordinator depends on.
type Reconciler interface {
	DeleteBucket(ctx context.Context, bucketID string) error
	SweepTemporaryBuckets(ctx context.Context) (reconcile.SweepReport, error)
}

// RunRecorder persists one subprocess run to the audit log.
type RunRecorder interface {
	Record(ctx context.Context, run history.Run) (string, error)
}

// OpResult is the outcome of a lifecycle operation. On subprocess failure
// it is still returned alongside the error so handlers can surface the
// captured output.
type OpResult struct {
	Record registry.Record
	Output string
}

// Options wires a Coordinator's collaborators. Registry, Workspaces and
// Runner are required; History, Hub and Metrics may be nil.
type Options struct {
	Registry     registry.Store
	Workspaces   workspace.Manager
	Runner       runner.Runner
	Reconciler   Reconciler
	History      RunRecorder
	Hub          *events.Hub
	Metrics      *metrics.Metrics
	Terraform    config.TerraformConfig
	BucketPrefix string
}

// Coordinator drives the per-template state machine.
type Coordinator struct {
	reg        registry.Store
	ws         workspace.Manager
	run        runner.Runner
	reconciler Reconciler
	hist       RunRecorder
	hub        *events.Hub
	metrics    *metrics.Metrics

	tf     config.TerraformConfig
	prefix string

	keyed  *keyedMutex
	logger *slog.Logger
	now    func() time.Time
}

// New creates a Coordinator.
func New(opts Options) *Coordinator {
	return &Coordinator{
		reg:        opts.Registry,
		ws:         opts.Workspaces,
		run:        opts.Runner,
		reconciler: opts.Reconciler,
		hist:       opts.History,
		hub:        opts.Hub,
		metrics:    opts.Metrics,
		tf:         opts.Terraform,
		prefix:     opts.BucketPrefix,
		keyed:      newKeyedMutex(),
		logger:     log.WithComponent("lifecycle"),
		now:        time.Now,
	}
}

// Status returns all active template records.
func (c *Coordinator) Status() []registry.Record {
	return c.reg.List()
}

// Init creates a fresh workspace and record for name and runs terraform
// init in it. An existing record for the same name is replaced and its
// prior workspace removed best-effort. On any failure the new workspace is
// removed and no record is left behind.
func (c *Coordinator) Init(ctx context.Context, name string) (*OpResult, error) {
	unlock := c.keyed.lock(name)
	defer unlock()

	logger := c.logger.With("template", name)

	if prior, ok := c.reg.Get(name); ok {
		logger.Info("replacing existing record", "prior_workspace", prior.WorkspacePath)
		if !c.ws.Remove(prior.WorkspacePath) {
			logger.Warn("prior workspace not removed", "path", prior.WorkspacePath)
		}
		// Drop the prior record up front: its workspace is gone, and a
		// failed init must leave no record behind.
		c.reg.Delete(name)
	}

	rec := registry.NewRecord(name, c.prefix, c.tf.WorkspaceRoot, c.now())
	sourceDir := filepath.Join(c.tf.TemplatesDir, name)

	if err := c.ws.Ensure(ctx, rec.WorkspacePath, sourceDir, c.tf.SeedFiles); err != nil {
		c.ws.Remove(rec.WorkspacePath)
		c.observe("init", false)
		return nil, fmt.Errorf("preparing workspace: %w", err)
	}

	res, err := c.terraform(ctx, name, "init", rec.WorkspacePath)
	if err != nil {
		c.ws.Remove(rec.WorkspacePath)
		c.observe("init", false)
		return &OpResult{Record: rec, Output: combinedOutput(res)}, fmt.Errorf("terraform init: %w", err)
	}

	c.reg.Set(name, rec)
	c.observe("init", true)
	c.publish("template.initialized", rec)
	logger.Info("template initialized", "bucket", rec.BucketID, "workspace", rec.WorkspacePath)

	return &OpResult{Record: rec, Output: res.Stdout}, nil
}

// Apply runs terraform apply for an existing record, recreating the
// workspace first if it disappeared. Failure retains the record with
// status apply_failed so the caller can inspect or retry.
func (c *Coordinator) Apply(ctx context.Context, name string) (*OpResult, error) {
	unlock := c.keyed.lock(name)
	defer unlock()

	rec, ok := c.reg.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}

	if err := c.ensureWorkspace(ctx, name, rec); err != nil {
		rec.Status = registry.StatusApplyFailed
		rec.LastError = err.Error()
		c.reg.Set(name, rec)
		c.observe("apply", false)
		return &OpResult{Record: rec}, err
	}

	res, err := c.terraform(ctx, name, "apply", rec.WorkspacePath, "-auto-approve")
	if err != nil {
		rec.Status = registry.StatusApplyFailed
		rec.LastError = err.Error()
		c.reg.Set(name, rec)
		c.observe("apply", false)
		c.publish("template.apply_failed", rec)
		return &OpResult{Record: rec, Output: combinedOutput(res)}, fmt.Errorf("terraform apply: %w", err)
	}

	rec.Status = registry.StatusApplied
	rec.LastError = ""
	c.reg.Set(name, rec)
	c.observe("apply", true)
	c.publish("template.applied", rec)
	c.logger.Info("template applied", "template", name)

	return &OpResult{Record: rec, Output: res.Stdout}, nil
}

// Destroy runs terraform destroy for an existing record. On success it
// best-effort deletes the template's bucket, removes the workspace and
// deletes the record. On failure the record and workspace are retained
// with status destroy_failed.
func (c *Coordinator) Destroy(ctx context.Context, name string) (*OpResult, error) {
	unlock := c.keyed.lock(name)
	defer unlock()

	rec, ok := c.reg.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, name)
	}

	if err := c.ensureWorkspace(ctx, name, rec); err != nil {
		rec.Status = registry.StatusDestroyFailed
		rec.LastError = err.Error()
		c.reg.Set(name, rec)
		c.observe("destroy", false)
		return &OpResult{Record: rec}, err
	}

	res, err := c.terraform(ctx, name, "destroy", rec.WorkspacePath, "-auto-approve")
	if err != nil {
		rec.Status = registry.StatusDestroyFailed
		rec.LastError = err.Error()
		c.reg.Set(name, rec)
		c.observe("destroy", false)
		c.publish("template.destroy_failed", rec)
		return &OpResult{Record: rec, Output: combinedOutput(res)}, fmt.Errorf("terraform destroy: %w", err)
	}

	if c.reconciler != nil {
		if err := c.reconciler.DeleteBucket(ctx, rec.BucketID); err != nil {
			c.logger.Warn("bucket cleanup failed after destroy", "template", name, "bucket", rec.BucketID, "error", err)
		}
	}

	if !c.ws.Remove(rec.WorkspacePath) {
		c.logger.Warn("workspace not removed after destroy", "template", name, "path", rec.WorkspacePath)
	}
	c.reg.Delete(name)
	c.observe("destroy", true)
	c.publish("template.destroyed", rec)
	c.logger.Info("template destroyed", "template", name)

	return &OpResult{Record: rec, Output: res.Stdout}, nil
}

// CleanupAll sweeps every temporary bucket, removes every tracked
// workspace and clears the registry unconditionally. It waits out every
// in-flight per-template operation and blocks new ones while it runs, so
// a concurrent apply cannot resurrect its record after the clear.
// Per-bucket sweep failures are reported, not fatal; only the top-level
// bucket listing failure aborts before any local cleanup.
func (c *Coordinator) CleanupAll(ctx context.Context) (reconcile.SweepReport, error) {
	unlock := c.keyed.lockAll()
	defer unlock()

	var report reconcile.SweepReport
	if c.reconciler != nil {
		var err error
		report, err = c.reconciler.SweepTemporaryBuckets(ctx)
		if err != nil {
			c.observe("cleanup", false)
			return report, fmt.Errorf("sweeping buckets: %w", err)
		}
	}

	for _, rec := range c.reg.List() {
		if !c.ws.Exists(rec.WorkspacePath) {
			continue
		}
		if !c.ws.Remove(rec.WorkspacePath) {
			c.logger.Warn("workspace not removed during cleanup", "template", rec.Name, "path", rec.WorkspacePath)
		}
	}
	c.reg.Clear()

	if c.metrics != nil {
		c.metrics.AddSweptBuckets(len(report.Succeeded))
	}
	c.observe("cleanup", true)
	c.publish("cleanup.completed", report)
	c.logger.Info("cleanup completed", "swept", len(report.Succeeded), "failed", len(report.Failed))

	return report, nil
}

// ensureWorkspace recreates a missing workspace before apply or destroy:
// re-copy the seed files, then re-run terraform init.
func (c *Coordinator) ensureWorkspace(ctx context.Context, name string, rec registry.Record) error {
	if c.ws.Exists(rec.WorkspacePath) {
		return nil
	}

	c.logger.Warn("workspace missing, recreating", "template", name, "path", rec.WorkspacePath)
	sourceDir := filepath.Join(c.tf.TemplatesDir, name)
	if err := c.ws.Ensure(ctx, rec.WorkspacePath, sourceDir, c.tf.SeedFiles); err != nil {
		return fmt.Errorf("recreating workspace: %w", err)
	}
	if _, err := c.terraform(ctx, name, "init", rec.WorkspacePath); err != nil {
		return fmt.Errorf("re-running init in recreated workspace: %w", err)
	}
	return nil
}

// terraform runs one terraform subcommand in dir and records the run in
// the audit log. The returned Result is non-nil whenever the process
// produced output, even on nonzero exit.
func (c *Coordinator) terraform(ctx context.Context, name, subcommand, dir string, args ...string) (*runner.Result, error) {
	spec := runner.CommandSpec{
		Binary:     c.tf.Binary,
		Subcommand: subcommand,
		Args:       args,
		Dir:        dir,
		Timeout:    c.tf.Timeouts.TimeoutFor(subcommand),
	}

	started := c.now()
	res, err := c.run.Run(ctx, spec)
	elapsed := c.now().Sub(started)

	if c.metrics != nil {
		c.metrics.ObserveRun(subcommand, elapsed)
	}
	c.recordRun(name, subcommand, spec, res, err, elapsed)

	return res, err
}

func (c *Coordinator) recordRun(name, subcommand string, spec runner.CommandSpec, res *runner.Result, runErr error, elapsed time.Duration) {
	if c.hist == nil {
		return
	}

	run := history.Run{
		Template:  name,
		Operation: subcommand,
		Command:   spec.CommandLine(),
		Status:    history.RunSucceeded,
		Duration:  elapsed.Milliseconds(),
	}
	if runErr != nil {
		run.Status = history.RunFailed
		run.Error = runErr.Error()
	}
	if res != nil {
		code := res.ExitCode
		run.ExitCode = &code
	}

	// The audit write uses its own short context so a cancelled request
	// still leaves a trace.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := c.hist.Record(ctx, run); err != nil {
		c.logger.Warn("run history write failed", "template", name, "error", err)
	}
}

func (c *Coordinator) observe(operation string, success bool) {
	if c.metrics != nil {
		c.metrics.ObserveOperation(operation, success)
		c.metrics.SetActiveTemplates(len(c.reg.List()))
	}
}

func (c *Coordinator) publish(eventType string, data any) {
	if c.hub != nil {
		c.hub.Publish(eventType, data)
	}
}

func combinedOutput(res *runner.Result) string {
	if res == nil {
		return ""
	}
	if res.Stderr == "" {
		return res.Stdout
	}
	if res.Stdout == "" {
		return res.Stderr
	}
	return res.Stdout + "\n" + res.Stderr
}
