// Package pipeline executes dependency-ordered entity reloads.
//
// A run walks the declared entity list in order: extract from the source,
// transform, resolve foreign keys against just-reloaded dimensions, and
// replace the target table. An entity failure marks every entity that
// depends on it as skipped while unrelated entities keep running. Only the
// extract stage retries; once a load transaction has started, failure means
// rollback and a failed outcome, never a blind retry.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/roberthpchao/Northwind-ETL/internal/extract"
	"github.com/roberthpchao/Northwind-ETL/internal/load"
	"github.com/roberthpchao/Northwind-ETL/internal/metrics"
	"github.com/roberthpchao/Northwind-ETL/internal/resolve"
	"github.com/roberthpchao/Northwind-ETL/internal/storage"
	"github.com/roberthpchao/Northwind-ETL/internal/transformer"
	"github.com/roberthpchao/Northwind-ETL/pkg/records"
)

// Entity is one reloadable table: a source query, a transform chain, zero
// or more key resolutions, and a load spec.
type Entity struct {
	Name      string
	DependsOn []string // entity names that must commit first
	Query     string   // source extract statement
	Transform transformer.Chain
	Resolves  []ResolveSpec
	Load      load.Spec
}

// ResolveSpec binds one fact column to a dimension's key map.
type ResolveSpec struct {
	Dimension string      // entity name of the dimension, used as the cache key
	Ref       resolve.Ref // read-back shape of the dimension table
	Column    string      // natural-key column in the staged fact set
	As        string      // output column for the surrogate key
}

// Status classifies an entity's outcome.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Outcome is the per-entity report of one run.
type Outcome struct {
	Entity      string
	Status      Status
	Extracted   int
	Loaded      int64
	Unresolved  int
	Fingerprint string // staged-set content hash, pre-resolution
	States      []load.State
	Elapsed     time.Duration
	Err         error

	suspension *load.Suspension
}

// RetryPolicy bounds extract retries. Attempts counts every try including
// the first; Backoff is the first wait and doubles per retry.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
}

// Orchestrator runs a full reload over one source and one target.
type Orchestrator struct {
	Job      string
	RunID    string // assigned from uuid when empty
	Source   storage.DB
	Target   storage.DB
	Entities []Entity
	Policy   resolve.Policy // unresolved-key handling for every entity
	Retry    RetryPolicy
}

// sleepFn is a test seam for retry backoff.
var sleepFn = func(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run executes every entity in declared order and returns one Outcome per
// entity. It never aborts the whole run for one entity's failure: dependents
// are skipped, siblings continue. Open constraint suspensions are restored
// at the end, after every dependent has finished; a restore violation is
// attached to the suspending entity's outcome.
func (o *Orchestrator) Run(ctx context.Context) []Outcome {
	runID := o.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger := log.WithFields(log.Fields{"job": o.Job, "run_id": runID})
	logger.WithField("entities", len(o.Entities)).Info("reload starting")

	committed := map[string]bool{}
	keyMaps := map[string]*resolve.KeyMap{}
	outcomes := make([]Outcome, 0, len(o.Entities))
	started := time.Now()

	for _, ent := range o.Entities {
		if err := ctx.Err(); err != nil {
			outcomes = append(outcomes, Outcome{Entity: ent.Name, Status: StatusSkipped, Err: err})
			continue
		}
		if dep, bad := blockingDep(ent, committed); bad {
			out := Outcome{
				Entity: ent.Name,
				Status: StatusSkipped,
				Err:    fmt.Errorf("dependency %s did not commit", dep),
			}
			logger.WithFields(log.Fields{"entity": ent.Name, "dependency": dep}).Warn("entity skipped")
			outcomes = append(outcomes, out)
			continue
		}

		out := o.runEntity(ctx, logger, ent, keyMaps)
		if out.Status == StatusSucceeded {
			committed[ent.Name] = true
			// The entity's surrogate keys were reassigned; any cached map
			// for it is stale.
			delete(keyMaps, ent.Name)
		}
		outcomes = append(outcomes, out)
	}

	o.restoreSuspensions(ctx, logger, outcomes)

	ok, failedN, skippedN := tally(outcomes)
	logger.WithFields(log.Fields{
		"succeeded": ok,
		"failed":    failedN,
		"skipped":   skippedN,
		"elapsed":   time.Since(started).Round(time.Millisecond),
	}).Info("reload finished")
	return outcomes
}

// blockingDep returns the first dependency that has not committed. Entities
// run in declared order, so a dependency that never ran at all blocks the
// same way a failed one does.
func blockingDep(ent Entity, committed map[string]bool) (string, bool) {
	for _, dep := range ent.DependsOn {
		if !committed[dep] {
			return dep, true
		}
	}
	return "", false
}

func (o *Orchestrator) runEntity(ctx context.Context, runLogger *log.Entry, ent Entity, keyMaps map[string]*resolve.KeyMap) (out Outcome) {
	started := time.Now()
	out = Outcome{Entity: ent.Name, Status: StatusFailed}
	defer func() { out.Elapsed = time.Since(started) }()
	logger := runLogger.WithField("entity", ent.Name)

	set, err := o.extractWithRetry(ctx, logger, ent)
	if err != nil {
		out.Err = err
		logger.WithFields(log.Fields{"step": "extract", "err": err}).Error("entity failed")
		return out
	}
	out.Extracted = set.Len()
	metrics.RecordRows(ent.Name, "extracted", int64(set.Len()))

	if len(ent.Transform) > 0 {
		stepStart := time.Now()
		set, err = ent.Transform.Apply(set)
		metrics.RecordStep(ent.Name, "transform", err, time.Since(stepStart))
		if err != nil {
			out.Err = fmt.Errorf("transform: %w", err)
			logger.WithFields(log.Fields{"step": "transform", "err": err}).Error("entity failed")
			return out
		}
	}

	out.Fingerprint = Fingerprint(set)

	for _, rs := range ent.Resolves {
		stepStart := time.Now()
		set, err = o.resolveOne(ctx, rs, set, &out, keyMaps)
		metrics.RecordStep(ent.Name, "resolve", err, time.Since(stepStart))
		if err != nil {
			out.Err = fmt.Errorf("resolve %s: %w", rs.Column, err)
			logger.WithFields(log.Fields{"step": "resolve", "column": rs.Column, "err": err}).Error("entity failed")
			return out
		}
	}
	metrics.RecordRows(ent.Name, "unresolved", int64(out.Unresolved))

	stepStart := time.Now()
	res, err := load.Replace(ctx, o.Target, ent.Load, set)
	metrics.RecordStep(ent.Name, "load", err, time.Since(stepStart))
	out.States = res.States
	out.Loaded = res.Rows
	if err != nil {
		out.Err = fmt.Errorf("load: %w", err)
		logger.WithFields(log.Fields{"step": "load", "err": err}).Error("entity failed")
		return out
	}
	metrics.RecordRows(ent.Name, "loaded", res.Rows)
	out.suspension = res.Suspension

	out.Status = StatusSucceeded
	logger.WithFields(log.Fields{
		"extracted":   out.Extracted,
		"loaded":      out.Loaded,
		"unresolved":  out.Unresolved,
		"fingerprint": out.Fingerprint,
		"elapsed":     time.Since(started).Round(time.Millisecond),
	}).Info("entity reloaded")
	return out
}

// extractWithRetry runs the source query with bounded, doubling backoff.
// Source connectivity is the only stage where a retry is provably safe:
// nothing destructive has happened yet.
func (o *Orchestrator) extractWithRetry(ctx context.Context, logger *log.Entry, ent Entity) (*records.Set, error) {
	attempts := o.Retry.Attempts
	if attempts < 1 {
		attempts = 1
	}
	backoff := o.Retry.Backoff
	if backoff <= 0 {
		backoff = time.Second
	}

	var lastErr error
	for try := 1; try <= attempts; try++ {
		stepStart := time.Now()
		set, err := extract.Fetch(ctx, o.Source, ent.Query)
		metrics.RecordStep(ent.Name, "extract", err, time.Since(stepStart))
		if err == nil {
			return set, nil
		}
		lastErr = err
		if !errors.Is(err, extract.ErrSourceUnavailable) || try == attempts {
			break
		}
		logger.WithFields(log.Fields{
			"step":    "extract",
			"attempt": try,
			"backoff": backoff,
			"err":     err,
		}).Warn("extract failed, retrying")
		if err := sleepFn(ctx, backoff); err != nil {
			return nil, err
		}
		backoff *= 2
	}
	return nil, lastErr
}

// resolveOne joins one fact column against its dimension's key map, building
// and caching the map on first use. Maps are read back only after the
// dimension committed, so a cached map is always current within one run.
func (o *Orchestrator) resolveOne(ctx context.Context, rs ResolveSpec, set *records.Set, out *Outcome, keyMaps map[string]*resolve.KeyMap) (*records.Set, error) {
	km, ok := keyMaps[rs.Dimension]
	if !ok {
		var err error
		km, err = resolve.BuildKeyMap(ctx, o.Target, rs.Ref)
		if err != nil {
			return nil, err
		}
		keyMaps[rs.Dimension] = km
	}
	lk := resolve.Lookup{
		Map:          km,
		Column:       rs.Column,
		As:           rs.As,
		Policy:       o.Policy,
		OnUnresolved: func(n int) { out.Unresolved += n },
	}
	return lk.Apply(set)
}

// restoreSuspensions re-validates and re-enables every constraint left
// disabled by a suspend-strategy load. It runs after the whole entity loop,
// when every dependent of each suspending entity has finished. A violation
// downgrades the suspending entity's outcome to failed.
func (o *Orchestrator) restoreSuspensions(ctx context.Context, logger *log.Entry, outcomes []Outcome) {
	for i := range outcomes {
		s := outcomes[i].suspension
		if s == nil {
			continue
		}
		if err := s.Restore(ctx, o.Target); err != nil {
			outcomes[i].Status = StatusFailed
			outcomes[i].Err = err
			logger.WithFields(log.Fields{"entity": outcomes[i].Entity, "err": err}).Error("constraint restore failed")
		}
	}
}

func tally(outcomes []Outcome) (succeeded, failed, skipped int) {
	for _, out := range outcomes {
		switch out.Status {
		case StatusSucceeded:
			succeeded++
		case StatusFailed:
			failed++
		case StatusSkipped:
			skipped++
		}
	}
	return
}
