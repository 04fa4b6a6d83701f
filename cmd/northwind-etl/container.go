// Package main wires the reload pipeline end-to-end. The CLI layer stays
// thin: it maps the typed configuration onto executable pipeline entities
// and depends only on the storage factory, never on driver packages.
package main

import (
	"context"
	"fmt"
	"time"

	"github.com/roberthpchao/Northwind-ETL/internal/config"
	"github.com/roberthpchao/Northwind-ETL/internal/load"
	"github.com/roberthpchao/Northwind-ETL/internal/pipeline"
	"github.com/roberthpchao/Northwind-ETL/internal/resolve"
	"github.com/roberthpchao/Northwind-ETL/internal/storage"
	"github.com/roberthpchao/Northwind-ETL/internal/transformer"
	"github.com/roberthpchao/Northwind-ETL/internal/transformer/builtin"
)

// Function variables used to introduce test seams.
// In production these point to real implementations; tests can override them.
var (
	openDBFn = storage.Open
)

// run opens the source and target connections and executes every configured
// entity in declared order. It fails when any entity does not commit.
func run(ctx context.Context, p config.Pipeline, runID string) error {
	source, err := openDBFn(ctx, storage.Config{Kind: p.Source.Kind, DSN: p.Source.DSN})
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer source.Close(context.Background())

	target, err := openDBFn(ctx, storage.Config{Kind: p.Target.Kind, DSN: p.Target.DSN})
	if err != nil {
		return fmt.Errorf("open target: %w", err)
	}
	defer target.Close(context.Background())

	entities, err := buildEntities(p)
	if err != nil {
		return err
	}

	o := &pipeline.Orchestrator{
		Job:      p.Job,
		RunID:    runID,
		Source:   source,
		Target:   target,
		Entities: entities,
		Policy:   policyFrom(p.Runtime),
		Retry:    retryFrom(p.Runtime),
	}

	outcomes := o.Run(ctx)

	failed := 0
	for _, out := range outcomes {
		if out.Status != pipeline.StatusSucceeded {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d entities did not reload", failed, len(outcomes))
	}
	return nil
}

// buildEntities maps the configured entity list onto executable pipeline
// entities. Resolve specs read the dimension's configured load table, so
// the lookup query and the loader always agree on the table name.
func buildEntities(p config.Pipeline) ([]pipeline.Entity, error) {
	tables := make(map[string]string, len(p.Entities))
	for _, e := range p.Entities {
		tables[e.Name] = e.Load.Table
	}

	entities := make([]pipeline.Entity, 0, len(p.Entities))
	for _, e := range p.Entities {
		chain, err := buildTransforms(e.Transform)
		if err != nil {
			return nil, fmt.Errorf("entity %s: %w", e.Name, err)
		}
		resolves, err := buildResolves(e.Resolve, tables)
		if err != nil {
			return nil, fmt.Errorf("entity %s: %w", e.Name, err)
		}
		entities = append(entities, pipeline.Entity{
			Name:      e.Name,
			DependsOn: e.DependsOn,
			Query:     e.Extract.Query,
			Transform: chain,
			Resolves:  resolves,
			Load:      buildLoad(e.Load, p.Runtime),
		})
	}
	return entities, nil
}

// buildTransforms constructs the transformer chain from configuration.
func buildTransforms(ts []config.Transform) (transformer.Chain, error) {
	var c transformer.Chain
	for _, t := range ts {
		switch t.Kind {
		case "rename":
			c = append(c, builtin.Rename{Mapping: t.Mapping})
		case "project":
			c = append(c, builtin.Project{Columns: t.Columns})
		case "derive":
			if t.Expr == nil {
				return nil, fmt.Errorf("derive transform for %q has no expr", t.Column)
			}
			c = append(c, builtin.Derive{Column: t.Column, Expr: *t.Expr, Scale: t.Scale})
		default:
			return nil, fmt.Errorf("unsupported transform.kind=%s", t.Kind)
		}
	}
	if c == nil {
		c = transformer.Chain{}
	}
	return c, nil
}

// buildResolves binds each configured resolve to its dimension's load table.
func buildResolves(rs []config.Resolve, tables map[string]string) ([]pipeline.ResolveSpec, error) {
	specs := make([]pipeline.ResolveSpec, 0, len(rs))
	for _, r := range rs {
		table, ok := tables[r.Dimension]
		if !ok {
			return nil, fmt.Errorf("resolve dimension %s is not a configured entity", r.Dimension)
		}
		specs = append(specs, pipeline.ResolveSpec{
			Dimension: r.Dimension,
			Ref: resolve.Ref{
				Table:     table,
				Surrogate: r.Surrogate,
				Natural:   r.Natural,
			},
			Column: r.Column,
			As:     r.As,
		})
	}
	return specs, nil
}

// buildLoad maps a configured load section onto a loader spec. An absent
// strategy means delete.
func buildLoad(l config.Load, rt config.Runtime) load.Spec {
	strategy := load.Strategy(l.Strategy)
	if strategy == "" {
		strategy = load.StrategyDelete
	}
	refs := make([]load.ConstraintRef, 0, len(l.Referencing))
	for _, r := range l.Referencing {
		refs = append(refs, load.ConstraintRef{
			Table:      r.Table,
			Constraint: r.Constraint,
			Column:     r.Column,
			References: r.References,
		})
	}
	return load.Spec{
		Table:       l.Table,
		Columns:     l.Columns,
		Strategy:    strategy,
		Referencing: refs,
		BatchSize:   pickInt(l.BatchSize, rt.BatchSize),
	}
}

// policyFrom maps the configured unresolved-key handling onto a resolve
// policy, defaulting to reject.
func policyFrom(rt config.Runtime) resolve.Policy {
	if rt.OnUnresolved == "" {
		return resolve.Reject
	}
	return resolve.Policy(rt.OnUnresolved)
}

// retryFrom builds the extract retry policy from runtime settings.
func retryFrom(rt config.Runtime) pipeline.RetryPolicy {
	return pipeline.RetryPolicy{
		Attempts: rt.RetryAttempts,
		Backoff:  time.Duration(rt.RetryBackoffMS) * time.Millisecond,
	}
}

// pickInt chooses the first positive value 'a', otherwise returns 'b'.
func pickInt(a, b int) int {
	if a > 0 {
		return a
	}
	return b
}
