package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roberthpchao/Northwind-ETL/internal/load"
	"github.com/roberthpchao/Northwind-ETL/internal/resolve"
	"github.com/roberthpchao/Northwind-ETL/internal/storage"
)

// IssueSeverity represents the severity of a configuration issue.
type IssueSeverity string

const (
	// SeverityError indicates a configuration error that blocks execution.
	SeverityError IssueSeverity = "error"
	// SeverityWarning indicates a configuration warning that is surfaced to
	// users but does not block execution.
	SeverityWarning IssueSeverity = "warning"
)

// Issue describes a single validation finding for a Pipeline.
//
// Path is a dotted path into the config (e.g. "target.kind",
// "entities[2].load.strategy"). Message is human-readable.
type Issue struct {
	Severity IssueSeverity
	Path     string
	Message  string
}

// Error implements the error interface so an Issue can be treated as a
// single error in contexts that expect one.
func (i Issue) Error() string {
	return fmt.Sprintf("%s at %s: %s", i.Severity, i.Path, i.Message)
}

// ValidatePipeline performs static validation of a decoded Pipeline. It does
// not mutate the pipeline; it returns a slice of Issue values and callers
// decide whether warnings are fatal.
//
// Example:
//
//	var p config.Pipeline
//	if err := json.NewDecoder(r).Decode(&p); err != nil { ... }
//	for _, iss := range config.ValidatePipeline(p) {
//	    fmt.Printf("%s: %s: %s\n", iss.Severity, iss.Path, iss.Message)
//	}
func ValidatePipeline(p Pipeline) []Issue {
	var issues []Issue

	if strings.TrimSpace(p.Job) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "job",
			Message:  "job must not be empty; it labels logs and metrics for the run",
		})
	}
	issues = append(issues, validateConnection("source", p.Source)...)
	issues = append(issues, validateConnection("target", p.Target)...)
	issues = append(issues, validateRuntime(p.Runtime)...)
	issues = append(issues, validateEntities(p)...)

	return issues
}

// validateConnection validates one of the source/target sections.
func validateConnection(section string, c Connection) []Issue {
	var issues []Issue

	if strings.TrimSpace(c.Kind) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     section + ".kind",
			Message:  section + ".kind must not be empty",
		})
	} else if _, err := storage.DialectFor(c.Kind); err != nil {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     section + ".kind",
			Message:  fmt.Sprintf("unknown storage kind %q; known kinds are postgres, pq, mssql, mysql, and sqlite", c.Kind),
		})
	}

	if strings.TrimSpace(c.DSN) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     section + ".dsn",
			Message: fmt.Sprintf("%s.dsn must not be empty; set it in the pipeline file or via %s_DSN",
				section, strings.ToUpper(section)),
		})
	}

	return issues
}

// validateRuntime checks run-wide tuning for obvious misconfigurations.
func validateRuntime(r Runtime) []Issue {
	var issues []Issue

	switch resolve.Policy(r.OnUnresolved) {
	case "", resolve.Reject, resolve.Flag:
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.on_unresolved",
			Message:  fmt.Sprintf("unknown policy %q; valid policies are reject and flag", r.OnUnresolved),
		})
	}
	if r.BatchSize < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.batch_size",
			Message:  "batch_size must not be negative; 0 uses the loader default",
		})
	}
	if r.RetryAttempts < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.retry_attempts",
			Message:  "retry_attempts must not be negative; 0 means a single try",
		})
	}
	if r.RetryBackoffMS < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "runtime.retry_backoff_ms",
			Message:  "retry_backoff_ms must not be negative",
		})
	}

	return issues
}

// validateEntities validates the entity list and each entity in it.
func validateEntities(p Pipeline) []Issue {
	var issues []Issue

	if len(p.Entities) == 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     "entities",
			Message:  "entities must not be empty; a pipeline reloads at least one table",
		})
		return issues
	}

	// Suspend support depends on the target engine. An unknown target kind
	// is already reported by validateConnection, so the engine check is
	// skipped for it.
	var dialect storage.Dialect
	if d, err := storage.DialectFor(p.Target.Kind); err == nil {
		dialect = d
	}

	// Entities run in declared order; seen holds the names declared before
	// the entity under validation, so dependency and resolve targets must
	// come from it.
	seen := make(map[string]struct{}, len(p.Entities))
	for i, e := range p.Entities {
		path := fmt.Sprintf("entities[%d]", i)

		name := strings.TrimSpace(e.Name)
		if name == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path + ".name",
				Message:  "entity name must not be empty",
			})
		} else if _, dup := seen[name]; dup {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path + ".name",
				Message:  fmt.Sprintf("duplicate entity name %q", name),
			})
		}

		for j, dep := range e.DependsOn {
			if _, ok := seen[dep]; !ok {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Path:     fmt.Sprintf("%s.depends_on[%d]", path, j),
					Message:  fmt.Sprintf("depends_on %q does not name an earlier entity", dep),
				})
			}
		}

		if strings.TrimSpace(e.Extract.Query) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     path + ".extract.query",
				Message:  "extract.query must not be empty",
			})
		}

		issues = append(issues, validateTransforms(path, e.Transform)...)
		issues = append(issues, validateResolves(path, e, seen)...)
		issues = append(issues, validateLoad(path, e.Load, dialect)...)

		if name != "" {
			seen[name] = struct{}{}
		}
	}

	return issues
}

// validateTransforms validates one entity's transform chain. An empty chain
// is fine; extracted rows load as-is.
func validateTransforms(path string, ts []Transform) []Issue {
	var issues []Issue

	for j, t := range ts {
		tp := fmt.Sprintf("%s.transform[%d]", path, j)
		if strings.TrimSpace(t.Kind) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     tp + ".kind",
				Message:  "transform kind must not be empty",
			})
			continue
		}

		switch t.Kind {
		case "rename":
			if len(t.Mapping) == 0 {
				issues = append(issues, Issue{
					Severity: SeverityWarning,
					Path:     tp + ".mapping",
					Message:  "rename has an empty mapping and passes rows through unchanged",
				})
			}
		case "project":
			if len(t.Columns) == 0 {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Path:     tp + ".columns",
					Message:  "project requires at least one column",
				})
			}
		case "derive":
			if strings.TrimSpace(t.Column) == "" {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Path:     tp + ".column",
					Message:  "derive requires a target column",
				})
			}
			if t.Expr == nil {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Path:     tp + ".expr",
					Message:  "derive requires an expression",
				})
			}
			if t.Scale < 0 {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Path:     tp + ".scale",
					Message:  "scale must not be negative",
				})
			}
		default:
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     tp + ".kind",
				Message:  fmt.Sprintf("unknown transform kind %q; valid kinds are rename, project, and derive", t.Kind),
			})
		}
	}

	return issues
}

// validateResolves validates one entity's key resolutions against the
// entities declared before it.
func validateResolves(path string, e Entity, seen map[string]struct{}) []Issue {
	var issues []Issue

	for j, r := range e.Resolve {
		rp := fmt.Sprintf("%s.resolve[%d]", path, j)

		if strings.TrimSpace(r.Dimension) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     rp + ".dimension",
				Message:  "resolve dimension must not be empty",
			})
		} else if _, ok := seen[r.Dimension]; !ok {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     rp + ".dimension",
				Message:  fmt.Sprintf("dimension %q is not declared earlier in entities", r.Dimension),
			})
		} else if !slices.Contains(e.DependsOn, r.Dimension) {
			issues = append(issues, Issue{
				Severity: SeverityWarning,
				Path:     rp + ".dimension",
				Message:  fmt.Sprintf("dimension %q is not listed in depends_on; a failed dimension reload would not block this entity", r.Dimension),
			})
		}

		if strings.TrimSpace(r.Surrogate) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     rp + ".surrogate",
				Message:  "surrogate key column must not be empty",
			})
		}
		if strings.TrimSpace(r.Natural) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     rp + ".natural",
				Message:  "natural key column must not be empty",
			})
		}
		if strings.TrimSpace(r.Column) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     rp + ".column",
				Message:  "staged natural key column must not be empty",
			})
		}
		if strings.TrimSpace(r.As) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     rp + ".as",
				Message:  "output column must not be empty; name the natural key column to replace it in place",
			})
		}
	}

	return issues
}

// validateLoad validates one entity's load section. dialect is nil when the
// target kind is unknown.
func validateLoad(path string, l Load, dialect storage.Dialect) []Issue {
	var issues []Issue
	lp := path + ".load"

	if strings.TrimSpace(l.Table) == "" {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     lp + ".table",
			Message:  "load.table must not be empty",
		})
	}
	if len(l.Columns) == 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     lp + ".columns",
			Message:  "load.columns must not be empty; at least one insert column is required",
		})
	}

	suspend := false
	switch load.Strategy(l.Strategy) {
	case "", load.StrategyDelete:
	case load.StrategyTruncate:
		if len(l.Referencing) > 0 {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     lp + ".strategy",
				Message:  "truncate cannot clear a table other tables reference; use delete or suspend",
			})
		}
	case load.StrategySuspend:
		suspend = true
		if dialect != nil && !dialect.SupportsConstraintSuspend() {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     lp + ".strategy",
				Message:  fmt.Sprintf("%s cannot suspend constraint enforcement", dialect.Name()),
			})
		}
	default:
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     lp + ".strategy",
			Message:  fmt.Sprintf("unknown clear strategy %q; valid strategies are truncate, delete, and suspend", l.Strategy),
		})
	}

	for j, ref := range l.Referencing {
		rp := fmt.Sprintf("%s.referencing[%d]", lp, j)
		if strings.TrimSpace(ref.Table) == "" {
			issues = append(issues, Issue{
				Severity: SeverityError,
				Path:     rp + ".table",
				Message:  "referencing table must not be empty",
			})
		}
		if suspend {
			if strings.TrimSpace(ref.Constraint) == "" {
				issues = append(issues, Issue{
					Severity: SeverityWarning,
					Path:     rp + ".constraint",
					Message:  "constraint name is empty; SQL Server needs it to toggle enforcement",
				})
			}
			// Restore validation anti-joins the referencing column against
			// the reloaded keys before re-enabling enforcement.
			if strings.TrimSpace(ref.Column) == "" {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Path:     rp + ".column",
					Message:  "referencing column must not be empty under suspend",
				})
			}
			if strings.TrimSpace(ref.References) == "" {
				issues = append(issues, Issue{
					Severity: SeverityError,
					Path:     rp + ".references",
					Message:  "referenced column must not be empty under suspend",
				})
			}
		}
	}

	if l.BatchSize < 0 {
		issues = append(issues, Issue{
			Severity: SeverityError,
			Path:     lp + ".batch_size",
			Message:  "batch_size must not be negative; 0 uses the runtime setting",
		})
	}

	return issues
}
