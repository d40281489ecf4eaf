package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SchemaLoader is satisfied by *qexml.Resolver; readiness requires the
// default XSD to load since every decode may fall back to it.
type SchemaLoader interface {
	CheckDefault() error
}

// CheckResult represents the health of a single dependency.
type CheckResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthResult is the top-level health response.
type HealthResult struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Checker verifies that all dependencies are reachable.
type Checker struct {
	db      Pinger
	schemas SchemaLoader
	logger  *slog.Logger
	gauge   *prometheus.GaugeVec
}

// NewChecker creates a health checker and registers its Prometheus gauge.
// schemas may be nil for processes that never decode XML.
func NewChecker(db Pinger, schemas SchemaLoader, logger *slog.Logger, reg prometheus.Registerer) *Checker {
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pwchain",
		Name:      "health_check_up",
		Help:      "Whether a dependency is reachable. 1 = up, 0 = down.",
	}, []string{"dependency"})
	reg.MustRegister(gauge)

	return &Checker{
		db:      db,
		schemas: schemas,
		logger:  logger.With("component", "health"),
		gauge:   gauge,
	}
}

// Liveness returns a simple "up" response if the process is running.
func (c *Checker) Liveness(_ context.Context) HealthResult {
	return HealthResult{Status: "up"}
}

// Readiness checks every dependency and reports per-check status.
func (c *Checker) Readiness(ctx context.Context) HealthResult {
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	result := HealthResult{
		Status: "up",
		Checks: make(map[string]CheckResult),
	}

	c.record(&result, "postgres", c.db.Ping(checkCtx))
	if c.schemas != nil {
		c.record(&result, "schema", c.schemas.CheckDefault())
	}

	return result
}

func (c *Checker) record(result *HealthResult, dep string, err error) {
	if err != nil {
		c.logger.Warn(dep+" health check failed", "error", err)
		result.Status = "down"
		result.Checks[dep] = CheckResult{Status: "down", Error: err.Error()}
		c.gauge.WithLabelValues(dep).Set(0)
		return
	}
	result.Checks[dep] = CheckResult{Status: "up"}
	c.gauge.WithLabelValues(dep).Set(1)
}
