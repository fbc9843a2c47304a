package services

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/fluxcart/delta/internal/config"
	"github.com/fluxcart/delta/internal/database"
)

// busStats exposes the message bus stats the health check reads.
type busStats interface {
	GetMetrics() map[string]interface{}
}

// HealthService checks every runtime dependency of the scoring
// pipeline. Postgres and hot Redis are critical: without them neither
// catalog reads nor sessions work. The ranking oracle, the bucket
// cache, and the invalidation channel all degrade, so they only
// downgrade the status to "degraded".
type HealthService struct {
	config *config.Config
	logger *logrus.Logger
	db     *database.Database
	bus    busStats

	checkStatus   *prometheus.GaugeVec
	lastCheck     *prometheus.GaugeVec
	runtimeGauges *prometheus.GaugeVec
	pgPoolGauges  *prometheus.GaugeVec
}

type HealthStatus struct {
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Services    map[string]string      `json:"services"`
	Critical    []string               `json:"critical_failures,omitempty"`
	NonCritical []string               `json:"non_critical_failures,omitempty"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

func NewHealthService(cfg *config.Config, logger *logrus.Logger, db *database.Database, bus busStats) *HealthService {
	hs := &HealthService{
		config: cfg,
		logger: logger,
		db:     db,
		bus:    bus,
	}

	hs.checkStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "delta_health_check_status",
		Help: "Dependency health (1 = healthy, 0 = unhealthy)",
	}, []string{"dependency"})

	hs.lastCheck = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "delta_health_check_timestamp",
		Help: "Unix time of the last check per dependency",
	}, []string{"dependency"})

	hs.runtimeGauges = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "delta_runtime_info",
		Help: "Process runtime gauges",
	}, []string{"metric"})

	hs.pgPoolGauges = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "delta_pg_pool_connections",
		Help: "Postgres connection pool state",
	}, []string{"state"})

	for name, collector := range map[string]prometheus.Collector{
		"delta_health_check_status":    hs.checkStatus,
		"delta_health_check_timestamp": hs.lastCheck,
		"delta_runtime_info":           hs.runtimeGauges,
		"delta_pg_pool_connections":    hs.pgPoolGauges,
	} {
		if err := prometheus.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				logger.WithError(err).Warnf("Failed to register %s", name)
			}
		}
	}

	go hs.collectRuntimeGauges()
	go hs.collectPoolGauges()

	return hs
}

func (s *HealthService) CheckHealth() *HealthStatus {
	status := &HealthStatus{
		Timestamp: time.Now(),
		Services:  make(map[string]string),
		Details:   make(map[string]interface{}),
	}

	critical := map[string]func() error{
		"postgres":  s.checkPostgres,
		"redis_hot": s.checkRedisHot,
	}

	// Losing any of these degrades scoring quality or freshness but
	// requests still complete
	nonCritical := map[string]func() error{
		"ranking_oracle": s.checkOracle,
		"bucket_cache":   s.checkBucketCache,
		"message_bus":    s.checkMessageBus,
	}

	allCriticalHealthy := true
	for name, check := range critical {
		if err := check(); err != nil {
			status.Services[name] = "unhealthy"
			status.Critical = append(status.Critical, name)
			allCriticalHealthy = false
			s.logger.WithError(err).Errorf("Critical dependency %s is unhealthy", name)
			s.record(name, false)
		} else {
			status.Services[name] = "healthy"
			s.record(name, true)
		}
	}

	for name, check := range nonCritical {
		if err := check(); err != nil {
			status.Services[name] = "unhealthy"
			status.NonCritical = append(status.NonCritical, name)
			s.logger.WithError(err).Warnf("Dependency %s is unhealthy, degrading", name)
			s.record(name, false)
		} else {
			status.Services[name] = "healthy"
			s.record(name, true)
		}
	}

	if s.bus != nil {
		if stats := s.bus.GetMetrics(); stats != nil {
			status.Details["invalidation_consumer_lag"] = stats["consumer_lag"]
		}
	}

	switch {
	case !allCriticalHealthy:
		status.Status = "unhealthy"
	case len(status.NonCritical) > 0:
		status.Status = "degraded"
	default:
		status.Status = "healthy"
	}

	return status
}

func (s *HealthService) checkPostgres() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.db.PG.Ping(ctx)
}

func (s *HealthService) checkOracle() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.db.Neo4j.VerifyConnectivity(ctx)
}

func (s *HealthService) checkRedisHot() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.db.Redis.Hot.Ping(ctx).Err()
}

func (s *HealthService) checkBucketCache() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return s.db.Redis.Warm.Ping(ctx).Err()
}

// checkMessageBus verifies the invalidation consumer is attached and
// reporting. kafka-go carries no ping; a reader that cannot reach the
// broker shows up here as accumulated fetch errors.
func (s *HealthService) checkMessageBus() error {
	if s.bus == nil {
		return errors.New("message bus not initialized")
	}
	stats := s.bus.GetMetrics()
	if stats == nil {
		return errors.New("message bus reports no consumer stats")
	}
	if errCount, ok := stats["errors"].(int64); ok && errCount > 0 {
		if read, ok := stats["messages_read"].(int64); ok && read == 0 {
			return errors.New("invalidation consumer has only seen errors")
		}
	}
	return nil
}

func (s *HealthService) collectRuntimeGauges() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	var memStats runtime.MemStats
	for range ticker.C {
		runtime.ReadMemStats(&memStats)
		s.runtimeGauges.WithLabelValues("memory_alloc_bytes").Set(float64(memStats.Alloc))
		s.runtimeGauges.WithLabelValues("goroutines").Set(float64(runtime.NumGoroutine()))
		s.runtimeGauges.WithLabelValues("gc_runs_total").Set(float64(memStats.NumGC))
	}
}

func (s *HealthService) collectPoolGauges() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		if s.db == nil || s.db.PG == nil {
			continue
		}
		stats := s.db.PG.Stat()
		s.pgPoolGauges.WithLabelValues("acquired").Set(float64(stats.AcquiredConns()))
		s.pgPoolGauges.WithLabelValues("idle").Set(float64(stats.IdleConns()))
		s.pgPoolGauges.WithLabelValues("max").Set(float64(stats.MaxConns()))
	}
}

func (s *HealthService) record(dependency string, healthy bool) {
	value := 0.0
	if healthy {
		value = 1.0
	}
	s.checkStatus.WithLabelValues(dependency).Set(value)
	s.lastCheck.WithLabelValues(dependency).Set(float64(time.Now().Unix()))
}
