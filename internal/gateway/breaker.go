package gateway

import (
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"finsuite/internal/observability/metrics"
)

// CircuitBreaker gates calls per dependency name.
type CircuitBreaker interface {
	IsAvailable(name string) bool
	ReportSuccess(name string)
	ReportFailure(name string)
}

// NoopBreaker is always available and ignores reports.
type NoopBreaker struct{}

func (NoopBreaker) IsAvailable(string) bool { return true }

func (NoopBreaker) ReportSuccess(string) {}

func (NoopBreaker) ReportFailure(string) {}

// BreakerSettings configures the breaker kept for each dependency.
type BreakerSettings struct {
	// MinRequests is the number of calls in a window before the failure ratio is considered.
	MinRequests uint32
	// FailureRatio trips the breaker once reached.
	FailureRatio float64
	// OpenTimeout is how long the breaker stays open before a half-open probe.
	OpenTimeout time.Duration
	// Interval clears closed-state counts; zero keeps counts until the state changes.
	Interval time.Duration
	// HalfOpenRequests is the number of probes allowed while half-open.
	HalfOpenRequests uint32
}

// DefaultBreakerSettings returns the settings used when a dependency has no override.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MinRequests:      5,
		FailureRatio:     0.6,
		OpenTimeout:      30 * time.Second,
		Interval:         time.Minute,
		HalfOpenRequests: 1,
	}
}

var errReportedFailure = errors.New("gateway: reported failure")

// BreakerSet keeps one gobreaker circuit per dependency, created on first use.
type BreakerSet struct {
	mu        sync.Mutex
	defaults  BreakerSettings
	overrides map[string]BreakerSettings
	breakers  map[string]*gobreaker.CircuitBreaker
	logger    *zap.Logger
}

// NewBreakerSet builds a breaker set. overrides is copied.
func NewBreakerSet(defaults BreakerSettings, overrides map[string]BreakerSettings, logger *zap.Logger) (*BreakerSet, error) {
	if logger == nil {
		return nil, errors.New("gateway: nil logger")
	}
	if defaults.FailureRatio <= 0 || defaults.FailureRatio > 1 {
		return nil, errors.New("gateway: failure ratio must be in (0, 1]")
	}
	copied := make(map[string]BreakerSettings, len(overrides))
	for name, settings := range overrides {
		copied[name] = settings
	}
	return &BreakerSet{
		defaults:  defaults,
		overrides: copied,
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
		logger:    logger,
	}, nil
}

// IsAvailable is false only while the dependency circuit is open.
func (s *BreakerSet) IsAvailable(name string) bool {
	return s.breaker(name).State() != gobreaker.StateOpen
}

// ReportSuccess records a successful call.
func (s *BreakerSet) ReportSuccess(name string) {
	_, _ = s.breaker(name).Execute(func() (interface{}, error) { return nil, nil })
}

// ReportFailure records a failed call.
func (s *BreakerSet) ReportFailure(name string) {
	_, _ = s.breaker(name).Execute(func() (interface{}, error) { return nil, errReportedFailure })
}

// State exposes the current breaker state for health reporting.
func (s *BreakerSet) State(name string) string {
	return s.breaker(name).State().String()
}

func (s *BreakerSet) breaker(name string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok := s.breakers[name]; ok {
		return cb
	}
	settings, ok := s.overrides[name]
	if !ok {
		settings = s.defaults
	}
	cb := gobreaker.NewCircuitBreaker(s.gobreakerSettings(name, settings))
	s.breakers[name] = cb
	return cb
}

func (s *BreakerSet) gobreakerSettings(name string, settings BreakerSettings) gobreaker.Settings {
	minRequests := settings.MinRequests
	ratio := settings.FailureRatio
	if ratio <= 0 {
		ratio = s.defaults.FailureRatio
	}
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: settings.HalfOpenRequests,
		Interval:    settings.Interval,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests < minRequests {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) >= ratio
		},
		OnStateChange: func(dependency string, from, to gobreaker.State) {
			metrics.IncBreakerTransition(dependency, to.String())
			s.logger.Warn("circuit breaker state changed",
				zap.String("dependency", dependency),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	}
}
