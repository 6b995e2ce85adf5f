// Package intel provides the threat intelligence collaborator used by
// enrichment. Indicators are held in memory; screening results are cached in
// Redis with a TTL so repeated lookups for the same IP skip the match path.
package intel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"sentinel-ir/internal/enrich"
	"sentinel-ir/internal/errs"
)

// ErrNotFound is returned when an indicator does not exist.
var ErrNotFound = fmt.Errorf("intel: %w", errs.ErrNotFound)

// RiskLevel indicates the risk severity of an indicator.
type RiskLevel string

const (
	RiskCritical RiskLevel = "critical"
	RiskHigh     RiskLevel = "high"
	RiskMedium   RiskLevel = "medium"
	RiskLow      RiskLevel = "low"
	RiskUnknown  RiskLevel = "unknown"
)

// Indicator represents a threat intelligence indicator.
type Indicator struct {
	ID          string    `json:"id"`
	Value       string    `json:"value"`
	Risk        RiskLevel `json:"risk"`
	Source      string    `json:"source"`
	Description string    `json:"description"`
	Tags        []string  `json:"tags,omitempty"`
	FirstSeen   time.Time `json:"first_seen"`
	LastSeen    time.Time `json:"last_seen"`
}

// Config configures the intelligence service.
type Config struct {
	CacheTTL time.Duration `yaml:"cache_ttl" json:"cache_ttl"`
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		CacheTTL: time.Hour,
	}
}

// Service maintains the indicator set and serves screening requests. It
// implements enrich.ThreatProvider.
type Service struct {
	config     Config
	cache      Cache
	mu         sync.RWMutex
	indicators map[string]*Indicator
	logger     *slog.Logger
}

// NewService creates a Service. cache may be nil, in which case every
// screening hits the in-memory indicator set directly.
func NewService(cfg Config, cache Cache) *Service {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = time.Hour
	}
	return &Service{
		config:     cfg,
		cache:      cache,
		indicators: make(map[string]*Indicator),
		logger:     slog.Default().With("component", "intel"),
	}
}

// AddIndicator registers or refreshes an indicator.
func (s *Service) AddIndicator(ind *Indicator) {
	if ind.ID == "" {
		ind.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if ind.FirstSeen.IsZero() {
		ind.FirstSeen = now
	}
	ind.LastSeen = now

	s.mu.Lock()
	s.indicators[normalize(ind.Value)] = ind
	s.mu.Unlock()
}

// RemoveIndicator deletes an indicator by value.
func (s *Service) RemoveIndicator(value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := normalize(value)
	if _, ok := s.indicators[key]; !ok {
		return ErrNotFound
	}
	delete(s.indicators, key)
	return nil
}

// GetIndicator returns the indicator for a value.
func (s *Service) GetIndicator(value string) (*Indicator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ind, ok := s.indicators[normalize(value)]
	if !ok {
		return nil, ErrNotFound
	}
	return ind, nil
}

// Count returns the number of loaded indicators.
func (s *Service) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.indicators)
}

// Screen checks an IP against the indicator set, consulting the cache first.
// Cache failures fall through to a direct match; they never fail screening.
func (s *Service) Screen(ctx context.Context, ip string) (*enrich.ThreatMatch, error) {
	key := normalize(ip)

	if s.cache != nil {
		if match, err := s.cache.Get(ctx, key); err == nil {
			return match, nil
		}
	}

	match := s.match(key)

	if s.cache != nil {
		if err := s.cache.Set(ctx, key, match, s.config.CacheTTL); err != nil {
			s.logger.Warn("screening cache write failed", "ip", ip, "error", err)
		}
	}

	return match, nil
}

func (s *Service) match(key string) *enrich.ThreatMatch {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ind, ok := s.indicators[key]
	if !ok {
		return &enrich.ThreatMatch{Matched: false}
	}
	return &enrich.ThreatMatch{
		Matched:   true,
		Indicator: ind.Value,
		RiskLevel: string(ind.Risk),
		Source:    ind.Source,
	}
}

func normalize(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
