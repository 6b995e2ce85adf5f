// Package enrich augments validated events with context from external
// providers before rule evaluation. Enrichment is best-effort: a provider
// failure never blocks the pipeline, it is recorded and the field stays empty.
package enrich

import (
	"context"
	"log/slog"
	"time"

	"sentinel-ir/internal/errs"
	"sentinel-ir/internal/schema"
)

// ThreatMatch is the result of screening an IP against threat intelligence.
type ThreatMatch struct {
	Matched   bool   `json:"matched"`
	Indicator string `json:"indicator,omitempty"`
	RiskLevel string `json:"risk_level,omitempty"`
	Source    string `json:"source,omitempty"`
}

// GeoInfo is the geographic context resolved for an IP address.
type GeoInfo struct {
	Country string  `json:"country,omitempty"`
	City    string  `json:"city,omitempty"`
	ASN     string  `json:"asn,omitempty"`
	Lat     float64 `json:"lat,omitempty"`
	Lon     float64 `json:"lon,omitempty"`
}

// DeviceInfo is the parsed user-agent context.
type DeviceInfo struct {
	Browser string `json:"browser,omitempty"`
	OS      string `json:"os,omitempty"`
	Device  string `json:"device,omitempty"`
	Bot     bool   `json:"bot,omitempty"`
}

// asMetadata flattens results into plain maps so rule conditions can address
// them by path (e.g. "metadata.threat.matched").

func (m *ThreatMatch) asMetadata() map[string]any {
	return map[string]any{
		"matched":    m.Matched,
		"indicator":  m.Indicator,
		"risk_level": m.RiskLevel,
		"source":     m.Source,
	}
}

func (g *GeoInfo) asMetadata() map[string]any {
	return map[string]any{
		"country": g.Country,
		"city":    g.City,
		"asn":     g.ASN,
		"lat":     g.Lat,
		"lon":     g.Lon,
	}
}

func (d *DeviceInfo) asMetadata() map[string]any {
	return map[string]any{
		"browser": d.Browser,
		"os":      d.OS,
		"device":  d.Device,
		"bot":     d.Bot,
	}
}

// ThreatProvider screens IP addresses against threat intelligence.
type ThreatProvider interface {
	Screen(ctx context.Context, ip string) (*ThreatMatch, error)
}

// GeoProvider resolves geographic context for IP addresses.
type GeoProvider interface {
	Locate(ctx context.Context, ip string) (*GeoInfo, error)
}

// DeviceParser extracts device context from user-agent strings.
type DeviceParser interface {
	Parse(ctx context.Context, userAgent string) (*DeviceInfo, error)
}

// Config holds enricher configuration.
type Config struct {
	LookupTimeout     time.Duration `yaml:"lookup_timeout" json:"lookup_timeout"`
	FingerprintBucket time.Duration `yaml:"fingerprint_bucket" json:"fingerprint_bucket"`
}

// DefaultConfig returns the default enricher configuration.
func DefaultConfig() Config {
	return Config{
		LookupTimeout:     2 * time.Second,
		FingerprintBucket: time.Minute,
	}
}

// Enricher runs the enrichment sub-steps against a copy of each event.
type Enricher struct {
	config   Config
	threat   ThreatProvider
	geo      GeoProvider
	device   DeviceParser
	recorder *errs.Recorder
	logger   *slog.Logger
}

// New creates an Enricher. Any provider may be nil; its sub-step is skipped.
func New(cfg Config, threat ThreatProvider, geo GeoProvider, device DeviceParser, recorder *errs.Recorder) *Enricher {
	if cfg.LookupTimeout <= 0 {
		cfg.LookupTimeout = 2 * time.Second
	}
	if cfg.FingerprintBucket <= 0 {
		cfg.FingerprintBucket = time.Minute
	}
	return &Enricher{
		config:   cfg,
		threat:   threat,
		geo:      geo,
		device:   device,
		recorder: recorder,
		logger:   slog.Default().With("component", "enricher"),
	}
}

// Enrich returns an enriched copy of the event. The input is never mutated.
// Provider failures are recorded and the corresponding metadata stays absent.
func (e *Enricher) Enrich(ctx context.Context, event *schema.Event) *schema.Event {
	out := event.Clone()
	if out.Metadata == nil {
		out.Metadata = make(map[string]any)
	}
	if out.ReceivedAt.IsZero() {
		out.ReceivedAt = time.Now().UTC()
	}
	if out.SchemaVersion == "" {
		out.SchemaVersion = schema.SchemaVersionCurrent
	}

	if e.threat != nil && out.IPAddress != "" {
		if match := e.screenThreat(ctx, out); match != nil {
			out.Metadata["threat"] = match.asMetadata()
			if match.Matched && !out.HasTag("threat_match") {
				out.Tags = append(out.Tags, "threat_match")
			}
		}
	}

	if e.geo != nil && out.IPAddress != "" {
		if geo := e.locate(ctx, out); geo != nil {
			out.Metadata["geo"] = geo.asMetadata()
		}
	}

	if e.device != nil && out.UserAgent != "" {
		if dev := e.parseDevice(ctx, out); dev != nil {
			out.Metadata["device"] = dev.asMetadata()
		}
	}

	out.Fingerprint = Fingerprint(out, e.config.FingerprintBucket)
	return out
}

func (e *Enricher) screenThreat(ctx context.Context, ev *schema.Event) *ThreatMatch {
	lctx, cancel := context.WithTimeout(ctx, e.config.LookupTimeout)
	defer cancel()

	match, err := e.threat.Screen(lctx, ev.IPAddress)
	if err != nil {
		e.fail("threat_intel", ev, err)
		return nil
	}
	return match
}

func (e *Enricher) locate(ctx context.Context, ev *schema.Event) *GeoInfo {
	lctx, cancel := context.WithTimeout(ctx, e.config.LookupTimeout)
	defer cancel()

	geo, err := e.geo.Locate(lctx, ev.IPAddress)
	if err != nil {
		e.fail("geo_ip", ev, err)
		return nil
	}
	return geo
}

func (e *Enricher) parseDevice(ctx context.Context, ev *schema.Event) *DeviceInfo {
	lctx, cancel := context.WithTimeout(ctx, e.config.LookupTimeout)
	defer cancel()

	dev, err := e.device.Parse(lctx, ev.UserAgent)
	if err != nil {
		e.fail("user_agent", ev, err)
		return nil
	}
	return dev
}

func (e *Enricher) fail(step string, ev *schema.Event, err error) {
	e.logger.Warn("enrichment step failed",
		"step", step,
		"event_id", ev.ID.String(),
		"error", err)
	if e.recorder != nil {
		e.recorder.Record(errs.NewProcessingError("enrich", step, err))
	}
}
