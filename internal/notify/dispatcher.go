package notify

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"sentinel-ir/internal/alerting"
)

// Config holds dispatcher settings.
type Config struct {
	SendTimeout time.Duration `yaml:"send_timeout" json:"send_timeout"`
}

// DefaultConfig returns the default dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		SendTimeout: 10 * time.Second,
	}
}

// Dispatcher fans one alert out to every channel concurrently. Dispatch
// never returns an error to the caller; per-channel failures are logged and
// counted.
type Dispatcher struct {
	config   Config
	mu       sync.RWMutex
	channels []Channel
	logger   *slog.Logger
	wg       sync.WaitGroup

	sent   atomic.Uint64
	failed atomic.Uint64
}

// NewDispatcher creates a Dispatcher.
func NewDispatcher(cfg Config, channels ...Channel) *Dispatcher {
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = 10 * time.Second
	}
	return &Dispatcher{
		config:   cfg,
		channels: channels,
		logger:   slog.Default().With("component", "notify"),
	}
}

// AddChannel registers an additional channel.
func (d *Dispatcher) AddChannel(ch Channel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels = append(d.channels, ch)
}

// Dispatch sends the alert through every channel, one goroutine per channel.
func (d *Dispatcher) Dispatch(ctx context.Context, alert *alerting.Alert) {
	d.mu.RLock()
	channels := d.channels
	d.mu.RUnlock()

	for _, ch := range channels {
		d.wg.Add(1)
		go func(ch Channel) {
			defer d.wg.Done()

			sctx, cancel := context.WithTimeout(ctx, d.config.SendTimeout)
			defer cancel()

			if err := ch.Send(sctx, alert); err != nil {
				d.failed.Add(1)
				d.logger.Error("notification failed",
					"channel", ch.Name(),
					"alert_id", alert.ID.String(),
					"error", err)
				return
			}
			d.sent.Add(1)
		}(ch)
	}
}

// Wait blocks until in-flight notifications finish. Used on shutdown and in
// tests.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Stats returns delivery counters.
func (d *Dispatcher) Stats() map[string]interface{} {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return map[string]interface{}{
		"channels": len(d.channels),
		"sent":     d.sent.Load(),
		"failed":   d.failed.Load(),
	}
}
