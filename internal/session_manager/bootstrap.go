package session_manager //nolint:revive // var-naming: using underscores for domain clarity

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/lewisedginton/group_tagger/pkg/logger"
)

// Bootstrap defaults.
const (
	DefaultMaxSessions     = 10
	DefaultConcurrency     = 5
	DefaultStagger         = 30 * time.Second
	DefaultRetryInterval   = 5 * time.Second
	DefaultBootstrapTenant = "bootstrap"
)

func (b BootstrapConfig) withDefaults() BootstrapConfig {
	if b.MaxSessions <= 0 {
		b.MaxSessions = DefaultMaxSessions
	}
	if b.Concurrency <= 0 {
		b.Concurrency = DefaultConcurrency
	}
	if b.Stagger < 0 {
		b.Stagger = 0
	}
	if b.RetryInterval <= 0 {
		b.RetryInterval = DefaultRetryInterval
	}
	if b.Tenant == "" {
		b.Tenant = DefaultBootstrapTenant
	}
	return b
}

// Bootstrap brings the registry up to MaxSessions. Sessions with a stored
// credential are restored first under their own ids; the remainder are new
// required sessions that will pair. No more than Concurrency sessions are in
// flight at once and consecutive creations are at least Stagger apart.
//
// Bootstrap returns once MaxSessions sessions are registered or ctx ends.
func (r *Registry) Bootstrap(ctx context.Context) error {
	cfg := r.cfg.Bootstrap.withDefaults()
	log := r.log.WithFields(
		logger.IntField("max_sessions", cfg.MaxSessions),
		logger.IntField("concurrency", cfg.Concurrency))

	pending, err := r.restorable(ctx)
	if err != nil {
		return err
	}
	log.Info("Bootstrapping sessions", logger.IntField("stored_credentials", len(pending)))

	limit := rate.Inf
	if cfg.Stagger > 0 {
		limit = rate.Every(cfg.Stagger)
	}
	limiter := rate.NewLimiter(limit, 1)

	created := 0
	for {
		total, inFlight := r.census()
		if total >= cfg.MaxSessions {
			if len(pending) > 0 {
				log.Info("Session capacity reached, remaining credentials left stored",
					logger.IntField("skipped", len(pending)))
			}
			break
		}

		if inFlight >= cfg.Concurrency {
			log.Debug("Bootstrap deferred, concurrency budget in use", logger.IntField("in_flight", inFlight))
			if err := sleepCtx(ctx, cfg.RetryInterval); err != nil {
				return err
			}
			continue
		}

		if err := limiter.Wait(ctx); err != nil {
			return err
		}
		// The wait may have been long; re-check the budget before spending it.
		if _, inFlight = r.census(); inFlight >= cfg.Concurrency {
			continue
		}

		if len(pending) > 0 {
			id := pending[0]
			pending = pending[1:]
			_, ok, err := r.spawn(ctx, id, r.restoreOptions(id, cfg.Tenant), 0, "")
			if err != nil {
				return err
			}
			if ok {
				created++
			}
			continue
		}

		if _, err := r.Create(ctx, CreateOptions{Tenant: cfg.Tenant, Required: true}); err != nil {
			return err
		}
		created++
	}

	log.Info("Bootstrap complete", logger.IntField("created", created))
	return nil
}

// Restore registers every session with a stored credential, without
// throttling. It returns how many sessions it started.
func (r *Registry) Restore(ctx context.Context) (int, error) {
	ids, err := r.restorable(ctx)
	if err != nil {
		return 0, err
	}
	tenant := r.cfg.Bootstrap.withDefaults().Tenant
	restored := 0
	for _, id := range ids {
		_, ok, err := r.spawn(ctx, id, r.restoreOptions(id, tenant), 0, "")
		if err != nil {
			return restored, err
		}
		if ok {
			restored++
		}
	}
	r.log.Info("Restored stored sessions", logger.IntField("sessions", restored))
	return restored, nil
}

// restorable lists stored credentials that are neither registered nor
// waiting to be recreated.
func (r *Registry) restorable(ctx context.Context) ([]string, error) {
	ids, err := r.auth.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list stored sessions: %w", err)
	}
	out := ids[:0]
	for _, id := range ids {
		if !r.known(id) {
			out = append(out, id)
		}
	}
	return out, nil
}

func (r *Registry) restoreOptions(id, fallbackTenant string) CreateOptions {
	if rec, ok := r.index.get(id); ok {
		return CreateOptions{Tenant: rec.Tenant, Required: rec.Required}
	}
	return CreateOptions{Tenant: fallbackTenant, Required: true}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
