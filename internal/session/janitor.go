package session

import (
	"context"
	"time"

	"github.com/mhollis/crmport/internal/domain"
	"github.com/mhollis/crmport/internal/staging"
)

// StartJanitor runs the TTL sweep in the background until ctx is cancelled.
// Sessions whose last update is older than the service TTL are destroyed,
// staging storage included.
func (s *Service) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.sweep(ctx)
			}
		}
	}()
}

// sweep destroys every expired session. Errors are logged and the sweep
// moves on; the next run retries whatever is left.
func (s *Service) sweep(ctx context.Context) {
	ids, err := staging.Sessions(s.baseDir)
	if err != nil {
		s.log.WithError(err).Warn("session sweep could not list sessions")
		return
	}
	cutoff := time.Now().UTC().Add(-s.ttl)
	for _, id := range ids {
		store, err := staging.Load(ctx, s.baseDir, id.String())
		if err != nil {
			continue
		}
		session, err := store.Session(ctx)
		if err != nil {
			_ = store.Close()
			continue
		}
		if session.UpdatedAt.After(cutoff) {
			_ = store.Close()
			continue
		}
		if session.Status == domain.SessionStatusImporting {
			// Never sweep a session mid-commit.
			_ = store.Close()
			continue
		}
		s.commits.Cancel(id)
		if err := store.Destroy(); err != nil {
			s.log.WithField("session", id).WithError(err).Warn("failed to destroy expired session")
			continue
		}
		s.log.WithField("session", id).Info("expired session destroyed")
	}
}
