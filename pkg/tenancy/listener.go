package tenancy

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// ChangesChannel is the Postgres NOTIFY channel carrying IDs of updated or deleted tenants
const ChangesChannel = "tenant_changes"

const listenerPingInterval = 90 * time.Second

// ChangeListener evicts tenants from a CachedStore when Postgres reports a change
type ChangeListener struct {
	url    string
	cache  *CachedStore
	logger logrus.FieldLogger
}

// NewChangeListener creates a listener for the database at url
func NewChangeListener(url string, cache *CachedStore, logger logrus.FieldLogger) *ChangeListener {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ChangeListener{url: url, cache: cache, logger: logger}
}

// Run listens until ctx is canceled
func (l *ChangeListener) Run(ctx context.Context) error {
	listener := pq.NewListener(l.url, time.Second, time.Minute, l.event)
	defer listener.Close()

	if err := listener.Listen(ChangesChannel); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", ChangesChannel, err)
	}
	// Entries cached before LISTEN took effect may already be stale
	l.cache.Purge()

	ticker := time.NewTicker(listenerPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-listener.Notify:
			l.handle(n)
		case <-ticker.C:
			go func() {
				if err := listener.Ping(); err != nil {
					l.logger.WithError(err).Warn("Tenant change listener ping failed")
				}
			}()
		}
	}
}

// handle applies one notification. A nil notification means the connection
// was re-established and changes may have been missed.
func (l *ChangeListener) handle(n *pq.Notification) {
	if n == nil {
		l.logger.Info("Tenant change listener reconnected, purging tenant cache")
		l.cache.Purge()
		return
	}

	id, err := uuid.Parse(n.Extra)
	if err != nil {
		l.logger.WithField("payload", n.Extra).Warn("Malformed tenant change notification, purging tenant cache")
		l.cache.Purge()
		return
	}
	l.cache.InvalidateTenant(id)
}

func (l *ChangeListener) event(ev pq.ListenerEventType, err error) {
	if err != nil {
		l.logger.WithError(err).WithField("event", ev).Warn("Tenant change listener connection event")
	}
}
