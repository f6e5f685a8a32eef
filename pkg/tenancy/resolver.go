package tenancy

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/medora-health/clinicore/pkg/apperr"
	"github.com/sirupsen/logrus"
)

// Source identifies where a tenant was resolved from
type Source string

const (
	SourceHeader  Source = "header"
	SourceQuery   Source = "query"
	SourceDomain  Source = "domain"
	SourceDefault Source = "default"
	SourceNone    Source = "none"
)

// ResolverConfig names the request inputs that carry a tenant
type ResolverConfig struct {
	HeaderName          string
	QueryParam          string
	ForwardedHostHeader string
	DefaultSlug         string
}

// DefaultResolverConfig returns the standard input names with no default slug
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		HeaderName:          "X-Tenant-Slug",
		QueryParam:          "tenant",
		ForwardedHostHeader: "X-Forwarded-Host",
	}
}

// Request holds the raw tenant inputs of one inbound request
type Request struct {
	HeaderSlug string
	QuerySlug  string
	Host       string
}

// Resolver derives exactly one ACTIVE tenant for a request or fails
type Resolver struct {
	store  Store
	config ResolverConfig
	logger logrus.FieldLogger
}

// NewResolver creates a tenant resolver
func NewResolver(store Store, config ResolverConfig, logger logrus.FieldLogger) *Resolver {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	config.DefaultSlug = NormalizeSlug(config.DefaultSlug)
	return &Resolver{store: store, config: config, logger: logger}
}

// Config returns the resolver's input names
func (r *Resolver) Config() ResolverConfig {
	return r.config
}

// Resolve returns the tenant for req and the source that produced it.
// Errors are apperr NotFound when no ACTIVE tenant matches and Internal on store failures.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Tenant, Source, error) {
	if slug := NormalizeSlug(req.HeaderSlug); slug != "" {
		t, err := r.bySlug(ctx, slug, SourceHeader)
		return t, SourceHeader, err
	}

	if slug := NormalizeSlug(req.QuerySlug); slug != "" {
		t, err := r.bySlug(ctx, slug, SourceQuery)
		return t, SourceQuery, err
	}

	if host := NormalizeHost(req.Host); host != "" {
		t, err := r.store.GetActiveByDomain(ctx, host)
		switch {
		case err == nil:
			return t, SourceDomain, nil
		case !errors.Is(err, ErrNotFound):
			return nil, SourceDomain, apperr.Internal("failed to resolve tenant", err)
		}
		r.logger.WithField("host", host).Debug("no tenant for host, using default slug")
	}

	if r.config.DefaultSlug == "" {
		return nil, SourceNone, apperr.NotFound("tenant could not be resolved")
	}
	t, err := r.bySlug(ctx, r.config.DefaultSlug, SourceDefault)
	return t, SourceDefault, err
}

func (r *Resolver) bySlug(ctx context.Context, slug string, source Source) (*Tenant, error) {
	t, err := r.store.GetActiveBySlug(ctx, slug)
	if errors.Is(err, ErrNotFound) {
		r.logger.WithFields(logrus.Fields{
			"tenant_slug": slug,
			"source":      source,
		}).Warn("tenant not found")
		return nil, apperr.NotFound("tenant not found")
	}
	if err != nil {
		return nil, apperr.Internal("failed to resolve tenant", err)
	}
	return t, nil
}

// NormalizeSlug trims and lower-cases a tenant slug
func NormalizeSlug(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// NormalizeHost lower-cases a host, keeps the first of a comma-separated
// forwarded list, and strips any port.
func NormalizeHost(raw string) string {
	if i := strings.IndexByte(raw, ','); i >= 0 {
		raw = raw[:i]
	}
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return ""
	}
	if h, _, err := net.SplitHostPort(raw); err == nil {
		return strings.TrimSpace(h)
	}
	return strings.TrimSuffix(raw, ".")
}
