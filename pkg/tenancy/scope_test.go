package tenancy

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/medora-health/clinicore/pkg/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnterAndRelease(t *testing.T) {
	tenant := newTenant("north", "")
	before := ActiveScopes()

	ctx, release := Enter(context.Background(), tenant)
	assert.Equal(t, before+1, ActiveScopes())

	tc, ok := FromContext(ctx)
	require.True(t, ok)
	assert.Equal(t, tenant.ID, tc.TenantID)
	assert.Equal(t, "north", tc.Slug)

	release()
	release()

	_, ok = FromContext(ctx)
	assert.False(t, ok)
	assert.Equal(t, before, ActiveScopes())

	_, err := Require(ctx)
	assert.True(t, apperr.IsKind(err, apperr.KindNotFound))
}

func TestFromContextWithoutScope(t *testing.T) {
	_, ok := FromContext(context.Background())
	assert.False(t, ok)
}

func TestReleaseOnPanic(t *testing.T) {
	tenant := newTenant("north", "")
	var captured context.Context

	func() {
		defer func() { _ = recover() }()
		ctx, release := Enter(context.Background(), tenant)
		defer release()
		captured = ctx
		panic("handler failure")
	}()

	_, ok := FromContext(captured)
	assert.False(t, ok)
}

func TestConcurrentScopesAreIsolated(t *testing.T) {
	tenants := make([]*Tenant, 16)
	for i := range tenants {
		tenants[i] = newTenant(fmt.Sprintf("clinic-%d", i), "")
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(tenants)*50)

	for i := range tenants {
		for j := 0; j < 50; j++ {
			wg.Add(1)
			go func(tenant *Tenant) {
				defer wg.Done()
				ctx, release := Enter(context.Background(), tenant)
				defer release()

				tc, ok := FromContext(ctx)
				if !ok || tc.TenantID != tenant.ID || tc.Slug != tenant.Slug {
					errs <- fmt.Errorf("request for %s observed %+v", tenant.Slug, tc)
				}
			}(tenants[i])
		}
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
}
