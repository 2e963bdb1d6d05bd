package control

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/erpsync/internal/scheduler"
	syncdomain "github.com/smallbiznis/erpsync/internal/sync/domain"
	tenantdomain "github.com/smallbiznis/erpsync/internal/tenant/domain"
	"github.com/smallbiznis/erpsync/internal/vendorapi"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubTenants struct {
	tenantdomain.Service

	getByID func(ctx context.Context, id snowflake.ID) (*tenantdomain.Tenant, error)
}

func (s *stubTenants) GetByID(ctx context.Context, id snowflake.ID) (*tenantdomain.Tenant, error) {
	return s.getByID(ctx, id)
}

func TestClassifyMapsSentinelsToKinds(t *testing.T) {
	cases := []struct {
		err  error
		kind string
	}{
		{tenantdomain.ErrNotFound, KindNotFound},
		{scheduler.ErrJobNotFound, KindNotFound},
		{tenantdomain.ErrDuplicateCode, KindConflict},
		{tenantdomain.ErrInvalidID, KindInvalidRequest},
		{scheduler.ErrBadCronSpec, KindInvalidRequest},
		{syncdomain.WrapPersistence("upsert", errors.New("boom")), KindPersistence},
		{vendorapi.ErrAuth, "auth"},
		{vendorapi.ErrTransport, "transport"},
		{vendorapi.ErrProtocol, "protocol"},
		{errors.New("surprise"), KindInternal},
	}
	for _, tc := range cases {
		require.Equal(t, tc.kind, classify(tc.err), "error %v", tc.err)
	}
}

func TestParseWindow(t *testing.T) {
	w, err := parseWindow("", "")
	require.NoError(t, err)
	require.True(t, w.Start.IsZero())

	w, err = parseWindow("2026-08-01", "2026-08-29")
	require.NoError(t, err)
	require.Equal(t, "2026-08-01", w.Start.Format(windowDateLayout))
	require.Equal(t, "2026-08-29", w.End.Format(windowDateLayout))

	_, err = parseWindow("2026-08-01", "")
	require.Error(t, err)

	_, err = parseWindow("2026-08-29", "2026-08-01")
	require.Error(t, err)

	_, err = parseWindow("20260801", "20260829")
	require.Error(t, err)
}

func TestGetTenantWrapsDomainErrors(t *testing.T) {
	svc := &Service{
		log: zap.NewNop(),
		tenants: &stubTenants{getByID: func(context.Context, snowflake.ID) (*tenantdomain.Tenant, error) {
			return nil, tenantdomain.ErrNotFound
		}},
	}

	res := svc.GetTenant(context.Background(), "not-a-snowflake")
	require.False(t, res.OK)
	require.Equal(t, KindInvalidRequest, res.Error.Kind)

	res = svc.GetTenant(context.Background(), "1234567890123456789")
	require.False(t, res.OK)
	require.Equal(t, KindNotFound, res.Error.Kind)
}

func TestPanicsBecomeInternalErrors(t *testing.T) {
	svc := &Service{
		log: zap.NewNop(),
		tenants: &stubTenants{getByID: func(context.Context, snowflake.ID) (*tenantdomain.Tenant, error) {
			panic("handler bug")
		}},
	}

	res := svc.GetTenant(context.Background(), "1234567890123456789")
	require.False(t, res.OK)
	require.Equal(t, KindInternal, res.Error.Kind)
	require.Equal(t, "internal error", res.Error.Message)
}
