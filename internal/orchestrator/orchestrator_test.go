package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/transform"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	classifierrepo "github.com/smallbiznis/erpsync/internal/classifier/repository"
	classifiersvc "github.com/smallbiznis/erpsync/internal/classifier/service"
	"github.com/smallbiznis/erpsync/internal/clock"
	"github.com/smallbiznis/erpsync/internal/config"
	classifierdomain "github.com/smallbiznis/erpsync/internal/classifier/domain"
	syncdomain "github.com/smallbiznis/erpsync/internal/sync/domain"
	syncrepo "github.com/smallbiznis/erpsync/internal/sync/repository"
	tenantdomain "github.com/smallbiznis/erpsync/internal/tenant/domain"
	tenantrepo "github.com/smallbiznis/erpsync/internal/tenant/repository"
	tenantsvc "github.com/smallbiznis/erpsync/internal/tenant/service"
)

type fixture struct {
	svc     *Service
	db      *gorm.DB
	clk     *clock.FakeClock
	tenants tenantdomain.Service
	tenant  *tenantdomain.Tenant
}

func eucKR(t *testing.T, utf string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := transform.NewWriter(&buf, korean.EUCKR.NewEncoder())
	_, err := w.Write([]byte(utf))
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func newFixture(t *testing.T, baseURL string) *fixture {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&tenantdomain.Tenant{},
		&classifierdomain.ClassificationRule{},
		&syncdomain.VendorOrderHeader{},
		&syncdomain.VendorOrderLine{},
		&syncdomain.VendorCustomer{},
		&syncdomain.VendorProduct{},
		&syncdomain.VendorStock{},
		&syncdomain.ExecutionResult{},
		&syncdomain.ClassificationLogEntry{},
	))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	clk := clock.NewFakeClock(time.Date(2026, 8, 1, 2, 0, 0, 0, time.UTC))
	log := zap.NewNop()

	tenants := tenantsvc.New(tenantsvc.Params{
		DB: db, Log: log, GenID: node, Repo: tenantrepo.Provide(),
	})
	tenant, err := tenants.Create(context.Background(), tenantdomain.CreateRequest{
		Code:      "acme",
		Name:      "Acme Baby",
		AdminCode: "acme",
		Password:  "secret",
	})
	require.NoError(t, err)

	sr := syncrepo.Provide(node, clk)
	classifier := classifiersvc.New(classifiersvc.Params{
		DB:       db,
		Log:      log,
		GenID:    node,
		Clock:    clk,
		Rules:    config.NewStaticRuleConfigHolder(config.DefaultRuleConfig()),
		Repo:     classifierrepo.Provide(),
		SyncRepo: sr,
	})

	cfg := config.Config{
		Vendor: config.VendorConfig{
			BaseURL:      baseURL,
			PageSize:     30,
			CallInterval: 2 * time.Millisecond,
			Timeout:      2 * time.Second,
			RetryCount:   1,
		},
	}
	svc := New(Params{
		Config:     cfg,
		DB:         db,
		Log:        log,
		Clock:      clk,
		Tenants:    tenants,
		SyncRepo:   sr,
		Classifier: classifier,
	})
	return &fixture{svc: svc, db: db, clk: clk, tenants: tenants, tenant: tenant}
}

// vendorStub serves one page per mode.
func vendorStub(t *testing.T, failModes map[string]bool) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mode := r.URL.Query().Get("mode")
		if failModes[mode] {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		var body string
		switch mode {
		case "cust":
			body = `<xml><SelecCnt>2</SelecCnt><TotPage>1</TotPage>
				<info><Ccode>C1</Ccode><Cname>맘스마트</Cname><Hp>010-1111-2222</Hp><UseYn>Y</UseYn></info>
				<info><Ccode>C2</Ccode><Cname>베이비샵</Cname><Tel>02-555-0000</Tel><UseYn>Y</UseYn></info>
			</xml>`
		case "jegoAll":
			body = `<xml><SelecCnt>1</SelecCnt><TotPage>1</TotPage>
				<info><Gcode>G1</Gcode><Gname>유모차</Gname><ChanggoCode>W1</ChanggoCode><Jego>7</Jego><BadJego>1</BadJego></info>
			</xml>`
		case "goods":
			body = `<xml><SelecCnt>2</SelecCnt><TotPage>1</TotPage>
				<info><Gcode>G1</Gcode><Gname>유모차</Gname><inPrice>250000</inPrice><outPrice>390000</outPrice><brandName>기타</brandName></info>
				<info><Gcode>G2</Gcode><Gname>스트랩</Gname><inPrice>1500</inPrice><outPrice>2000</outPrice><brandName>기타</brandName></info>
			</xml>`
		case "jumun":
			body = `<xml><SelecCnt>2</SelecCnt><TotPage>1</TotPage>
				<info><Sl_No>SL1</Sl_No><Jname>김주문</Jname><jDate>20260730</jDate><jTime>11:22:33</jTime>
					<GoodsInfo><Gcode>G1</Gcode><Gname>유모차</Gname><Gqty>1</Gqty><gongAmt>250000</gongAmt><panAmt>390000</panAmt><brandName>기타</brandName></GoodsInfo>
					<GoodsInfo><Gcode>G2</Gcode><Gname>스트랩 사은품</Gname><Gqty>1</Gqty><gongAmt>1500</gongAmt><panAmt>2000</panAmt><brandName>기타</brandName></GoodsInfo>
				</info>
				<info><Sl_No>SL2</Sl_No><Jname>박주문</Jname><jDate>20260731</jDate>
					<GoodsInfo><Gcode>G3</Gcode><Gname>샘플 파우치</Gname><Gqty>1</Gqty><gongAmt>0</gongAmt><panAmt>0</panAmt></GoodsInfo>
				</info>
			</xml>`
		default:
			body = `<xml><SelecCnt>0</SelecCnt><TotPage>0</TotPage></xml>`
		}
		_, _ = w.Write(eucKR(t, body))
	}))
}

func TestRunExecutesAllStepsInOrder(t *testing.T) {
	srv := vendorStub(t, nil)
	defer srv.Close()
	fx := newFixture(t, srv.URL)

	exec, err := fx.svc.Run(context.Background(), RunRequest{TenantID: fx.tenant.ID})
	require.NoError(t, err)
	assert.Equal(t, syncdomain.ExecutionSuccess, exec.Status)
	require.NotNil(t, exec.FinishedAt)

	var steps []syncdomain.StepResult
	require.NoError(t, json.Unmarshal(exec.Steps, &steps))
	require.Len(t, steps, 4)
	assert.Equal(t, "customers", steps[0].Step)
	assert.Equal(t, "stock", steps[1].Step)
	assert.Equal(t, "goods", steps[2].Step)
	assert.Equal(t, "sales", steps[3].Step)
	for _, sr := range steps {
		assert.Equal(t, string(syncdomain.ExecutionSuccess), sr.Status)
	}

	// Sales step classified one keyword gift and one zero-price gift.
	assert.Equal(t, 2, steps[3].Gifts)
	assert.Equal(t, 1, steps[3].Merchandise)

	var gift syncdomain.VendorOrderLine
	require.NoError(t, fx.db.Raw(
		`SELECT kind, is_revenue, gift_type, revenue_impact FROM vendor_order_lines
		 WHERE tenant_id = ? AND sl_no = ? AND line_seq = 2`,
		fx.tenant.ID, "SL1",
	).Scan(&gift).Error)
	assert.Equal(t, syncdomain.KindGift, gift.Kind)
	assert.False(t, gift.IsRevenue)
	assert.Equal(t, syncdomain.GiftTypeKeyword, gift.GiftType)
	assert.Equal(t, int64(0), gift.RevenueImpact)

	var merch syncdomain.VendorOrderLine
	require.NoError(t, fx.db.Raw(
		`SELECT kind, revenue_impact FROM vendor_order_lines
		 WHERE tenant_id = ? AND sl_no = ? AND line_seq = 1`,
		fx.tenant.ID, "SL1",
	).Scan(&merch).Error)
	assert.Equal(t, syncdomain.KindMerchandise, merch.Kind)
	assert.Equal(t, int64(250000), merch.RevenueImpact)

	var auditRows int64
	require.NoError(t, fx.db.Raw(`SELECT COUNT(*) FROM classification_log`).Scan(&auditRows).Error)
	assert.Equal(t, int64(3), auditRows)
}

func TestRerunIsIdempotent(t *testing.T) {
	srv := vendorStub(t, nil)
	defer srv.Close()
	fx := newFixture(t, srv.URL)
	ctx := context.Background()

	first, err := fx.svc.Run(ctx, RunRequest{TenantID: fx.tenant.ID})
	require.NoError(t, err)
	require.Equal(t, syncdomain.ExecutionSuccess, first.Status)

	second, err := fx.svc.Run(ctx, RunRequest{TenantID: fx.tenant.ID})
	require.NoError(t, err)
	require.Equal(t, syncdomain.ExecutionSuccess, second.Status)

	var steps []syncdomain.StepResult
	require.NoError(t, json.Unmarshal(second.Steps, &steps))
	for _, sr := range steps {
		assert.Zero(t, sr.Inserted, "step %s inserted on re-run", sr.Step)
	}

	var headers, lines int64
	require.NoError(t, fx.db.Raw(`SELECT COUNT(*) FROM vendor_order_headers`).Scan(&headers).Error)
	require.NoError(t, fx.db.Raw(`SELECT COUNT(*) FROM vendor_order_lines`).Scan(&lines).Error)
	assert.Equal(t, int64(2), headers)
	assert.Equal(t, int64(3), lines)
}

func TestStepFailureIsContained(t *testing.T) {
	srv := vendorStub(t, map[string]bool{"cust": true})
	defer srv.Close()
	fx := newFixture(t, srv.URL)

	exec, err := fx.svc.Run(context.Background(), RunRequest{TenantID: fx.tenant.ID})
	require.NoError(t, err)
	assert.Equal(t, syncdomain.ExecutionFailed, exec.Status)
	assert.Equal(t, "transport", exec.ErrorKind)

	var steps []syncdomain.StepResult
	require.NoError(t, json.Unmarshal(exec.Steps, &steps))
	require.Len(t, steps, 4)
	assert.Equal(t, string(syncdomain.ExecutionFailed), steps[0].Status)
	for _, sr := range steps[1:] {
		assert.Equal(t, string(syncdomain.ExecutionSuccess), sr.Status, "step %s", sr.Step)
	}

	// Later steps still landed their data.
	var products int64
	require.NoError(t, fx.db.Raw(`SELECT COUNT(*) FROM vendor_products`).Scan(&products).Error)
	assert.Equal(t, int64(2), products)
}

func TestStepsOverrideLimitsRun(t *testing.T) {
	srv := vendorStub(t, nil)
	defer srv.Close()
	fx := newFixture(t, srv.URL)

	exec, err := fx.svc.Run(context.Background(), RunRequest{
		TenantID: fx.tenant.ID,
		Steps:    []tenantdomain.Step{tenantdomain.StepGoods},
	})
	require.NoError(t, err)
	assert.Equal(t, syncdomain.ExecutionSuccess, exec.Status)

	var steps []syncdomain.StepResult
	require.NoError(t, json.Unmarshal(exec.Steps, &steps))
	require.Len(t, steps, 1)
	assert.Equal(t, "goods", steps[0].Step)

	var customers int64
	require.NoError(t, fx.db.Raw(`SELECT COUNT(*) FROM vendor_customers`).Scan(&customers).Error)
	assert.Zero(t, customers)
}

func TestDefaultWindowIsFourMonths(t *testing.T) {
	var sDate, eDate string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("mode") == "jumun" {
			sDate = r.URL.Query().Get("sDate")
			eDate = r.URL.Query().Get("eDate")
		}
		_, _ = w.Write([]byte(`<xml><SelecCnt>0</SelecCnt><TotPage>0</TotPage></xml>`))
	}))
	defer srv.Close()
	fx := newFixture(t, srv.URL)

	_, err := fx.svc.Run(context.Background(), RunRequest{
		TenantID: fx.tenant.ID,
		Steps:    []tenantdomain.Step{tenantdomain.StepSales},
	})
	require.NoError(t, err)

	assert.Equal(t, "20260403", sDate) // 2026-08-01 minus 120 days
	assert.Equal(t, "20260801", eDate)
}
