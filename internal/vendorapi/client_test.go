package vendorapi

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/transform"
)

func testConfig(baseURL string) Config {
	return Config{
		BaseURL:      baseURL,
		AdminCode:    "acme",
		Password:     "secret",
		PageSize:     30,
		CallInterval: 30 * time.Millisecond,
		Timeout:      2 * time.Second,
		RetryCount:   3,
	}
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

func ordersPage(count, totPage int) string {
	body := fmt.Sprintf(`<?xml version="1.0" encoding="euc-kr"?><xml><SelecCnt>%d</SelecCnt><TotPage>%d</TotPage>`, count, totPage)
	for i := 0; i < count; i++ {
		body += fmt.Sprintf(`<info><Sl_No>SL%04d</Sl_No><Jname>김주문</Jname><bAmt>2,500</bAmt>
			<GoodsInfo><Gcode>G1</Gcode><Gname>스트랩</Gname><Gqty>1</Gqty><gongAmt>1500</gongAmt><panAmt>2000</panAmt></GoodsInfo>
		</info>`, i)
	}
	return body + `</xml>`
}

func TestPaginationTerminatesAfterLastPage(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "jumun", r.URL.Query().Get("mode"))
		assert.Equal(t, "30", r.URL.Query().Get("onePageCnt"))

		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		switch page {
		case 1, 2:
			_, _ = w.Write(eucKR(t, ordersPage(30, 3)))
		case 3:
			_, _ = w.Write(eucKR(t, ordersPage(5, 3)))
		default:
			_, _ = w.Write(eucKR(t, ordersPage(0, 3)))
		}
	}))
	defer srv.Close()

	client := New(testConfig(srv.URL), zap.NewNop())
	start := time.Now()

	var total int
	iter := client.Orders(Params{StartDate: time.Now().AddDate(0, 0, -7), EndDate: time.Now()})
	for {
		records, ok, err := iter.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			break
		}
		assert.LessOrEqual(t, len(records), 30)
		total += len(records)
	}

	assert.Equal(t, 65, total)
	assert.Equal(t, int64(3), calls.Load())
	// Two inter-call gaps at the configured interval.
	assert.GreaterOrEqual(t, time.Since(start), 2*client.cfg.CallInterval)

	stats := client.Stats()
	assert.Equal(t, int64(3), stats.TotalRequests)
	assert.Equal(t, int64(0), stats.FailedRequests)
}

func TestEmptyFirstPageIsTerminalNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(eucKR(t, ordersPage(0, 0)))
	}))
	defer srv.Close()

	client := New(testConfig(srv.URL), zap.NewNop())
	iter := client.Orders(Params{})

	records, ok, err := iter.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, records)

	// Exhausted iterators stay exhausted until reset.
	_, ok, err = iter.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	iter.Reset()
	_, ok, err = iter.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEUCKRBodyYieldsUTF8Strings(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml; charset=ks_c_5601-1987")
		_, _ = w.Write(eucKR(t, ordersPage(1, 1)))
	}))
	defer srv.Close()

	client := New(testConfig(srv.URL), zap.NewNop())
	records, ok, err := client.Orders(Params{}).Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, records, 1)

	assert.Equal(t, "김주문", records[0].BuyerName)
	require.Len(t, records[0].Goods, 1)
	assert.Equal(t, "스트랩", records[0].Goods[0].Name)
	assert.Equal(t, Int(1500), records[0].Goods[0].SupplyPrice)
	// Thousands separator stripped by tolerant parsing.
	assert.Equal(t, Int(2500), records[0].DeliveryFee)
}

func TestUTF8FallbackWhenEUCKRDecodeFails(t *testing.T) {
	// A body with a UTF-8 only codepoint that is invalid EUC-KR.
	body := `<?xml version="1.0"?><xml><SelecCnt>1</SelecCnt><TotPage>1</TotPage><info><Code>A</Code><Name>테스트✓</Name></info></xml>`
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	client := New(testConfig(srv.URL), zap.NewNop())
	records, ok, err := client.Codes(ModeBrands).Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, records, 1)
	assert.Equal(t, "테스트✓", records[0].Name)
}

func TestRetryThenRecoverCountsOneCall(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			// Drop the connection to force a transport error.
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, _, err := hj.Hijack()
			require.NoError(t, err)
			_ = conn.Close()
			return
		}
		_, _ = w.Write(eucKR(t, ordersPage(1, 1)))
	}))
	defer srv.Close()

	client := New(testConfig(srv.URL), zap.NewNop())
	start := time.Now()
	records, ok, err := client.Orders(Params{}).Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, records, 1)

	// Backoff before attempt 2 is 2^1 x interval.
	assert.GreaterOrEqual(t, time.Since(start), 2*client.cfg.CallInterval)

	stats := client.Stats()
	assert.Equal(t, int64(1), stats.TotalRequests)
	assert.Equal(t, int64(0), stats.FailedRequests)
}

func TestRetriesExhaustedMarksTransportFailure(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.RetryCount = 2
	client := New(cfg, zap.NewNop())

	_, _, err := client.Orders(Params{}).Next(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransport)
	assert.Equal(t, int64(3), calls.Load())

	stats := client.Stats()
	assert.Equal(t, int64(1), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.FailedRequests)
}

func TestMalformedXMLFailsFastWithoutRetry(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`<xml><SelecCnt>1</SelecCnt><info></xml>`))
	}))
	defer srv.Close()

	client := New(testConfig(srv.URL), zap.NewNop())
	_, _, err := client.Orders(Params{}).Next(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocol)
	assert.Equal(t, int64(1), calls.Load())

	stats := client.Stats()
	assert.Equal(t, int64(1), stats.FailedRequests)
}

func TestAuthErrorSurfacesFromErrorElement(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(eucKR(t, `<xml><Error>admin_code 또는 비밀번호가 올바르지 않습니다</Error></xml>`))
	}))
	defer srv.Close()

	client := New(testConfig(srv.URL), zap.NewNop())
	ok, detail := client.TestConnection(context.Background())
	assert.False(t, ok)
	assert.Contains(t, detail, "vendor_auth")
}

func TestPageSizeIsCappedAtThirty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "30", r.URL.Query().Get("onePageCnt"))
		_, _ = w.Write(eucKR(t, ordersPage(0, 0)))
	}))
	defer srv.Close()

	cfg := testConfig(srv.URL)
	cfg.PageSize = 500
	client := New(cfg, zap.NewNop())
	_, _, err := client.Orders(Params{}).Next(context.Background())
	require.NoError(t, err)
}

func TestDateWindowAndMutationFlag(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "20260801", q.Get("sDate"))
		assert.Equal(t, "20260829", q.Get("eDate"))
		assert.Equal(t, "m", q.Get("datetype"))
		assert.Equal(t, "acme", q.Get("admin_code"))
		assert.Equal(t, "secret", q.Get("pwd"))
		_, _ = w.Write(eucKR(t, ordersPage(0, 0)))
	}))
	defer srv.Close()

	client := New(testConfig(srv.URL), zap.NewNop())
	params := Params{
		StartDate:      time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		EndDate:        time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC),
		ByMutationDate: true,
	}
	_, _, err := client.Orders(params).Next(context.Background())
	require.NoError(t, err)
}

func TestTolerantIntParsing(t *testing.T) {
	cases := map[string]int64{
		"1500":    1500,
		"1,500":   1500,
		" 2500 ":  2500,
		"-300":    -300,
		"abc":     0,
		"":        0,
		"12원":     12,
		"1 000":   1000,
	}
	for raw, want := range cases {
		assert.Equal(t, want, tolerantInt(raw), "raw=%q", raw)
	}
}
