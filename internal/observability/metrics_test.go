package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_CustomRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	m.TokensProcessed.WithLabelValues("approved").Inc()
	m.TokensProcessed.WithLabelValues("approved").Inc()
	m.TokensProcessed.WithLabelValues("rejected").Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.TokensProcessed.WithLabelValues("approved")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TokensProcessed.WithLabelValues("rejected")))

	families, err := reg.Gather()
	require.NoError(t, err)
	found := false
	for _, f := range families {
		if f.GetName() == "test_ingestion_tokens_processed_total" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestRecordHelpers(t *testing.T) {
	before := testutil.ToFloat64(DefaultMetrics.EventsMalformed)
	RecordMalformedEvent()
	assert.Equal(t, before+1, testutil.ToFloat64(DefaultMetrics.EventsMalformed))

	errsBefore := testutil.ToFloat64(DefaultMetrics.UpstreamErrors.WithLabelValues("helius", "getAsset"))
	RecordUpstreamCall("helius", "getAsset", time.Now(), errors.New("boom"))
	RecordUpstreamCall("helius", "getAsset", time.Now(), nil)
	assert.Equal(t, errsBefore+1, testutil.ToFloat64(DefaultMetrics.UpstreamErrors.WithLabelValues("helius", "getAsset")))
}

func TestHandler(t *testing.T) {
	RecordFeedMessage()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "token_sniffer_feed_messages_received_total"))
}
