package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestScopedAPI(t *testing.T) {
	recorder := NewRecorder()
	scoped := NewScopedAPI("ireps", NewScopedAPI("login", recorder))

	scoped.ReportBroken("orchestrator.run", "boom")
	scoped.ReportWarning("orchestrator.verify")
	scoped.ReportCount("attempts", 2)

	reports := recorder.Reports()
	require.Len(t, reports, 3)
	require.Equal(t, "login.ireps.orchestrator.run", reports[0].Id)
	require.Equal(t, []any{"boom"}, reports[0].Params)
	require.Equal(t, int64(2), reports[2].Count)

	require.True(t, recorder.Has(KIND_WARNING, "orchestrator.verify"))
	require.False(t, recorder.Has(KIND_BROKEN, "orchestrator.verify"))
}

func TestSlogAttrs(t *testing.T) {
	attrs := SlogAPI{}.attrs("store.save", []any{errors.New("disk full"), "data.json", errors.New("second")})
	require.Equal(t, []any{"id", "store.save", "err", "disk full", "p1", "data.json", "p2", "second"}, attrs)
}

func TestMeteredAPI(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	recorder := NewRecorder()
	api, err := NewMeteredAPI(recorder, provider.Meter("test"))
	require.NoError(t, err)

	api.ReportWarning("store.load")
	api.ReportWarning("store.load")
	api.ReportBroken("store.save")
	api.ReportCount("detector.new", 4)
	require.Len(t, recorder.Reports(), 4)

	var collected metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &collected))

	totals := map[string]int64{}
	for _, scope := range collected.ScopeMetrics {
		for _, m := range scope.Metrics {
			switch data := m.Data.(type) {
			case metricdata.Sum[int64]:
				for _, point := range data.DataPoints {
					totals[m.Name] += point.Value
				}
			case metricdata.Gauge[int64]:
				for _, point := range data.DataPoints {
					totals[m.Name] = point.Value
				}
			}
		}
	}
	require.Equal(t, int64(3), totals["ireps_reports_total"])
	require.Equal(t, int64(4), totals["ireps_count"])
}

func TestInstrumentResty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/broken" {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	recorder := NewRecorder()
	client := resty.New().SetBaseURL(server.URL)
	InstrumentResty(client, recorder)

	_, err := client.R().Get("/ok")
	require.NoError(t, err)
	require.False(t, recorder.Has(KIND_WARNING, report_resty_response))

	_, err = client.R().Get("/broken")
	require.NoError(t, err)
	require.True(t, recorder.Has(KIND_WARNING, report_resty_response))
}
