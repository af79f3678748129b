package metadata

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func installSpanRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(previous)
		_ = tp.Shutdown(context.Background())
	})
	return recorder
}

func spanAttr(span sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestExtractRecordsSpan(t *testing.T) {
	recorder := installSpanRecorder(t)

	f := &stubFetcher{status: http.StatusOK, body: `<meta property="og:title" content="Mug">`}
	newTestExtractor(f).Extract(context.Background(), productURL)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, "metadata.Extract", spans[0].Name())
	urlAttr, ok := spanAttr(spans[0], "url.full")
	require.True(t, ok)
	require.Equal(t, productURL, urlAttr.AsString())
	status, ok := spanAttr(spans[0], "http.response.status_code")
	require.True(t, ok)
	require.Equal(t, int64(http.StatusOK), status.AsInt64())
	empty, ok := spanAttr(spans[0], "scraper.empty")
	require.True(t, ok)
	require.False(t, empty.AsBool())
	require.Equal(t, codes.Unset, spans[0].Status().Code)
}

func TestExtractSpanMarksBadStatus(t *testing.T) {
	recorder := installSpanRecorder(t)

	f := &stubFetcher{status: http.StatusNotFound, body: `<title>Not found</title>`}
	newTestExtractor(f).Extract(context.Background(), productURL)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	require.Equal(t, codes.Error, spans[0].Status().Code)
	empty, ok := spanAttr(spans[0], "scraper.empty")
	require.True(t, ok)
	require.True(t, empty.AsBool())
}
