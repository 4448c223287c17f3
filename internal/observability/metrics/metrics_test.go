package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric/noop"
)

func TestFilterAttributesDropsForbiddenLabels(t *testing.T) {
	attrs := FilterAttributes(
		attribute.String("gateway", "stripe"),
		attribute.String("user_id", "456"),
		attribute.String("status", "SUCCEEDED"),
	)
	require.Len(t, attrs, 2)
	keys := []attribute.Key{attrs[0].Key, attrs[1].Key}
	assert.Contains(t, keys, attribute.Key("gateway"))
	assert.Contains(t, keys, attribute.Key("status"))
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordPayment(context.Background(), "wallet", "SUCCEEDED")
		m.RecordCartMerge(context.Background(), "sum", 1)
	})
}

func TestNew_WithNoopProvider(t *testing.T) {
	m, err := New(Config{ServiceName: "storefront"}, noop.NewMeterProvider())
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		m.RecordPayment(context.Background(), "wallet", "SUCCEEDED")
		m.RecordWalletDebit(context.Background(), "USD")
		m.RecordCartMerge(context.Background(), "keep_user", 0)
		m.RecordProductSync(context.Background(), "ok")
	})
}
