package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistersAllMetrics(t *testing.T) {
	m := New()
	families, err := m.Gatherer().Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestRecordAuthIncrementsLabeledCounter(t *testing.T) {
	m := New()
	m.RecordAuth("session", true)
	m.RecordAuth("legacy-token", false)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.AuthDecisions.WithLabelValues("session", "allow")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.AuthDecisions.WithLabelValues("legacy-token", "deny")))
}
