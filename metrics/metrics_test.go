package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatherValue(t *testing.T, reg *prometheus.Registry, fqName string) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != fqName {
			continue
		}
		var total float64
		for _, m := range mf.GetMetric() {
			switch {
			case m.GetCounter() != nil:
				total += m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				total += m.GetGauge().GetValue()
			}
		}
		return total
	}
	t.Fatalf("metric %s not gathered", fqName)
	return 0
}

func withTestRegistry(t *testing.T) *prometheus.Registry {
	t.Helper()
	reg := prometheus.NewRegistry()
	SetRegisterer(reg)
	t.Cleanup(func() { SetRegisterer(prometheus.DefaultRegisterer) })
	return reg
}

func TestIncrCounterWithGroup(t *testing.T) {
	reg := withTestRegistry(t)

	IncrCounterWithGroup("rpc", "invoke_total", 1)
	IncrCounterWithGroup("rpc", "invoke_total", 2)

	assert.Equal(t, 3.0, gatherValue(t, reg, "rpc_invoke_total"))
}

func TestIncrCounterWithDimGroup(t *testing.T) {
	reg := withTestRegistry(t)

	dims := map[string]string{"api": "Echo"}
	IncrCounterWithDimGroup("rpc", "exception_reply_total", 1, dims)
	IncrCounterWithDimGroup("rpc", "exception_reply_total", 1, dims)
	IncrCounterWithDimGroup("rpc", "exception_reply_total", 1, map[string]string{"api": "Inc"})

	assert.Equal(t, 3.0, gatherValue(t, reg, "rpc_exception_reply_total"))
}

func TestUpdateGaugeWithGroup(t *testing.T) {
	reg := withTestRegistry(t)

	UpdateGaugeWithGroup("net", "current_connections", 5)
	UpdateGaugeWithGroup("net", "current_connections", 2)

	assert.Equal(t, 2.0, gatherValue(t, reg, "net_current_connections"))
}

func TestLazyRegistrationReuse(t *testing.T) {
	withTestRegistry(t)

	// same metric twice must reuse the collector, not panic on re-register
	assert.NotPanics(t, func() {
		IncrCounterWithGroup("net", "transport_start_total", 1)
		IncrCounterWithGroup("net", "transport_start_total", 1)
	})
}
