package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// Example_basicUsage demonstrates recording admission decisions.
func Example_basicUsage() {
	registry := NewRegistry(prometheus.NewRegistry())

	registry.AdmissionRequests.WithLabelValues(TypeTokenBucket, "api").Add(10)
	registry.AdmissionAllowed.WithLabelValues(TypeTokenBucket, "api").Add(8)
	registry.AdmissionDenied.WithLabelValues(TypeTokenBucket, "api").Add(2)

	fmt.Println(testutil.ToFloat64(registry.AdmissionDenied.WithLabelValues(TypeTokenBucket, "api")))

	// Output: 2
}

// Example_customNamespace demonstrates namespace and constant labels.
func Example_customNamespace() {
	reg := prometheus.NewRegistry()
	registry := NewRegistryWithConfig(Config{
		Enabled:   true,
		Registry:  reg,
		Namespace: "edge",
		Labels:    prometheus.Labels{"region": "eu"},
	})

	registry.QueueLength.WithLabelValues(TypeLeakyBucket, "uploads").Set(3)

	families, _ := reg.Gather()
	for _, mf := range families {
		fmt.Println(mf.GetName(), mf.GetMetric()[0].GetLabel()[2].GetValue())
	}

	// Output: edge_admission_queue_length eu
}
