package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestResolve(t *testing.T) {
	if Resolve(Config{Enabled: true}) != DefaultRegistry {
		t.Error("nil registerer should resolve to DefaultRegistry")
	}

	reg := prometheus.NewRegistry()
	r := Resolve(Config{Enabled: true, Registry: reg})
	if r == DefaultRegistry {
		t.Fatal("custom registerer should produce a new registry")
	}

	r.Drained.WithLabelValues(TypeLeakyBucket, "q").Add(4)
	if got := testutil.ToFloat64(r.Drained.WithLabelValues(TypeLeakyBucket, "q")); got != 4 {
		t.Errorf("drained = %v, want 4", got)
	}
}

func TestRegistriesAreIsolated(t *testing.T) {
	a := NewRegistry(prometheus.NewRegistry())
	b := NewRegistry(prometheus.NewRegistry())

	a.AdmissionAllowed.WithLabelValues(TypeTokenBucket, "x").Inc()

	if got := testutil.ToFloat64(b.AdmissionAllowed.WithLabelValues(TypeTokenBucket, "x")); got != 0 {
		t.Errorf("registry b observed %v, want 0", got)
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.Enabled || cfg.Namespace != DefaultNamespace || cfg.Registry == nil {
		t.Errorf("unexpected default config: %+v", cfg)
	}
}
