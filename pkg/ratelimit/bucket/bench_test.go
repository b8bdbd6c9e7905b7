package bucket

import (
	"testing"
)

// mustNew creates a new limiter or panics on error (for benchmarks only)
func mustNew(config Config) Limiter {
	limiter, err := NewWithConfig(config)
	if err != nil {
		panic(err)
	}
	return limiter
}

// BenchmarkTryAdmit measures lazy-mode admission under contention.
func BenchmarkTryAdmit(b *testing.B) {
	limiter := mustNew(Config{Capacity: 1000, FillRate: 1000000, InitialTokens: -1})

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			limiter.TryAdmit()
		}
	})
}

// BenchmarkTryAdmitScheduled measures admission when refills happen elsewhere.
func BenchmarkTryAdmitScheduled(b *testing.B) {
	limiter := mustNew(Config{Capacity: 1000, FillRate: 1000000, Mode: Scheduled, InitialTokens: -1})

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if !limiter.TryAdmit() {
				limiter.Refill()
			}
		}
	})
}

// BenchmarkMetricsLimiter measures the decorator overhead.
func BenchmarkMetricsLimiter(b *testing.B) {
	limiter, err := NewWithMetrics(1000, 1000000, "bench")
	if err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		limiter.TryAdmit()
	}
}
