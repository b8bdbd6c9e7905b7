package workerpool

import (
	"testing"

	"go.uber.org/goleak"
)

// TestMain fails the package if any worker goroutine outlives its pool.
func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}
