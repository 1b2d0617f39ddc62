package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := Register(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := Register(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}
}

func TestObserveValidationLabels(t *testing.T) {
	before := testutil.ToFloat64(validationsTotal.WithLabelValues(OutcomeInvalid))
	ObserveValidation(false)
	after := testutil.ToFloat64(validationsTotal.WithLabelValues(OutcomeInvalid))
	if after != before+1 {
		t.Fatalf("expected invalid counter to increase by 1, got %v -> %v", before, after)
	}
}

func TestRecoveryInFlightGauge(t *testing.T) {
	base := testutil.ToFloat64(recoveriesInFlight)
	RecoveryStarted()
	if got := testutil.ToFloat64(recoveriesInFlight); got != base+1 {
		t.Fatalf("expected in-flight %v, got %v", base+1, got)
	}
	RecoveryFinished("rollback", "completed", -time.Second)
	if got := testutil.ToFloat64(recoveriesInFlight); got != base {
		t.Fatalf("expected in-flight %v, got %v", base, got)
	}
}
