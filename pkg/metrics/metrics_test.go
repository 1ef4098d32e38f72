package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/jihwankim/nas-emu-fuse/pkg/fault"
)

func TestObserveCountsHitsAndFaults(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := New(Config{RunID: "test", Registry: reg})

	e.Observe(fault.OpWrite, fault.ActionPass)
	e.Observe(fault.OpWrite, fault.ActionFail)
	e.Observe(fault.OpRead, fault.ActionMutate)

	if got := testutil.ToFloat64(e.hits.WithLabelValues("write")); got != 2 {
		t.Fatalf("expected 2 write hits, got %v", got)
	}
	if got := testutil.ToFloat64(e.faults.WithLabelValues("write", "FAIL")); got != 1 {
		t.Fatalf("expected 1 write FAIL fault, got %v", got)
	}
	if got := testutil.ToFloat64(e.faults.WithLabelValues("read", "MUTATE")); got != 1 {
		t.Fatalf("expected 1 read MUTATE fault, got %v", got)
	}

	// PASS decisions count as hits only.
	if got := testutil.ToFloat64(e.faults.WithLabelValues("write", "PASS")); got != 0 {
		t.Fatalf("PASS should not count as a fault, got %v", got)
	}
}
