package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestNewDomainMetrics_IsolatedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewDomainMetricsWithRegisterer(reg)

	m.RecordOrderCreated()
	m.RecordOrderCreated()
	m.RecordOrderTransition("pending")
	m.RecordReservation("insufficient")
	m.RecordStockMovement("sale")
	m.RecordTxConflict("orders.add_item")
	m.SetLowStockItems("org-1", 3)

	if got := testutil.ToFloat64(m.ordersCreated); got != 2 {
		t.Fatalf("expected 2 orders created, got %f", got)
	}
	if got := testutil.ToFloat64(m.orderTransitions.WithLabelValues("pending")); got != 1 {
		t.Fatalf("expected 1 pending transition, got %f", got)
	}
	if got := testutil.ToFloat64(m.reservations.WithLabelValues("insufficient")); got != 1 {
		t.Fatalf("expected 1 rejected reservation, got %f", got)
	}
	if got := testutil.ToFloat64(m.lowStockItems.WithLabelValues("org-1")); got != 3 {
		t.Fatalf("expected low stock gauge 3, got %f", got)
	}
}

func TestNewDomainMetrics_ReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first := NewDomainMetricsWithRegisterer(reg)
	second := NewDomainMetricsWithRegisterer(reg)

	first.RecordTxConflict("inventory.adjust")
	if got := testutil.ToFloat64(second.txConflicts.WithLabelValues("inventory.adjust")); got != 1 {
		t.Fatalf("expected shared collector, got %f", got)
	}
}

func TestRecordOperationDuration(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewDomainMetricsWithRegisterer(reg)

	m.RecordOperationDuration("orders.ship", nil, 20*time.Millisecond)
	m.RecordOperationDuration("orders.ship", errors.New("boom"), 5*time.Millisecond)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather failed: %v", err)
	}
	var hist *dto.MetricFamily
	for _, f := range families {
		if f.GetName() == "erp_operation_duration_seconds" {
			hist = f
		}
	}
	if hist == nil {
		t.Fatal("histogram not gathered")
	}
	if len(hist.GetMetric()) != 2 {
		t.Fatalf("expected ok and error series, got %d", len(hist.GetMetric()))
	}
}

func TestDomainMetrics_NilReceiver(t *testing.T) {
	var m *DomainMetrics
	m.RecordOrderCreated()
	m.RecordAuthAttempt("success")
	m.RecordOperationDuration("x", nil, time.Second)
}
