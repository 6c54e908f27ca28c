package api

import (
	"testing"
	"time"

	"incidentdesk/internal/models"
)

func TestSendLimiterKeepsBucketBetweenSends(t *testing.T) {
	l := newSendLimiter(0.001, 1)
	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	caller := models.Ref{Role: models.RoleOperator, ID: 3}

	if !l.allow(caller) {
		t.Fatalf("first send should pass")
	}
	if _, ok := l.callers[caller]; !ok {
		t.Fatalf("expected limiter to be kept for %s", caller)
	}
	now = now.Add(time.Second)
	if l.allow(caller) {
		t.Fatalf("second send should be throttled")
	}
	if len(l.callers) != 1 {
		t.Fatalf("expected 1 tracked caller, got %d", len(l.callers))
	}
}

func TestSendLimiterForgetsIdleCallers(t *testing.T) {
	l := newSendLimiter(0.001, 1)
	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }
	idle := models.Ref{Role: models.RoleTechnician, ID: 7}
	active := models.Ref{Role: models.RoleAdmin, ID: 1}

	l.allow(idle)
	now = now.Add(limiterIdle + time.Minute)
	if !l.allow(active) {
		t.Fatalf("new caller should pass")
	}
	if _, ok := l.callers[idle]; ok {
		t.Fatalf("expected idle caller to be swept")
	}
	if _, ok := l.callers[active]; !ok {
		t.Fatalf("expected the new caller to survive the sweep")
	}
}
