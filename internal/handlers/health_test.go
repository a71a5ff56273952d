package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	domain "github.com/cellstore/api/internal/domain"
)

type stubSystemService struct {
	reportFunc func(ctx context.Context) (domain.SystemHealthReport, error)
}

func (s *stubSystemService) HealthReport(ctx context.Context) (domain.SystemHealthReport, error) {
	if s.reportFunc == nil {
		return domain.SystemHealthReport{}, nil
	}
	return s.reportFunc(ctx)
}

func TestHealthzAlwaysOK(t *testing.T) {
	handler := NewHealthHandlers(nil)

	rr := httptest.NewRecorder()
	handler.Healthz(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}

	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload["status"] != "ok" {
		t.Fatalf("expected ok status, got %v", payload["status"])
	}
}

func TestReadyzReportsChecks(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	system := &stubSystemService{
		reportFunc: func(ctx context.Context) (domain.SystemHealthReport, error) {
			return domain.SystemHealthReport{
				Status:      domain.HealthStatusOK,
				Version:     "1.4.0",
				Environment: "production",
				Uptime:      90 * time.Second,
				Checks: map[string]domain.SystemHealthCheck{
					"firestore": {Status: domain.HealthStatusOK, Latency: 12 * time.Millisecond, CheckedAt: now},
				},
				GeneratedAt: now,
			}, nil
		},
	}

	handler := NewHealthHandlers(system)
	rr := httptest.NewRecorder()
	handler.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var payload healthReportPayload
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if payload.Status != "ok" || payload.Version != "1.4.0" {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if payload.Uptime != "1m30s" {
		t.Fatalf("expected uptime 1m30s, got %q", payload.Uptime)
	}
	check, ok := payload.Checks["firestore"]
	if !ok || check.LatencyMS != 12 {
		t.Fatalf("unexpected checks %+v", payload.Checks)
	}
}

func TestReadyzDegradedStaysReady(t *testing.T) {
	system := &stubSystemService{
		reportFunc: func(ctx context.Context) (domain.SystemHealthReport, error) {
			return domain.SystemHealthReport{Status: domain.HealthStatusDegraded}, nil
		},
	}

	handler := NewHealthHandlers(system)
	rr := httptest.NewRecorder()
	handler.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 for degraded, got %d", rr.Code)
	}
}

func TestReadyzErrorStatusUnready(t *testing.T) {
	system := &stubSystemService{
		reportFunc: func(ctx context.Context) (domain.SystemHealthReport, error) {
			return domain.SystemHealthReport{Status: domain.HealthStatusError}, nil
		},
	}

	handler := NewHealthHandlers(system)
	rr := httptest.NewRecorder()
	handler.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestReadyzReportFailure(t *testing.T) {
	system := &stubSystemService{
		reportFunc: func(ctx context.Context) (domain.SystemHealthReport, error) {
			return domain.SystemHealthReport{}, errors.New("probe failed")
		},
	}

	handler := NewHealthHandlers(system)
	rr := httptest.NewRecorder()
	handler.Readyz(rr, httptest.NewRequest(http.MethodGet, "/readyz", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}
