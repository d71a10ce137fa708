// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestCheckerHealthy(t *testing.T) {
	c := NewChecker(time.Minute)
	c.Register("alpha", func(ctx context.Context) error { return nil })
	c.Register("beta", func(ctx context.Context) error { return nil })

	status, checks := c.Health(context.Background())
	if status != StatusHealthy {
		t.Errorf("expected healthy, got %v", status)
	}
	if len(checks) != 2 {
		t.Errorf("expected 2 checks, got %d", len(checks))
	}
	for _, check := range checks {
		if check.Status != StatusHealthy {
			t.Errorf("check %s not healthy: %v", check.Name, check.Status)
		}
	}
}

func TestCheckerDegraded(t *testing.T) {
	c := NewChecker(time.Minute)
	c.Register("good", func(ctx context.Context) error { return nil })
	c.Register("bad", func(ctx context.Context) error { return errors.New("disk full") })

	status, checks := c.Health(context.Background())
	if status != StatusDegraded {
		t.Errorf("expected degraded, got %v", status)
	}

	for _, check := range checks {
		if check.Name == "bad" {
			if check.Status != StatusUnhealthy {
				t.Errorf("expected unhealthy, got %v", check.Status)
			}
			if check.Message != "disk full" {
				t.Errorf("expected failure message, got %q", check.Message)
			}
		}
	}
}

func TestCheckerCachesResults(t *testing.T) {
	c := NewChecker(time.Minute)

	runs := 0
	c.Register("counted", func(ctx context.Context) error {
		runs++
		return nil
	})

	c.Health(context.Background())
	c.Health(context.Background())

	if runs != 1 {
		t.Errorf("expected cached second run, check ran %d times", runs)
	}
}

func TestHTTPHandler(t *testing.T) {
	c := NewChecker(time.Minute)
	c.Register("bad", func(ctx context.Context) error { return errors.New("down") })

	rec := httptest.NewRecorder()
	c.HTTPHandler()(rec, httptest.NewRequest("GET", "/health", nil))

	// Degraded still serves traffic
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	var body struct {
		Status        Status  `json:"status"`
		Checks        []Check `json:"checks"`
		UptimeSeconds *int64  `json:"uptime_seconds"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body.Status != StatusDegraded {
		t.Errorf("expected degraded, got %v", body.Status)
	}
	if len(body.Checks) != 1 {
		t.Errorf("expected 1 check, got %d", len(body.Checks))
	}
	if body.UptimeSeconds == nil {
		t.Error("expected uptime_seconds in response")
	}
}

func TestReadinessHandler(t *testing.T) {
	c := NewChecker(time.Minute)
	c.Register("bad", func(ctx context.Context) error { return errors.New("down") })

	rec := httptest.NewRecorder()
	c.ReadinessHandler()(rec, httptest.NewRequest("GET", "/ready", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503 for degraded readiness, got %d", rec.Code)
	}
}

func TestLivenessHandler(t *testing.T) {
	rec := httptest.NewRecorder()
	LivenessHandler()(rec, httptest.NewRequest("GET", "/live", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if body["status"] != "alive" {
		t.Errorf("expected alive status, got %q", body["status"])
	}
}
