package health

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

func healthy(context.Context) CheckResult { return CheckResult{Status: StatusHealthy} }

func TestCheckerAggregates(t *testing.T) {
	c := NewChecker()
	if s := c.OverallStatus(); s != StatusHealthy {
		t.Errorf("empty checker: expected healthy, got %s", s)
	}

	c.RegisterFunc("session", true, healthy)
	if s := c.OverallStatus(); s != StatusUnknown {
		t.Errorf("critical check not yet run: expected unknown, got %s", s)
	}

	c.RegisterFunc("channel", false, func(context.Context) CheckResult {
		return CheckResult{Status: StatusUnhealthy}
	})
	c.Check(context.Background())
	if s := c.OverallStatus(); s != StatusDegraded {
		t.Errorf("non-critical failure: expected degraded, got %s", s)
	}

	c.RegisterFunc("registry", true, ErrorCheck("index", func(context.Context) error {
		return errors.New("database is locked")
	}))
	results := c.Check(context.Background())
	if s := c.OverallStatus(); s != StatusUnhealthy {
		t.Errorf("critical failure: expected unhealthy, got %s", s)
	}
	if got := results["registry"].Error; got != "database is locked" {
		t.Errorf("expected registry error to be reported, got %q", got)
	}
}

func TestCheckTimeoutAndPanic(t *testing.T) {
	c := NewChecker()
	c.Register(&Component{
		Name:    "slow",
		Timeout: 10 * time.Millisecond,
		Check: func(ctx context.Context) CheckResult {
			<-ctx.Done()
			time.Sleep(5 * time.Millisecond)
			return CheckResult{Status: StatusHealthy}
		},
	})
	c.RegisterFunc("broken", false, func(context.Context) CheckResult { panic("boom") })

	results := c.Check(context.Background())
	if got := results["slow"].Message; got != "check timed out" {
		t.Errorf("slow check: expected timeout message, got %q", got)
	}
	if got := results["broken"].Status; got != StatusUnhealthy {
		t.Errorf("panicking check: expected unhealthy, got %s", got)
	}
	if got := results["broken"].Error; got != "boom" {
		t.Errorf("panicking check: expected panic value, got %q", got)
	}
}

func TestReport(t *testing.T) {
	c := NewChecker()
	c.RegisterFunc("b", false, healthy)
	c.RegisterFunc("a", true, healthy)
	c.SetReady(true)

	r := c.Report(context.Background())
	if !r.Ready {
		t.Error("expected report to be ready")
	}
	if r.Status != StatusHealthy {
		t.Errorf("expected healthy, got %s", r.Status)
	}
	if names := r.Names(); !reflect.DeepEqual(names, []string{"a", "b"}) {
		t.Errorf("expected sorted names, got %v", names)
	}

	js, err := r.JSON()
	if err != nil {
		t.Fatalf("JSON: %v", err)
	}
	for _, want := range []string{`"status":"healthy"`, `"ready":true`} {
		if !strings.Contains(js, want) {
			t.Errorf("expected %s in %s", want, js)
		}
	}
}
