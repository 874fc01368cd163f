// Package ops serves the optional health and metrics endpoints.
package ops

import (
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// CheckResult is the outcome of one health check.
type CheckResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthStatus is the /health response body.
type HealthStatus struct {
	Status    string                 `json:"status"`
	Service   string                 `json:"service"`
	Version   string                 `json:"version"`
	Timestamp int64                  `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

// HealthCheck performs one check.
type HealthCheck func() CheckResult

// HealthChecker aggregates named checks. Checks are registered before
// serving starts.
type HealthChecker struct {
	service string
	version string
	names   []string
	checks  map[string]HealthCheck
}

func NewHealthChecker(service, version string) *HealthChecker {
	return &HealthChecker{
		service: service,
		version: version,
		checks:  make(map[string]HealthCheck),
	}
}

// AddCheck registers a check under name.
func (hc *HealthChecker) AddCheck(name string, check HealthCheck) {
	if _, ok := hc.checks[name]; !ok {
		hc.names = append(hc.names, name)
		sort.Strings(hc.names)
	}
	hc.checks[name] = check
}

// CheckHealth runs every check. Any unhealthy check makes the whole status
// unhealthy; otherwise any degraded check makes it degraded.
func (hc *HealthChecker) CheckHealth() HealthStatus {
	status := HealthStatus{
		Service:   hc.service,
		Version:   hc.version,
		Timestamp: time.Now().Unix(),
		Checks:    make(map[string]CheckResult, len(hc.checks)),
	}

	anyUnhealthy, anyDegraded := false, false
	for _, name := range hc.names {
		result := hc.checks[name]()
		status.Checks[name] = result
		switch result.Status {
		case StatusHealthy:
		case StatusDegraded:
			anyDegraded = true
		default:
			anyUnhealthy = true
		}
	}

	switch {
	case anyUnhealthy:
		status.Status = StatusUnhealthy
	case anyDegraded:
		status.Status = StatusDegraded
	default:
		status.Status = StatusHealthy
	}
	return status
}

// Handler serves CheckHealth as JSON; unhealthy maps to 503.
func (hc *HealthChecker) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		health := hc.CheckHealth()
		code := http.StatusOK
		if health.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, health)
	}
}

// SchedulerCheck reports degraded when no run completed within twice the
// interval (plus grace) after the process started.
func SchedulerCheck(started time.Time, interval, grace time.Duration, lastRun func() (time.Time, error)) HealthCheck {
	return func() CheckResult {
		last, lastErr := lastRun()
		deadline := 2*interval + grace
		if last.IsZero() {
			if time.Since(started) > deadline {
				return CheckResult{Status: StatusDegraded, Message: "no completed run yet"}
			}
			return CheckResult{Status: StatusHealthy, Message: "waiting for first run"}
		}
		if age := time.Since(last); age > deadline {
			return CheckResult{Status: StatusDegraded, Message: fmt.Sprintf("last run %s ago", age.Round(time.Second))}
		}
		if lastErr != nil {
			return CheckResult{Status: StatusDegraded, Message: "last run failed: " + lastErr.Error()}
		}
		return CheckResult{Status: StatusHealthy, Message: "last run " + last.Format(time.RFC3339)}
	}
}

// HistoryCheck reports the recent-post cache fill level.
func HistoryCheck(size func() int, capacity int) HealthCheck {
	return func() CheckResult {
		return CheckResult{Status: StatusHealthy, Message: fmt.Sprintf("%d/%d recent posts", size(), capacity)}
	}
}
