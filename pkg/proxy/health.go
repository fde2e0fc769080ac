package proxy

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"

	"github.com/quietgrid/hlgateway/pkg/version"
)

const healthCacheTTL = 30 * time.Second

type serviceProbe struct {
	Name     string
	Alias    string
	Host     string
	Endpoint string
	Method   string
	Timeout  time.Duration
}

// Cohere's models endpoint rejects HEAD, so that probe uses GET.
var serviceProbes = []serviceProbe{
	{Name: "OpenAI", Alias: "openai", Host: "api.openai.com", Endpoint: "/v1/models", Method: http.MethodHead, Timeout: 5 * time.Second},
	{Name: "Claude", Alias: "claude", Host: "api.anthropic.com", Endpoint: "/v1/messages", Method: http.MethodHead, Timeout: 5 * time.Second},
	{Name: "Gemini", Alias: "gemini", Host: "generativelanguage.googleapis.com", Endpoint: "/v1beta/models", Method: http.MethodHead, Timeout: 5 * time.Second},
	{Name: "Groq", Alias: "groq", Host: "api.groq.com", Endpoint: "/openai/v1/models", Method: http.MethodHead, Timeout: 5 * time.Second},
	{Name: "Cohere", Alias: "cohere", Host: "api.cohere.ai", Endpoint: "/v1/models", Method: http.MethodGet, Timeout: 5 * time.Second},
}

type checkResult struct {
	Status       string `json:"status"`
	Message      string `json:"message"`
	ResponseTime int64  `json:"responseTime,omitempty"`
	LastChecked  string `json:"lastChecked"`
}

type healthReport struct {
	Status    string                 `json:"status"`
	Timestamp string                 `json:"timestamp"`
	Uptime    int64                  `json:"uptime"`
	Version   string                 `json:"version"`
	Checks    map[string]checkResult `json:"checks"`
}

// HealthChecker probes the proxied provider endpoints in parallel and caches
// the aggregate for the cache TTL.
type HealthChecker struct {
	client  *http.Client
	started time.Time
	scheme  string
	probes  []serviceProbe

	mu      sync.Mutex
	cached  *healthReport
	fetched time.Time
}

func NewHealthChecker() *HealthChecker {
	return &HealthChecker{
		client:  &http.Client{},
		started: time.Now(),
		scheme:  "https",
		probes:  serviceProbes,
	}
}

func (h *HealthChecker) probe(ctx context.Context, p serviceProbe) checkResult {
	start := time.Now()
	lastChecked := start.UTC().Format(time.RFC3339)

	ctx, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, p.Method, h.scheme+"://"+p.Host+p.Endpoint, nil)
	if err != nil {
		return checkResult{Status: "fail", Message: "Service unreachable: " + err.Error(), LastChecked: lastChecked}
	}
	req.Header.Set("User-Agent", "HealthCheck/1.0")

	resp, err := h.client.Do(req)
	elapsed := time.Since(start).Milliseconds()
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return checkResult{
				Status:       "fail",
				Message:      fmt.Sprintf("Service timeout (>%dms)", p.Timeout.Milliseconds()),
				ResponseTime: elapsed,
				LastChecked:  lastChecked,
			}
		}
		return checkResult{Status: "fail", Message: "Service unreachable: " + err.Error(), ResponseTime: elapsed, LastChecked: lastChecked}
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		// 401/403 still proves the service is reachable.
		return checkResult{
			Status:       "pass",
			Message:      fmt.Sprintf("Service accessible (HTTP %d)", resp.StatusCode),
			ResponseTime: elapsed,
			LastChecked:  lastChecked,
		}
	case resp.StatusCode >= 500:
		return checkResult{
			Status:       "fail",
			Message:      fmt.Sprintf("Service error (HTTP %d)", resp.StatusCode),
			ResponseTime: elapsed,
			LastChecked:  lastChecked,
		}
	default:
		return checkResult{
			Status:       "warn",
			Message:      fmt.Sprintf("Service reachable but unexpected status (HTTP %d)", resp.StatusCode),
			ResponseTime: elapsed,
			LastChecked:  lastChecked,
		}
	}
}

func (h *HealthChecker) run(ctx context.Context) *healthReport {
	now := time.Now()
	checks := map[string]checkResult{
		"self": {Status: "pass", Message: "Proxy service is running", LastChecked: now.UTC().Format(time.RFC3339)},
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, p := range h.probes {
		wg.Add(1)
		go func(p serviceProbe) {
			defer wg.Done()
			result := h.probe(ctx, p)
			mu.Lock()
			checks[p.Alias] = result
			mu.Unlock()
		}(p)
	}
	wg.Wait()

	failCount, warnCount := 0, 0
	for _, c := range checks {
		if c.Status == "fail" {
			failCount++
		}
		if c.Status == "warn" {
			warnCount++
		}
	}
	status := "healthy"
	if failCount > 0 {
		status = "warning"
		if failCount > len(h.probes)/2 {
			status = "unhealthy"
		}
	} else if warnCount > 0 {
		status = "warning"
	}

	return &healthReport{
		Status:    status,
		Timestamp: now.UTC().Format(time.RFC3339),
		Uptime:    int64(now.Sub(h.started).Seconds()),
		Version:   version.String(),
		Checks:    checks,
	}
}

// Report returns the cached aggregate, re-probing when the cache is stale or
// force is set.
func (h *HealthChecker) Report(ctx context.Context, force bool) *healthReport {
	h.mu.Lock()
	if !force && h.cached != nil && time.Since(h.fetched) < healthCacheTTL {
		cached := h.cached
		h.mu.Unlock()
		return cached
	}
	h.mu.Unlock()

	report := h.run(ctx)

	h.mu.Lock()
	h.cached = report
	h.fetched = time.Now()
	h.mu.Unlock()
	return report
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	force := r.URL.Query().Has("force")
	report := s.health.Report(r.Context(), force)
	status := http.StatusOK
	if report.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleHealthWS pushes a fresh health snapshot over a websocket every cache
// interval until the client disconnects.
func (s *Server) handleHealthWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug("health websocket upgrade", "err", err)
		return
	}
	defer conn.Close()

	ctx := r.Context()
	ticker := time.NewTicker(healthCacheTTL)
	defer ticker.Stop()
	for {
		report := s.health.Report(ctx, false)
		if err := conn.WriteJSON(report); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
