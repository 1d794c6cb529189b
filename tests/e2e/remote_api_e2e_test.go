//go:build e2e

package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

// Exercises a running engine over its ops API: pause the clock, step it
// by hand, read the world back, and check the digest is stable while
// nothing moves. Opt in with -tags e2e against E2E_BASE_URL.
func TestRemoteOpsAPI(t *testing.T) {
	baseURL := strings.TrimRight(envOr("E2E_BASE_URL", "http://localhost:8080"), "/")
	client := &http.Client{Timeout: 20 * time.Second}

	t.Run("health", func(t *testing.T) {
		status, body := mustJSON(t, client, http.MethodGet, baseURL+"/ops/health", nil)
		if status != http.StatusOK {
			t.Fatalf("health status=%d body=%s", status, string(body))
		}
		var health map[string]any
		if err := json.Unmarshal(body, &health); err != nil {
			t.Fatalf("unmarshal health: %v body=%s", err, string(body))
		}
		if health["status"] != "ok" {
			t.Fatalf("expected status ok, got %v", health)
		}
	})

	t.Run("pause step resume", func(t *testing.T) {
		status, pauseBody := mustJSON(t, client, http.MethodPost, baseURL+"/ops/pause", map[string]any{})
		if status != http.StatusOK {
			t.Fatalf("pause status=%d body=%s", status, string(pauseBody))
		}
		var paused map[string]any
		if err := json.Unmarshal(pauseBody, &paused); err != nil {
			t.Fatalf("unmarshal pause: %v body=%s", err, string(pauseBody))
		}
		if paused["paused"] != true {
			t.Fatalf("expected paused=true, got %v", paused)
		}
		before, _ := paused["tick"].(float64)

		status, stepBody := mustJSON(t, client, http.MethodPost, baseURL+"/ops/tick", map[string]any{})
		if status != http.StatusOK {
			t.Fatalf("step status=%d body=%s", status, string(stepBody))
		}
		var step map[string]any
		if err := json.Unmarshal(stepBody, &step); err != nil {
			t.Fatalf("unmarshal step: %v body=%s", err, string(stepBody))
		}
		after, _ := step["tick"].(float64)
		if after != before+1 {
			t.Fatalf("step advanced %v -> %v, want +1", before, after)
		}

		status, agentsBody := mustJSON(t, client, http.MethodGet, baseURL+"/ops/agents", nil)
		if status != http.StatusOK {
			t.Fatalf("agents status=%d body=%s", status, string(agentsBody))
		}
		var agents map[string]any
		if err := json.Unmarshal(agentsBody, &agents); err != nil {
			t.Fatalf("unmarshal agents: %v body=%s", err, string(agentsBody))
		}
		if len(asSlice(agents["agents"])) == 0 {
			t.Fatalf("expected a seeded population, got %v", agents)
		}

		status, eventsBody := mustJSON(t, client, http.MethodGet, baseURL+"/ops/events?limit=10", nil)
		if status != http.StatusOK {
			t.Fatalf("events status=%d body=%s", status, string(eventsBody))
		}
		var events map[string]any
		if err := json.Unmarshal(eventsBody, &events); err != nil {
			t.Fatalf("unmarshal events: %v body=%s", err, string(eventsBody))
		}
		if len(asSlice(events["events"])) == 0 {
			t.Fatalf("expected events after stepping, got %v", events)
		}

		// Paused world, fixed range: the digest must not drift between
		// reads.
		digestURL := fmt.Sprintf("%s/ops/replay/digest?from_tick=0&to_tick=%d", baseURL, int64(after))
		first := fetchDigest(t, client, digestURL)
		second := fetchDigest(t, client, digestURL)
		if first == "" || first != second {
			t.Fatalf("digest unstable while paused: %q vs %q", first, second)
		}

		status, kpiBody := mustJSON(t, client, http.MethodGet, baseURL+"/ops/kpi", nil)
		if status != http.StatusOK {
			t.Fatalf("kpi status=%d body=%s", status, string(kpiBody))
		}
		var kpi map[string]any
		if err := json.Unmarshal(kpiBody, &kpi); err != nil {
			t.Fatalf("unmarshal kpi: %v body=%s", err, string(kpiBody))
		}
		if _, ok := kpi["ticks_processed"]; !ok {
			t.Fatalf("expected ticks_processed in kpi, got %v", kpi)
		}

		status, resumeBody := mustJSON(t, client, http.MethodPost, baseURL+"/ops/resume", map[string]any{})
		if status != http.StatusOK {
			t.Fatalf("resume status=%d body=%s", status, string(resumeBody))
		}
		var resumed map[string]any
		if err := json.Unmarshal(resumeBody, &resumed); err != nil {
			t.Fatalf("unmarshal resume: %v body=%s", err, string(resumeBody))
		}
		if resumed["paused"] != false {
			t.Fatalf("expected paused=false, got %v", resumed)
		}
	})
}

func fetchDigest(t *testing.T, client *http.Client, url string) string {
	t.Helper()
	status, body := mustJSON(t, client, http.MethodGet, url, nil)
	if status != http.StatusOK {
		t.Fatalf("digest status=%d body=%s", status, string(body))
	}
	var resp map[string]any
	if err := json.Unmarshal(body, &resp); err != nil {
		t.Fatalf("unmarshal digest: %v body=%s", err, string(body))
	}
	digest, _ := resp["digest"].(string)
	return digest
}

func mustJSON(t *testing.T, client *http.Client, method, url string, body map[string]any) (int, []byte) {
	t.Helper()
	status, respBody, err := doRequest(client, method, url, body)
	if err != nil {
		t.Fatalf("%s %s request failed: %v", method, url, err)
	}
	return status, respBody
}

func doRequest(client *http.Client, method, url string, body map[string]any) (int, []byte, error) {
	var payloadBytes []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		payloadBytes = b
	}

	var lastStatus int
	var lastBody []byte
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		var payload io.Reader
		if len(payloadBytes) > 0 {
			payload = bytes.NewReader(payloadBytes)
		}
		req, err := http.NewRequest(method, url, payload)
		if err != nil {
			return 0, nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			time.Sleep(time.Duration(attempt+1) * 200 * time.Millisecond)
			continue
		}
		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			time.Sleep(time.Duration(attempt+1) * 200 * time.Millisecond)
			continue
		}
		lastStatus, lastBody, lastErr = resp.StatusCode, respBody, nil
		if resp.StatusCode >= 500 {
			time.Sleep(time.Duration(attempt+1) * 200 * time.Millisecond)
			continue
		}
		return resp.StatusCode, respBody, nil
	}
	if lastErr != nil {
		return 0, nil, lastErr
	}
	return lastStatus, lastBody, nil
}

func envOr(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}

func asSlice(v any) []any {
	if s, ok := v.([]any); ok {
		return s
	}
	return nil
}
