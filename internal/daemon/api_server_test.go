package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"testing"

	"rchub/internal/config"
	"rchub/internal/testsupport"
)

const testToken = "sekrit"

func startAPIDaemon(t *testing.T) (*Daemon, string) {
	t.Helper()
	d, engineDaemon, _ := newTestDaemon(t,
		testsupport.WithAPIBind("127.0.0.1:0"),
		func(cfg *config.Config) { cfg.Daemon.APIToken = testToken },
	)
	engineDaemon.SetRemotes([]string{"gdrive"}, nil)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(d.Stop)
	return d, "http://" + d.api.addr()
}

func apiRequest(t *testing.T, method, url string, body any, token string) *http.Response {
	t.Helper()
	var payload *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("encode body: %v", err)
		}
		payload = bytes.NewReader(encoded)
	} else {
		payload = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, payload)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestAPIRequiresToken(t *testing.T) {
	_, base := startAPIDaemon(t)

	resp := apiRequest(t, http.MethodGet, base+"/api/status", nil, "")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	resp = apiRequest(t, http.MethodGet, base+"/api/status", nil, "wrong")
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", resp.StatusCode)
	}
	resp = apiRequest(t, http.MethodGet, base+"/api/status", nil, testToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestAPIStatusAndBackends(t *testing.T) {
	_, base := startAPIDaemon(t)

	resp := apiRequest(t, http.MethodGet, base+"/api/status", nil, testToken)
	var status Status
	decode(t, resp, &status)
	if !status.Running || status.ActiveBackend != "Local" {
		t.Fatalf("unexpected status: %+v", status)
	}

	resp = apiRequest(t, http.MethodGet, base+"/api/backends", nil, testToken)
	var backends struct {
		Active   string           `json:"active"`
		Backends []map[string]any `json:"backends"`
	}
	decode(t, resp, &backends)
	if backends.Active != "Local" || len(backends.Backends) != 1 {
		t.Fatalf("unexpected backends: %+v", backends)
	}

	resp = apiRequest(t, http.MethodPost, base+"/api/backends", map[string]any{
		"name": "nas", "host": "10.0.0.5", "port": 5572,
	}, testToken)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("add backend status = %d", resp.StatusCode)
	}
	resp = apiRequest(t, http.MethodPost, base+"/api/backends", map[string]any{
		"name": "nas", "host": "10.0.0.5", "port": 5572,
	}, testToken)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("duplicate add status = %d, want 400", resp.StatusCode)
	}
}

func TestAPIJobSubmitAndQuery(t *testing.T) {
	_, base := startAPIDaemon(t)

	resp := apiRequest(t, http.MethodPost, base+"/api/jobs", map[string]any{
		"kind": "sync", "source": "gdrive:docs", "destination": "/srv/docs", "remote": "gdrive",
	}, testToken)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("submit status = %d", resp.StatusCode)
	}
	var submitted struct {
		JobID uint64 `json:"jobid"`
	}
	decode(t, resp, &submitted)
	if submitted.JobID == 0 {
		t.Fatal("no job id returned")
	}

	resp = apiRequest(t, http.MethodGet, fmt.Sprintf("%s/api/jobs/%d", base, submitted.JobID), nil, testToken)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("job get status = %d", resp.StatusCode)
	}
	resp = apiRequest(t, http.MethodGet, base+"/api/jobs/99999", nil, testToken)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing job status = %d, want 404", resp.StatusCode)
	}

	resp = apiRequest(t, http.MethodPost, base+"/api/jobs", map[string]any{
		"kind": "sync",
	}, testToken)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("invalid submit status = %d, want 400", resp.StatusCode)
	}
}

func TestAPICronValidate(t *testing.T) {
	_, base := startAPIDaemon(t)

	resp := apiRequest(t, http.MethodPost, base+"/api/cron/validate", map[string]string{
		"expression": "0 3 * * *",
	}, testToken)
	var verdict struct {
		Valid bool   `json:"valid"`
		Error string `json:"error"`
	}
	decode(t, resp, &verdict)
	if !verdict.Valid {
		t.Fatalf("valid expression rejected: %+v", verdict)
	}

	resp = apiRequest(t, http.MethodPost, base+"/api/cron/validate", map[string]string{
		"expression": "bogus",
	}, testToken)
	decode(t, resp, &verdict)
	if verdict.Valid || verdict.Error == "" {
		t.Fatalf("invalid expression accepted: %+v", verdict)
	}
}
