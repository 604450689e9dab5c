package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/snaptexdev/snaptex/internal/render"
	"github.com/snaptexdev/snaptex/internal/sandbox"
)

// scriptedStrategy renders canned outcomes keyed on the input text.
type scriptedStrategy struct{}

func (scriptedStrategy) Name() string { return "scripted" }

func (scriptedStrategy) Render(ctx context.Context, text, outPath string) ([]byte, error) {
	switch {
	case strings.Contains(text, "slow"):
		return nil, &sandbox.LimitError{Kind: sandbox.LimitCPU}
	case strings.Contains(text, "bad"):
		return nil, &sandbox.InputError{Msg: "unbalanced $ math delimiters"}
	case strings.Contains(text, "boom"):
		return nil, io.ErrUnexpectedEOF
	}
	img := []byte("png-bytes-for:" + text)
	if err := os.WriteFile(outPath, img, 0644); err != nil {
		return nil, err
	}
	return img, nil
}

func newTestServer(t *testing.T, token string) *httptest.Server {
	t.Helper()

	svc, err := render.Open(render.Config{
		BaseDir:  t.TempDir(),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Strategy: scriptedStrategy{},
	})
	if err != nil {
		t.Fatalf("open service: %v", err)
	}
	t.Cleanup(func() { svc.Close() })

	srv := New(svc, Config{
		APIToken: token,
		Version:  "test",
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts
}

func postRender(t *testing.T, ts *httptest.Server, token, text string) *http.Response {
	t.Helper()

	body, _ := json.Marshal(map[string]string{"text": text, "scope": "s1"})
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/render", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	return resp
}

func decodeError(t *testing.T, resp *http.Response) (msg, kind string) {
	t.Helper()
	var body struct {
		Error string `json:"error"`
		Kind  string `json:"kind"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	return body.Error, body.Kind
}

func TestRenderSuccessAndCacheHeaders(t *testing.T) {
	ts := newTestServer(t, "")

	resp := postRender(t, ts, "", "x = 1")
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q, want image/png", ct)
	}
	if got := resp.Header.Get("X-Snaptex-Cache"); got != "miss" {
		t.Errorf("first render cache header = %q, want miss", got)
	}
	key := resp.Header.Get("X-Snaptex-Key")
	if len(key) != 32 {
		t.Errorf("key header = %q, want 32 hex chars", key)
	}
	img, _ := io.ReadAll(resp.Body)

	resp2 := postRender(t, ts, "", "x = 1")
	defer resp2.Body.Close()
	if got := resp2.Header.Get("X-Snaptex-Cache"); got != "hit" {
		t.Errorf("second render cache header = %q, want hit", got)
	}
	img2, _ := io.ReadAll(resp2.Body)
	if !bytes.Equal(img, img2) {
		t.Error("cached bytes differ from first render")
	}
}

func TestRenderOutcomeStatusCodes(t *testing.T) {
	ts := newTestServer(t, "")

	tests := []struct {
		name       string
		text       string
		wantStatus int
		wantKind   string
	}{
		{"limit violation", "slow", http.StatusUnprocessableEntity, "cpu"},
		{"bad input", "bad", http.StatusUnprocessableEntity, "input"},
		{"internal failure", "boom", http.StatusInternalServerError, "internal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postRender(t, ts, "", tt.text)
			defer resp.Body.Close()
			if resp.StatusCode != tt.wantStatus {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			msg, kind := decodeError(t, resp)
			if kind != tt.wantKind {
				t.Errorf("kind = %q, want %q", kind, tt.wantKind)
			}
			if tt.wantKind == "internal" && msg != "internal render failure" {
				t.Errorf("internal failure leaked detail: %q", msg)
			}
		})
	}
}

func TestRenderRejectsEmptyAndNonPost(t *testing.T) {
	ts := newTestServer(t, "")

	resp := postRender(t, ts, "", "")
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty text status = %d, want 400", resp.StatusCode)
	}

	getResp, err := http.Get(ts.URL + "/render")
	if err != nil {
		t.Fatal(err)
	}
	getResp.Body.Close()
	if getResp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET status = %d, want 405", getResp.StatusCode)
	}
}

func TestAuthMiddleware(t *testing.T) {
	ts := newTestServer(t, "secret")

	resp := postRender(t, ts, "", "x = 1")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("missing token status = %d, want 401", resp.StatusCode)
	}

	resp = postRender(t, ts, "secret", "x = 1")
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("valid token status = %d, want 200", resp.StatusCode)
	}

	// Health stays open
	h, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	h.Body.Close()
	if h.StatusCode != http.StatusOK {
		t.Errorf("health status = %d, want 200", h.StatusCode)
	}
}

func TestEventsEndpoint(t *testing.T) {
	ts := newTestServer(t, "")

	resp := postRender(t, ts, "", "x = 1")
	resp.Body.Close()

	evResp, err := http.Get(ts.URL + "/events?limit=5")
	if err != nil {
		t.Fatal(err)
	}
	defer evResp.Body.Close()
	if evResp.StatusCode != http.StatusOK {
		t.Fatalf("events status = %d, want 200", evResp.StatusCode)
	}
	var evs []map[string]any
	if err := json.NewDecoder(evResp.Body).Decode(&evs); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(evs) == 0 {
		t.Fatal("expected at least one event after a render")
	}
	if evs[0]["type"] != "render.completed" {
		t.Errorf("newest event type = %v, want render.completed", evs[0]["type"])
	}
}
