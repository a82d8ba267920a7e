package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"k8s.io/examples/AI/modelpack/pkg/model"
	"k8s.io/examples/AI/modelpack/pkg/modelpack/modelpacktest"
	"k8s.io/examples/AI/modelpack/pkg/tensor"
)

func newTestServer(t *testing.T, warm bool) *httptest.Server {
	t.Helper()
	m, err := model.FromBytes(modelpacktest.RowSum().Bytes(t))
	if err != nil {
		t.Fatalf("loading model: %v", err)
	}
	if warm {
		if err := m.Warmup(context.Background()); err != nil {
			t.Fatalf("warmup: %v", err)
		}
	}
	server := httptest.NewServer(newMux(m))
	t.Cleanup(server.Close)
	return server
}

func do(t *testing.T, method, url, body string) (int, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("reading body: %v", err)
	}
	return resp.StatusCode, string(b)
}

func TestCompute(t *testing.T) {
	server := newTestServer(t, true)

	code, body := do(t, "POST", server.URL+"/compute", `{"inputs":{"x":{"dtype":"float32","shape":[2,3],"data":[[1,2,3],[4,5,6]]}}}`)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", code, body)
	}
	var resp computeResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		t.Fatalf("decoding response %q: %v", body, err)
	}
	if want := tensor.MustOf([]int{2}, []float32{6, 15}); !want.Equal(resp.Outputs["y"]) {
		t.Errorf("expected y=%v, got %v", want, resp.Outputs["y"])
	}
	if len(resp.Outputs) != 1 {
		t.Errorf("expected only declared outputs, got %v", resp.Outputs)
	}
}

func TestComputeErrors(t *testing.T) {
	server := newTestServer(t, true)
	grid := map[string]struct {
		body string
		code int
	}{
		"malformed":     {`{"inputs":`, http.StatusBadRequest},
		"unknown field": {`{"input":{}}`, http.StatusBadRequest},
		"unknown input": {`{"inputs":{"z":{"dtype":"float32","shape":[1,3],"data":[1,2,3]}}}`, http.StatusBadRequest},
		"wrong dtype":   {`{"inputs":{"x":{"dtype":"int32","shape":[1,3],"data":[1,2,3]}}}`, http.StatusBadRequest},
		"wrong shape":   {`{"inputs":{"x":{"dtype":"float32","shape":[1,2],"data":[1,2]}}}`, http.StatusBadRequest},
	}
	for name, g := range grid {
		t.Run(name, func(t *testing.T) {
			code, body := do(t, "POST", server.URL+"/compute", g.body)
			if code != g.code {
				t.Errorf("expected %d, got %d: %s", g.code, code, body)
			}
		})
	}
}

func TestNotWarmedUp(t *testing.T) {
	server := newTestServer(t, false)

	if code, _ := do(t, "GET", server.URL+"/healthz", ""); code != http.StatusServiceUnavailable {
		t.Errorf("expected healthz to fail before warmup, got %d", code)
	}
	code, body := do(t, "POST", server.URL+"/compute", `{"inputs":{}}`)
	if code != http.StatusConflict {
		t.Errorf("expected 409 before warmup, got %d: %s", code, body)
	}
}

func TestRoutes(t *testing.T) {
	server := newTestServer(t, true)

	code, body := do(t, "GET", server.URL+"/manifest", "")
	if code != http.StatusOK || !strings.Contains(body, `"variant":"pipeline"`) {
		t.Errorf("unexpected manifest response %d: %s", code, body)
	}
	if code, _ := do(t, "GET", server.URL+"/metadata", ""); code != http.StatusNotFound {
		t.Errorf("expected 404 for missing metadata, got %d", code)
	}
	if code, body := do(t, "GET", server.URL+"/healthz", ""); code != http.StatusOK || body != "ok" {
		t.Errorf("unexpected healthz response %d: %s", code, body)
	}
	if code, _ := do(t, "GET", server.URL+"/compute", ""); code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", code)
	}
	if code, _ := do(t, "GET", server.URL+"/nope", ""); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
	if code, _ := do(t, "GET", server.URL+"/metrics", ""); code != http.StatusOK {
		t.Errorf("expected metrics, got %d", code)
	}
}
