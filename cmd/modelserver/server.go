package main

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/klog/v2"

	"k8s.io/examples/AI/modelpack/pkg/errdefs"
	"k8s.io/examples/AI/modelpack/pkg/model"
	"k8s.io/examples/AI/modelpack/pkg/tensor"
)

// maxRequestBytes bounds the size of a compute request body.
const maxRequestBytes = 64 << 20

type computeRequest struct {
	Inputs            map[string]*tensor.Tensor `json:"inputs"`
	DynamicAttributes map[string]any            `json:"dynamic_attributes"`
}

type computeResponse struct {
	Outputs map[string]*tensor.Tensor `json:"outputs"`
}

func newMux(m *model.Model) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", &httpServer{model: m})
	return mux
}

type httpServer struct {
	model *model.Model
}

func (s *httpServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	tokens := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(tokens) != 1 {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}

	var method string
	var serve func(http.ResponseWriter, *http.Request)
	switch tokens[0] {
	case "manifest":
		method, serve = "GET", s.serveManifest
	case "metadata":
		method, serve = "GET", s.serveMetadata
	case "healthz":
		method, serve = "GET", s.serveHealthz
	case "compute":
		method, serve = "POST", s.serveCompute
	default:
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if r.Method != method {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	serve(w, r)
}

func (s *httpServer) serveManifest(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, s.model.Manifest())
}

func (s *httpServer) serveMetadata(w http.ResponseWriter, r *http.Request) {
	meta, err := s.model.Metadata()
	if err != nil {
		if errors.Is(err, errdefs.ErrSchema) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, meta)
}

func (s *httpServer) serveHealthz(w http.ResponseWriter, r *http.Request) {
	if !s.model.Ready() {
		http.Error(w, "warming up", http.StatusServiceUnavailable)
		return
	}
	io.WriteString(w, "ok")
}

func (s *httpServer) serveCompute(w http.ResponseWriter, r *http.Request) {
	var req computeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		http.Error(w, "invalid request: "+err.Error(), http.StatusBadRequest)
		return
	}

	outputs, err := s.model.Compute(r.Context(), req.Inputs, req.DynamicAttributes)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, r, computeResponse{Outputs: outputs})
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := errdefs.HTTPStatus(err)
	if code >= 500 {
		klog.FromContext(r.Context()).Error(err, "request failed", "path", r.URL.Path)
	}
	http.Error(w, err.Error(), code)
}

func writeJSON(w http.ResponseWriter, r *http.Request, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(b)
}
