package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mechaenetia/mechaenetia/internal/engine"
	"github.com/mechaenetia/mechaenetia/internal/localserver"
	"github.com/mechaenetia/mechaenetia/internal/metrics"
)

type fixedStatus engine.Status

func (f fixedStatus) Status() engine.Status { return engine.Status(f) }

func doReq(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestStatusEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	src := fixedStatus{Tick: 42, Server: true, State: "loading", Public: localserver.LoadingAt(0.25), SavePath: "/saves/a"}
	h := NewRouter(src, "/abc").Handler()

	rec := doReq(t, h, http.MethodGet, "/abc/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Engine struct {
			Tick   uint64 `json:"tick"`
			State  string `json:"state"`
			Public struct {
				Kind     string  `json:"kind"`
				Progress float64 `json:"progress"`
			} `json:"public"`
			SavePath string `json:"save_path"`
		} `json:"engine"`
		Process *metrics.ProcessSample `json:"process"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Engine.Tick != 42 || body.Engine.State != "loading" || body.Engine.SavePath != "/saves/a" {
		t.Fatalf("unexpected engine status: %+v", body.Engine)
	}
	if body.Engine.Public.Kind != "loading" || body.Engine.Public.Progress != 0.25 {
		t.Fatalf("unexpected public state: %+v", body.Engine.Public)
	}
	if body.Process != nil {
		t.Fatalf("process sample without collector")
	}
}

func TestStatusIncludesProcessSample(t *testing.T) {
	gin.SetMode(gin.TestMode)
	pc := metrics.NewProcessCollector(metrics.ProcessConfig{})
	pc.Collect()
	h := NewRouter(fixedStatus{}, "", WithProcessCollector(pc)).Handler()

	rec := doReq(t, h, http.MethodGet, "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"process":{"pid":`) {
		t.Fatalf("expected process sample, got %s", rec.Body.String())
	}
}

func TestMetricsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}
	metrics.ObserveTick(0.001)
	h := NewRouter(fixedStatus{}, "/", WithGatherer(reg)).Handler()

	rec := doReq(t, h, http.MethodGet, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "mechaenetia_engine_ticks_total") {
		t.Fatalf("metrics output missing tick counter")
	}
}

func TestUnknownRouteAndMethod(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h := NewRouter(fixedStatus{}, "/abc").Handler()
	if rec := doReq(t, h, http.MethodGet, "/status"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 outside base path, got %d", rec.Code)
	}
	if rec := doReq(t, h, http.MethodPost, "/abc/status"); rec.Code == http.StatusOK {
		t.Fatalf("status must be read-only")
	}
}

func TestNewServerServesAndShutsDown(t *testing.T) {
	gin.SetMode(gin.TestMode)
	srv, err := NewServer("127.0.0.1:0", NewRouter(fixedStatus{Tick: 7}, ""))
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	resp, err := http.Get("http://" + srv.Addr() + "/status")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if !strings.Contains(string(b), `"tick":7`) {
		t.Fatalf("unexpected body %s", b)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestNewServerListenError(t *testing.T) {
	if _, err := NewServer("256.0.0.1:bad", NewRouter(fixedStatus{}, "")); err == nil {
		t.Fatalf("expected listen error")
	}
}
