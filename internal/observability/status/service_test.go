package status

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	rtsup "msgshell/internal/runtime/supervisor"
	logx "msgshell/pkg/logx"
)

func testReport(context.Context) any {
	return map[string]any{"badge": 3, "focused": false}
}

func TestHandlerRoutes(t *testing.T) {
	s := New(Config{}, logx.Nop(), testReport)
	h := s.Handler(Config{})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthz: %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status code=%d", rec.Code)
	}
	var doc map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if doc["badge"] != float64(3) {
		t.Fatalf("doc=%v", doc)
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("pprof should be off, got %d", rec.Code)
	}
}

func TestHandlerPprof(t *testing.T) {
	h := New(Config{}, logx.Nop(), nil).Handler(Config{Pprof: true})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/debug/pprof/", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("pprof index code=%d", rec.Code)
	}
}

func TestHandlerAuth(t *testing.T) {
	h := New(Config{}, logx.Nop(), testReport).Handler(Config{Token: "s3cret"})
	cases := []struct {
		name   string
		target string
		header string
		want   int
	}{
		{"missing", "/status", "", http.StatusUnauthorized},
		{"bearer", "/status", "Bearer s3cret", http.StatusOK},
		{"wrong bearer", "/status", "Bearer nope", http.StatusUnauthorized},
		{"query", "/status?token=s3cret", "", http.StatusOK},
		{"wrong query beats header", "/status?token=x", "Bearer s3cret", http.StatusUnauthorized},
		{"healthz guarded", "/healthz", "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tc.target, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tc.want {
				t.Fatalf("code=%d want %d", rec.Code, tc.want)
			}
		})
	}
}

func TestIsLoopbackAddr(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:7077": true,
		"localhost:80":   true,
		"[::1]:7077":     true,
		":7077":          false,
		"0.0.0.0:7077":   false,
		"10.0.0.5:7077":  false,
		"garbage":        false,
	}
	for addr, want := range cases {
		if got := isLoopbackAddr(addr); got != want {
			t.Fatalf("isLoopbackAddr(%q)=%v want %v", addr, got, want)
		}
	}
}

func TestServiceLifecycle(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "127.0.0.1:0"}, logx.Nop(), testReport)
	ctx := context.Background()
	s.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for s.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatalf("server did not bind")
		}
		time.Sleep(5 * time.Millisecond)
	}

	resp, err := http.Get("http://" + s.Addr() + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if string(body) != "ok" {
		t.Fatalf("body=%q", body)
	}

	stopCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	s.Reconfigure(stopCtx, Config{Enabled: false})
	if s.Supervisor() != nil || s.Addr() != "" {
		t.Fatalf("server still running after disable")
	}
}

func TestRefusesInsecureBind(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, logx.Nop(), nil)
	err := s.serveOnce(context.Background())
	if !errors.Is(err, ErrInsecureBind) || !rtsup.IsPermanent(err) {
		t.Fatalf("err=%v want permanent ErrInsecureBind", err)
	}
}

func TestInsecureBindIsNotRestarted(t *testing.T) {
	s := New(Config{Enabled: true, Addr: "0.0.0.0:0"}, logx.Nop(), nil)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Stop(ctx)
	})

	sup := s.Supervisor()
	if sup == nil {
		t.Fatalf("supervisor not created")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := sup.Wait(ctx); !errors.Is(err, ErrInsecureBind) {
		t.Fatalf("wait err=%v want ErrInsecureBind", err)
	}
	for _, g := range sup.Snapshot().Goroutines {
		if g.Name == "http.serve" && (g.Started != 1 || g.Restarts != 0) {
			t.Fatalf("serve loop restarted: %+v", g)
		}
	}
}
