package health

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// TestHealthHandler_NotReady tests health endpoint returns 102 before startup completes
func TestHealthHandler_NotReady(t *testing.T) {
	server := New(8081, nil) // port doesn't matter for handler tests

	req := httptest.NewRequest("GET", "/health", nil)
	recorder := httptest.NewRecorder()

	server.healthHandler(recorder, req)

	if recorder.Code != http.StatusProcessing {
		t.Errorf("expected status %d, got %d", http.StatusProcessing, recorder.Code)
	}

	if body := recorder.Body.String(); body != "starting" {
		t.Errorf("expected body 'starting', got '%s'", body)
	}
}

// TestHealthHandler_Ready tests health endpoint returns 200 when ready
func TestHealthHandler_Ready(t *testing.T) {
	server := New(8081, nil)
	server.MarkReady()

	req := httptest.NewRequest("GET", "/health", nil)
	recorder := httptest.NewRecorder()

	server.healthHandler(recorder, req)

	if recorder.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, recorder.Code)
	}

	if body := recorder.Body.String(); body != "ok" {
		t.Errorf("expected body 'ok', got '%s'", body)
	}

	contentType := recorder.Header().Get("Content-Type")
	if contentType != "text/plain; charset=utf-8" {
		t.Errorf("expected Content-Type 'text/plain; charset=utf-8', got '%s'", contentType)
	}
}

// TestHealthHandler_MethodNotAllowed tests non-GET requests
func TestHealthHandler_MethodNotAllowed(t *testing.T) {
	server := New(8081, nil)

	for _, method := range []string{"POST", "PUT", "DELETE", "PATCH"} {
		t.Run(method, func(t *testing.T) {
			req := httptest.NewRequest(method, "/health", nil)
			recorder := httptest.NewRecorder()

			server.healthHandler(recorder, req)

			if recorder.Code != http.StatusMethodNotAllowed {
				t.Errorf("expected status %d for %s, got %d",
					http.StatusMethodNotAllowed, method, recorder.Code)
			}
		})
	}
}

// TestHealthServer_StateTransitions tests ready/not ready state changes
func TestHealthServer_StateTransitions(t *testing.T) {
	server := New(8081, nil)

	if server.Ready() {
		t.Error("expected initial state to be not ready")
	}

	server.MarkReady()
	if !server.Ready() {
		t.Error("expected ready state after MarkReady")
	}

	// A config reload marks the server not ready while plugins are reloaded.
	server.MarkNotReady()
	if server.Ready() {
		t.Error("expected not ready state after MarkNotReady")
	}
}

// TestHealthServer_ConcurrentAccess tests thread safety of state changes
func TestHealthServer_ConcurrentAccess(t *testing.T) {
	server := New(8081, nil)

	done := make(chan bool)

	go func() {
		for i := 0; i < 100; i++ {
			server.MarkReady()
			time.Sleep(time.Microsecond)
			server.MarkNotReady()
			time.Sleep(time.Microsecond)
		}
		done <- true
	}()

	go func() {
		for i := 0; i < 100; i++ {
			req := httptest.NewRequest("GET", "/health", nil)
			recorder := httptest.NewRecorder()
			server.healthHandler(recorder, req)

			// Should get either 200 or 102, never anything else
			if recorder.Code != http.StatusOK && recorder.Code != http.StatusProcessing {
				t.Errorf("unexpected status code during concurrent access: %d", recorder.Code)
			}
			time.Sleep(time.Microsecond)
		}
		done <- true
	}()

	<-done
	<-done
}

// TestHealthServer_MetricsRoute tests that the metrics handler is mounted
func TestHealthServer_MetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("toomanypages_requests_total 1\n"))
	})
	server := New(8081, metrics)

	recorder := httptest.NewRecorder()
	server.server.Handler.ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))

	if recorder.Code != http.StatusOK {
		t.Errorf("expected status %d, got %d", http.StatusOK, recorder.Code)
	}
	if recorder.Body.String() != "toomanypages_requests_total 1\n" {
		t.Errorf("unexpected metrics body: %q", recorder.Body.String())
	}

	withoutMetrics := New(8081, nil)
	recorder = httptest.NewRecorder()
	withoutMetrics.server.Handler.ServeHTTP(recorder, httptest.NewRequest("GET", "/metrics", nil))
	if recorder.Code != http.StatusNotFound {
		t.Errorf("expected 404 without metrics handler, got %d", recorder.Code)
	}
}

// TestHealthServer_Integration tests the full server lifecycle
func TestHealthServer_Integration(t *testing.T) {
	// Use port 0 to get a random available port
	server := New(0, nil)

	serverChan := make(chan error, 1)
	go func() {
		serverChan <- server.Start()
	}()

	// Give server time to start
	time.Sleep(100 * time.Millisecond)

	server.MarkReady()

	if err := server.Stop(); err != nil {
		t.Errorf("failed to stop server: %v", err)
	}

	select {
	case err := <-serverChan:
		if err != nil {
			t.Errorf("expected clean shutdown, got %v", err)
		}
	case <-time.After(time.Second):
		t.Error("Server did not stop within timeout")
	}
}
