package watch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/example/presence-service/internal/application"
)

func TestClient_Wait(t *testing.T) {
	t.Parallel()

	t.Run("sends window etag and timeout", func(t *testing.T) {
		t.Parallel()
		var gotQuery map[string]string
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/activity/wait" {
				t.Errorf("unexpected path %s", r.URL.Path)
			}
			q := r.URL.Query()
			gotQuery = map[string]string{"window": q.Get("window"), "etag": q.Get("etag"), "timeoutMs": q.Get("timeoutMs")}
			_ = json.NewEncoder(w).Encode(application.ActivityReport{Window: application.WindowWeek, ETag: "next", Total: 2})
		}))
		t.Cleanup(server.Close)

		client := NewClient(server.URL+"/", nil)
		report, err := client.Wait(context.Background(), "week", "prev", 1500*time.Millisecond)
		if err != nil {
			t.Fatalf("Wait returned error: %v", err)
		}
		if report.ETag != "next" || report.Total != 2 {
			t.Fatalf("unexpected report %+v", report)
		}
		if gotQuery["window"] != "week" || gotQuery["etag"] != "prev" || gotQuery["timeoutMs"] != "1500" {
			t.Fatalf("unexpected query %v", gotQuery)
		}
	})

	t.Run("surfaces server message", func(t *testing.T) {
		t.Parallel()
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error_code":"DIRECTORY_UNAVAILABLE","message":"down"}`))
		}))
		t.Cleanup(server.Close)

		_, err := NewClient(server.URL, nil).Wait(context.Background(), "day", "", 0)
		if err == nil || !strings.Contains(err.Error(), "503") || !strings.Contains(err.Error(), "down") {
			t.Fatalf("expected 503 error with message, got %v", err)
		}
	})

	t.Run("omits empty etag", func(t *testing.T) {
		t.Parallel()
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := r.URL.Query()["etag"]; ok {
				t.Errorf("expected no etag parameter")
			}
			_ = json.NewEncoder(w).Encode(application.ActivityReport{ETag: "a"})
		}))
		t.Cleanup(server.Close)

		if _, err := NewClient(server.URL, nil).Wait(context.Background(), "day", "", time.Second); err != nil {
			t.Fatalf("Wait returned error: %v", err)
		}
	})
}
