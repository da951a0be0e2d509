package eta

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

func TestOSRMClientParsesDuration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, "/route/v1/driving/") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"code":"Ok","routes":[{"duration":123.5}]}`))
	}))
	defer srv.Close()

	c := NewOSRMClient(srv.URL+"/", time.Second)
	got, err := c.EstimateSeconds(models.Coord{Lat: 1, Lon: 2}, models.Coord{Lat: 1.1, Lon: 2.1})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if got != 123.5 {
		t.Fatalf("expected 123.5, got %f", got)
	}
}

func TestOSRMClientNoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"code":"NoRoute","routes":[]}`))
	}))
	defer srv.Close()

	if _, err := NewOSRMClient(srv.URL, time.Second).EstimateSeconds(models.Coord{}, models.Coord{}); err == nil {
		t.Fatalf("expected error for NoRoute")
	}
}
