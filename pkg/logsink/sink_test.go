package logsink

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/dmitrykomlev/nas-fault-simulator-sub000/pkg/utils"
)

func TestOpenStderrSink(t *testing.T) {
	sink, err := Open("", utils.INFO)
	if err != nil {
		t.Fatalf("Open(\"\") error = %v", err)
	}
	defer sink.Close()
	sink.Info("engine started")
}

func TestOpenFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nasfault.log")
	sink, err := Open(path, utils.DEBUG)
	if err != nil {
		t.Fatalf("Open(%q) error = %v", path, err)
	}
	defer sink.Close()
	sink.Info("mounted", map[string]interface{}{"backing_dir": "/srv/backing"})
}

func TestOpenHTTPSink(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink, err := Open(srv.URL, utils.INFO)
	if err != nil {
		t.Fatalf("Open(%q) error = %v", srv.URL, err)
	}
	defer sink.Close()

	sink.Info("fault injected", map[string]interface{}{"kind": "write"})
	if hits == 0 {
		t.Error("expected at least one delivery attempt to the collector")
	}
}

func TestHTTPSinkSurvivesCollectorOutage(t *testing.T) {
	sink, err := NewHTTPSink("http://127.0.0.1:0", utils.INFO)
	if err != nil {
		t.Fatalf("NewHTTPSink() error = %v", err)
	}
	defer sink.Close()

	// Must not panic or block indefinitely when the collector is unreachable.
	sink.Error("dispatcher degraded", map[string]interface{}{"reason": "unreachable collector"})
}
