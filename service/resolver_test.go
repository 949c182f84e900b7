package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/MwailaCoding/prowrite-delivery/config"
)

func TestResolverCandidatesOrder(t *testing.T) {
	resolver := NewArtifactResolver(&config.DownloadConfig{
		BaseURL: "http://docs.prowrite.test/",
	}, nil)

	candidates := resolver.Candidates("PW-1", "http://gw.test/direct.pdf")

	want := []string{
		"http://gw.test/direct.pdf",
		"http://docs.prowrite.test/downloads/PW-1.pdf",
		"http://docs.prowrite.test/api/documents/PW-1/download",
		"http://docs.prowrite.test/files/PW-1.pdf",
	}
	if len(candidates) != len(want) {
		t.Fatalf("Expected %d candidates, got %d: %v", len(want), len(candidates), candidates)
	}
	for i := range want {
		if candidates[i] != want[i] {
			t.Errorf("Candidate %d: expected %q, got %q", i, want[i], candidates[i])
		}
	}
}

func TestResolverCandidatesWithoutDirectURL(t *testing.T) {
	resolver := NewArtifactResolver(&config.DownloadConfig{
		BaseURL: "http://docs.prowrite.test",
	}, nil)

	candidates := resolver.Candidates("PW-1", "")

	if len(candidates) != 3 {
		t.Fatalf("Expected 3 candidates, got %d", len(candidates))
	}
	if candidates[0] != "http://docs.prowrite.test/downloads/PW-1.pdf" {
		t.Errorf("Expected primary convention first, got %q", candidates[0])
	}
}

func TestResolverCandidatesCustomRoutes(t *testing.T) {
	resolver := NewArtifactResolver(&config.DownloadConfig{
		BaseURL:   "http://docs.prowrite.test",
		AltRoutes: []string{"/v2/artifacts/%s"},
	}, nil)

	candidates := resolver.Candidates("PW-1", "")
	if len(candidates) != 2 {
		t.Fatalf("Expected 2 candidates, got %d", len(candidates))
	}
	if candidates[1] != "http://docs.prowrite.test/v2/artifacts/PW-1" {
		t.Errorf("Expected configured alternate route, got %q", candidates[1])
	}
}

func TestResolverDownloadFallbackOrder(t *testing.T) {
	var mu sync.Mutex
	hits := make(map[string]int)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits[r.URL.Path]++
		mu.Unlock()

		switch r.URL.Path {
		case "/a":
			http.Error(w, "gone", http.StatusNotFound)
		case "/b":
			w.Write([]byte("%PDF-1.7 fake document"))
		case "/c":
			w.Write([]byte("%PDF-1.7 should never be fetched"))
		}
	}))
	defer server.Close()

	resolver := NewArtifactResolver(&config.DownloadConfig{BaseURL: server.URL}, nil)
	candidates := []string{server.URL + "/a", server.URL + "/b", server.URL + "/c"}

	outcome := resolver.Download(context.Background(), "PW-1", candidates)

	if !outcome.Triggered {
		t.Fatal("Expected download to trigger")
	}
	if outcome.URL != server.URL+"/b" {
		t.Errorf("Expected second candidate to win, got %q", outcome.URL)
	}
	if hits["/a"] != 1 || hits["/b"] != 1 {
		t.Errorf("Expected /a then /b each tried once, got %v", hits)
	}
	if hits["/c"] != 0 {
		t.Errorf("Expected /c never tried after /b succeeded, got %d hits", hits["/c"])
	}
	if len(outcome.Tried) != 2 {
		t.Errorf("Expected 2 tried URLs, got %v", outcome.Tried)
	}
}

func TestResolverDownloadAllFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	resolver := NewArtifactResolver(&config.DownloadConfig{BaseURL: server.URL}, nil)
	candidates := []string{server.URL + "/a", server.URL + "/b"}

	outcome := resolver.Download(context.Background(), "PW-1", candidates)

	if outcome.Triggered {
		t.Error("Expected no trigger when every candidate fails")
	}
	if len(outcome.Tried) != 2 {
		t.Errorf("Expected both candidates tried, got %v", outcome.Tried)
	}
}

func TestResolverDownloadNetworkError(t *testing.T) {
	resolver := NewArtifactResolver(&config.DownloadConfig{
		BaseURL: "http://invalid-host-that-does-not-exist:9999",
	}, nil)

	outcome := resolver.Download(context.Background(), "PW-1",
		[]string{"http://invalid-host-that-does-not-exist:9999/a.pdf"})

	if outcome.Triggered {
		t.Error("Expected no trigger on network failure")
	}
}

func TestResolverDownloadArchivesArtifact(t *testing.T) {
	s3, counts := fakeS3Server(t)
	archive, err := NewArchiveService(fakeArchiveConfig(s3))
	if err != nil {
		t.Fatalf("Failed to create archive service: %v", err)
	}

	docs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("%PDF-1.7 fake document"))
	}))
	defer docs.Close()

	resolver := NewArtifactResolver(&config.DownloadConfig{BaseURL: docs.URL}, archive)
	outcome := resolver.Download(context.Background(), "PW-1", []string{docs.URL + "/downloads/PW-1.pdf"})

	if !outcome.Triggered {
		t.Fatal("Expected download to trigger")
	}
	if !outcome.Archived {
		t.Error("Expected artifact to be archived when an archive service is configured")
	}
	puts, _ := counts.snapshot()
	if puts == 0 {
		t.Error("Expected archive upload to reach object storage")
	}
}

func TestResolverDownloadOptimisticSuccess(t *testing.T) {
	// Triggered only means the fetch started streaming without an
	// error; nothing confirms the client saved the file. The outcome
	// name reflects that.
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("%PDF-1.7"))
	}))
	defer server.Close()

	resolver := NewArtifactResolver(&config.DownloadConfig{BaseURL: server.URL}, nil)
	outcome := resolver.Download(context.Background(), "PW-1", []string{server.URL + "/doc.pdf"})

	if !outcome.Triggered {
		t.Fatal("Expected trigger")
	}
	if outcome.Archived {
		t.Error("Expected no archive copy without an archive service")
	}
}
