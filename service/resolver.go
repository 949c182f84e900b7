package service

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MwailaCoding/prowrite-delivery/config"
)

// ArtifactResolver builds candidate download locations for a completed
// submission and triggers delivery from the first one that responds.
type ArtifactResolver struct {
	config     *config.DownloadConfig
	httpClient *http.Client
	archive    *ArchiveService // optional, nil when archiving is disabled
}

// DownloadOutcome reports an attempted delivery. Triggered is an
// optimistic signal: nothing downstream confirms that the client
// actually saved the file, so completing the fetch without an error is
// the strongest guarantee available.
type DownloadOutcome struct {
	Triggered bool     `json:"triggered"`
	URL       string   `json:"url,omitempty"`
	Archived  bool     `json:"archived"`
	Tried     []string `json:"tried,omitempty"`
}

func NewArtifactResolver(cfg *config.DownloadConfig, archive *ArchiveService) *ArtifactResolver {
	return &ArtifactResolver{
		config:  cfg,
		archive: archive,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

// Candidates returns the ordered list of download locations to try:
// the URL the status query reported, then the primary downloads route,
// then any configured alternate route shapes.
func (r *ArtifactResolver) Candidates(reference, directURL string) []string {
	var candidates []string
	if directURL != "" {
		candidates = append(candidates, directURL)
	}
	base := strings.TrimRight(r.config.BaseURL, "/")
	candidates = append(candidates, fmt.Sprintf("%s/downloads/%s.pdf", base, reference))
	routes := r.config.AltRoutes
	if len(routes) == 0 {
		routes = []string{"/api/documents/%s/download", "/files/%s.pdf"}
	}
	for _, route := range routes {
		candidates = append(candidates, base+fmt.Sprintf(route, reference))
	}
	return candidates
}

// Download tries each candidate in order and stops at the first one
// that starts streaming an artifact. The body is copied into the
// archive when one is configured, otherwise drained and discarded.
// All candidates failing is not a submission failure; the artifact
// likely still exists server-side and the caller may retry.
func (r *ArtifactResolver) Download(ctx context.Context, reference string, candidates []string) DownloadOutcome {
	outcome := DownloadOutcome{}

	for _, candidate := range candidates {
		outcome.Tried = append(outcome.Tried, candidate)

		body, err := r.fetch(ctx, candidate)
		if err != nil {
			slog.Warn("download candidate failed",
				"reference", reference,
				"url", candidate,
				"error", err,
			)
			continue
		}

		outcome.Triggered = true
		outcome.URL = candidate

		if r.archive != nil {
			if err := r.archive.StoreArtifact(ctx, reference, body); err != nil {
				slog.Warn("failed to archive artifact", "reference", reference, "error", err)
			} else {
				outcome.Archived = true
			}
		} else {
			io.Copy(io.Discard, body)
		}
		body.Close()
		return outcome
	}

	slog.Warn("all download candidates failed", "reference", reference, "tried", len(candidates))
	return outcome
}

// ArchiveURL returns a presigned link to the archived copy of an
// artifact, or an empty string when archiving is disabled.
func (r *ArtifactResolver) ArchiveURL(ctx context.Context, reference string) (string, error) {
	if r.archive == nil {
		return "", nil
	}
	return r.archive.PresignedURL(ctx, reference)
}

// Discard drops the archived copy of an artifact, if any. Used when a
// retry restarts the lifecycle and the old artifact is stale.
func (r *ArtifactResolver) Discard(ctx context.Context, reference string) error {
	if r.archive == nil {
		return nil
	}
	return r.archive.DeleteArtifact(ctx, reference)
}

// fetch opens a candidate URL and returns its body if the server
// answered with an artifact.
func (r *ArtifactResolver) fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch: %w", err)
	}

	if resp.StatusCode >= 400 {
		resp.Body.Close()
		return nil, fmt.Errorf("server returned status %d", resp.StatusCode)
	}

	return resp.Body, nil
}
