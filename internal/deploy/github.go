package deploy

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// uploadArtifact writes one credential file into the session repository via
// the contents API. An existing file is updated in place, which requires its
// current blob sha.
func (p *httpPipeline) uploadArtifact(ctx context.Context, sub Submission, artifact Artifact) error {
	path := p.artifactPath(sub.UserID, artifact.Name)
	url := fmt.Sprintf("%s/repos/%s/contents/%s", p.githubAPI, p.cfg.GithubRepo, path)

	sha, err := p.existingSHA(ctx, url)
	if err != nil {
		return err
	}

	payload := map[string]any{
		"message": fmt.Sprintf("Add session artifacts for %s", sub.UserID),
		"content": base64.StdEncoding.EncodeToString(artifact.Data),
		"branch":  p.cfg.GithubBranch,
	}
	if sha != "" {
		payload["sha"] = sha
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal contents payload: %w", err)
	}

	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return pipelineError("github upload", 0, err)
	}
	p.githubHeaders(req)

	resp, err := p.client.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		log.Error().Err(err).Str("path", path).Dur("elapsed", elapsed).Msg("github upload error")
		return pipelineError("github upload", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		detail := readBody(resp.Body)
		log.Error().
			Str("path", path).
			Int("status", resp.StatusCode).
			Str("detail", detail).
			Dur("elapsed", elapsed).
			Msg("github upload failed")
		return pipelineError("github upload", resp.StatusCode, fmt.Errorf("%s", detail))
	}

	log.Info().
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("elapsed", elapsed).
		Msg("github artifact uploaded")

	return nil
}

// existingSHA fetches the current blob sha at the contents URL, empty when
// the file does not exist yet.
func (p *httpPipeline) existingSHA(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url+"?ref="+p.cfg.GithubBranch, nil)
	if err != nil {
		return "", pipelineError("github lookup", 0, err)
	}
	p.githubHeaders(req)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", pipelineError("github lookup", 0, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return "", nil
	case resp.StatusCode != http.StatusOK:
		return "", pipelineError("github lookup", resp.StatusCode, fmt.Errorf("%s", readBody(resp.Body)))
	}

	var content struct {
		SHA string `json:"sha"`
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&content); err != nil {
		return "", pipelineError("github lookup", 0, err)
	}
	return content.SHA, nil
}

func (p *httpPipeline) githubHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.cfg.GithubToken)
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Content-Type", "application/json")
}

func readBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, maxResponseBody))
	if err != nil {
		return ""
	}
	return string(bytes.TrimSpace(data))
}
