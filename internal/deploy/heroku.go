package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

type herokuBuild struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (p *httpPipeline) createApp(ctx context.Context, appName string) error {
	body, _ := json.Marshal(map[string]string{"name": appName})

	resp, elapsed, err := p.herokuDo(ctx, http.MethodPost, p.herokuAPI+"/apps", body)
	if err != nil {
		return pipelineError("heroku create app", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		detail := readBody(resp.Body)
		log.Error().
			Str("app", appName).
			Int("status", resp.StatusCode).
			Str("detail", detail).
			Dur("elapsed", elapsed).
			Msg("heroku app creation failed")
		return pipelineError("heroku create app", resp.StatusCode, fmt.Errorf("%s", detail))
	}

	log.Info().Str("app", appName).Dur("elapsed", elapsed).Msg("heroku app created")
	return nil
}

// setConfigVars points the deployed app at its credential artifact in the
// session repository.
func (p *httpPipeline) setConfigVars(ctx context.Context, appName string, sub Submission) error {
	vars := map[string]string{
		"SESSION_ID":   sub.SessionID,
		"SESSION_REPO": p.cfg.GithubRepo,
		"SESSION_REF":  p.cfg.GithubBranch,
		"GITHUB_TOKEN": p.cfg.GithubToken,
	}
	if len(sub.Artifacts) > 0 {
		vars["SESSION_PATH"] = p.artifactPath(sub.UserID, sub.Artifacts[0].Name)
	}

	body, err := json.Marshal(vars)
	if err != nil {
		return fmt.Errorf("marshal config vars: %w", err)
	}

	resp, elapsed, err := p.herokuDo(ctx, http.MethodPatch, fmt.Sprintf("%s/apps/%s/config-vars", p.herokuAPI, appName), body)
	if err != nil {
		return pipelineError("heroku config vars", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail := readBody(resp.Body)
		log.Error().
			Str("app", appName).
			Int("status", resp.StatusCode).
			Str("detail", detail).
			Dur("elapsed", elapsed).
			Msg("heroku config vars failed")
		return pipelineError("heroku config vars", resp.StatusCode, fmt.Errorf("%s", detail))
	}

	log.Info().Str("app", appName).Dur("elapsed", elapsed).Msg("heroku config vars set")
	return nil
}

func (p *httpPipeline) triggerBuild(ctx context.Context, appName string) (*herokuBuild, error) {
	tarball := fmt.Sprintf("https://api.github.com/repos/%s/tarball/%s", p.cfg.GithubRepo, p.cfg.GithubBranch)
	if p.cfg.GithubToken != "" {
		// Heroku fetches the tarball itself, so the token rides in the URL.
		tarball = fmt.Sprintf("https://%s@api.github.com/repos/%s/tarball/%s", p.cfg.GithubToken, p.cfg.GithubRepo, p.cfg.GithubBranch)
	}

	body, _ := json.Marshal(map[string]any{
		"source_blob": map[string]string{
			"url":     tarball,
			"version": p.cfg.GithubBranch,
		},
	})

	resp, elapsed, err := p.herokuDo(ctx, http.MethodPost, fmt.Sprintf("%s/apps/%s/builds", p.herokuAPI, appName), body)
	if err != nil {
		return nil, pipelineError("heroku build", 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		detail := readBody(resp.Body)
		log.Error().
			Str("app", appName).
			Int("status", resp.StatusCode).
			Str("detail", detail).
			Dur("elapsed", elapsed).
			Msg("heroku build trigger failed")
		return nil, pipelineError("heroku build", resp.StatusCode, fmt.Errorf("%s", detail))
	}

	var build herokuBuild
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBody)).Decode(&build); err != nil {
		return nil, pipelineError("heroku build", 0, err)
	}

	log.Info().
		Str("app", appName).
		Str("buildId", build.ID).
		Str("buildStatus", build.Status).
		Dur("elapsed", elapsed).
		Msg("heroku build triggered")

	return &build, nil
}

func (p *httpPipeline) herokuDo(ctx context.Context, method, url string, body []byte) (*http.Response, time.Duration, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+p.cfg.HerokuAPIKey)
	req.Header.Set("Accept", "application/vnd.heroku+json; version=3")
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		log.Error().Err(err).Str("url", url).Dur("elapsed", elapsed).Msg("heroku request error")
		return nil, elapsed, err
	}
	return resp, elapsed, nil
}
