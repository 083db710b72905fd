// Package deploy hands finished pairing sessions to the external
// persistence and deploy pipeline: the credential artifact is pushed to a
// GitHub repository, then a Heroku app is created and a build is triggered
// from the repository tarball. Both services are consumed through their
// plain HTTP contracts; retry policy stays with the caller.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	defaultTimeout = 30 * time.Second

	// Heroku rejects app names longer than 30 characters.
	maxAppNameLen = 30

	maxResponseBody = 256 * 1024
)

// Artifact is one credential file to persist, already read into memory so
// the pipeline never touches the session's store directly.
type Artifact struct {
	Name string
	Data []byte
}

// Submission carries everything needed to persist and deploy one session.
type Submission struct {
	SessionID string
	UserID    string
	Artifacts []Artifact
}

// Result reports the created app and build.
type Result struct {
	AppName string
	BuildID string
	Status  string
}

// Error is a failed pipeline call. Transient errors (network, 5xx, 429) may
// succeed on a future manual retry; others will not.
type Error struct {
	Op        string
	Status    int
	Transient bool
	cause     error
}

func (e *Error) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("deploy %s: status %d", e.Op, e.Status)
	}
	return fmt.Sprintf("deploy %s: %v", e.Op, e.cause)
}

func (e *Error) Unwrap() error {
	return e.cause
}

// IsTransient reports whether a future retry of the submission could
// succeed.
func IsTransient(err error) bool {
	var de *Error
	if errors.As(err, &de) {
		return de.Transient
	}
	return false
}

// Pipeline persists session artifacts and triggers the platform build.
type Pipeline interface {
	Submit(ctx context.Context, sub Submission) (*Result, error)
}

// Config holds the external pipeline credentials and naming policy.
type Config struct {
	GithubToken   string
	GithubRepo    string // "owner/name"
	GithubBranch  string
	HerokuAPIKey  string
	AppNamePrefix string
	Timeout       time.Duration
}

type httpPipeline struct {
	cfg    Config
	client *http.Client

	githubAPI string
	herokuAPI string
}

var githubRepoPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)

// New builds the HTTP pipeline. The GitHub repo must be in "owner/name"
// form; everything else is validated lazily by the remote APIs.
func New(cfg Config) (Pipeline, error) {
	if !githubRepoPattern.MatchString(cfg.GithubRepo) {
		return nil, fmt.Errorf("invalid github repo %q, expected owner/name", cfg.GithubRepo)
	}
	if cfg.GithubBranch == "" {
		cfg.GithubBranch = "main"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &httpPipeline{
		cfg:       cfg,
		client:    &http.Client{Timeout: cfg.Timeout},
		githubAPI: "https://api.github.com",
		herokuAPI: "https://api.heroku.com",
	}, nil
}

// NewDisabled returns a pipeline that rejects every submission with a
// permanent error. Used when deploy credentials are not configured; sessions
// still pair and connect, the handoff just fails without touching any
// external service.
func NewDisabled() Pipeline {
	return disabledPipeline{}
}

type disabledPipeline struct{}

func (disabledPipeline) Submit(ctx context.Context, sub Submission) (*Result, error) {
	return nil, &Error{Op: "submit", Transient: false, cause: errors.New("deploy pipeline not configured")}
}

func (p *httpPipeline) Submit(ctx context.Context, sub Submission) (*Result, error) {
	appName := p.appName(sub.UserID)
	start := time.Now()

	log.Info().
		Str("sessionId", sub.SessionID).
		Str("app", appName).
		Int("artifacts", len(sub.Artifacts)).
		Msg("deploy handoff started")

	for _, artifact := range sub.Artifacts {
		if err := p.uploadArtifact(ctx, sub, artifact); err != nil {
			return nil, err
		}
	}

	if err := p.createApp(ctx, appName); err != nil {
		return nil, err
	}

	if err := p.setConfigVars(ctx, appName, sub); err != nil {
		return nil, err
	}

	build, err := p.triggerBuild(ctx, appName)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("sessionId", sub.SessionID).
		Str("app", appName).
		Str("buildId", build.ID).
		Dur("elapsed", time.Since(start)).
		Msg("deploy handoff complete")

	return &Result{
		AppName: appName,
		BuildID: build.ID,
		Status:  build.Status,
	}, nil
}

// appName derives the Heroku app name from the user id:
// prefix + lowercased id with anything outside [a-z0-9-] collapsed to '-'.
func (p *httpPipeline) appName(userID string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(userID) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	name := p.cfg.AppNamePrefix + strings.Trim(b.String(), "-")
	if len(name) > maxAppNameLen {
		name = name[:maxAppNameLen]
	}
	return strings.TrimRight(name, "-")
}

// artifactPath is where a session's credential file lives in the repo.
func (p *httpPipeline) artifactPath(userID, name string) string {
	return fmt.Sprintf("sessions/%s/%s", userID, name)
}

func pipelineError(op string, status int, cause error) *Error {
	transient := status == 0 || status == http.StatusTooManyRequests || status >= 500
	return &Error{Op: op, Status: status, Transient: transient, cause: cause}
}
