package service

import (
	"context"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/xhclintohn/9bot-pair-server/internal/audit"
	"github.com/xhclintohn/9bot-pair-server/internal/deploy"
	apperrors "github.com/xhclintohn/9bot-pair-server/internal/errors"
	"github.com/xhclintohn/9bot-pair-server/internal/model"
	"github.com/xhclintohn/9bot-pair-server/internal/registry"
	"github.com/xhclintohn/9bot-pair-server/internal/repository"
	"github.com/xhclintohn/9bot-pair-server/internal/util"
	"github.com/xhclintohn/9bot-pair-server/internal/wa"
)

const (
	// E.164 caps phone numbers at 15 digits.
	phoneMaxDigits = 15

	// storeWriteTimeout bounds status-store writes issued from timer and
	// event paths.
	storeWriteTimeout = 5 * time.Second

	credArtifactName = "creds.db"
)

// Options bound the manager's lifecycle timers and input validation.
type Options struct {
	PhoneMinDigits int
	PairExpiry     time.Duration
	ConnectTimeout time.Duration
	DeployTimeout  time.Duration
}

// Manager owns every pairing session from creation to teardown. All state
// transitions go through the session's guarded methods; the manager decides
// what each transition means: what to log, what to mirror into the status
// store, when to release the credential store, and what the originating
// HTTP request receives.
type Manager struct {
	registry *registry.Registry
	gateway  wa.Gateway
	pipeline deploy.Pipeline
	store    repository.SessionRecordRepository
	opts     Options

	deploys sync.WaitGroup
}

func NewManager(
	reg *registry.Registry,
	gateway wa.Gateway,
	pipeline deploy.Pipeline,
	store repository.SessionRecordRepository,
	opts Options,
) *Manager {
	return &Manager{
		registry: reg,
		gateway:  gateway,
		pipeline: pipeline,
		store:    store,
		opts:     opts,
	}
}

// CreateSession validates the request, claims the user's active-session
// slot and provisions a credential store. The expiry timer starts here:
// from this moment the session is guaranteed to leave the registry within
// the expiry window plus the sweep grace, whatever else happens.
func (m *Manager) CreateSession(ctx context.Context, userID, phoneNumber string) (*registry.Session, error) {
	if userID == "" {
		return nil, apperrors.MissingRequired("userId")
	}
	if !util.IsValidUserID(userID) {
		return nil, apperrors.InvalidInput("userId", "use letters, digits, dot, underscore or dash (max 64 chars)")
	}

	phone := util.NormalizePhone(phoneNumber)
	if len(phone) < m.opts.PhoneMinDigits {
		return nil, apperrors.InvalidInput("phoneNumber", fmt.Sprintf("must contain at least %d digits", m.opts.PhoneMinDigits))
	}
	if len(phone) > phoneMaxDigits {
		return nil, apperrors.InvalidInput("phoneNumber", fmt.Sprintf("must contain at most %d digits", phoneMaxDigits))
	}

	sess := registry.NewSession(uuid.NewString(), userID, phone, time.Now())
	if !m.registry.Register(sess) {
		return nil, apperrors.ActiveSessionExists(userID)
	}

	creds, err := m.gateway.Provision(ctx, sess.ID)
	if err != nil {
		m.registry.Remove(sess.ID)
		log.Error().Err(err).Str("session_id", sess.ID).Msg("failed to provision credential store")
		return nil, apperrors.Wrap(apperrors.ErrCodeInternal, "Failed to provision session", err)
	}
	sess.AttachRuntime(nil, creds)

	sess.SetExpiryTimer(time.AfterFunc(m.opts.PairExpiry, func() {
		m.expire(sess)
	}))

	m.record(sess.ID, "upsert", func(ctx context.Context) error {
		_, err := m.store.Upsert(ctx, model.CreateSessionRecordParams{
			ID:          sess.ID,
			UserID:      userID,
			PhoneNumber: phone,
			Status:      model.StateInitializing.StatusString(),
		})
		return err
	})

	audit.Log(ctx, audit.Event{Type: audit.EventSessionCreated, SessionID: sess.ID, UserID: userID})
	log.Info().
		Str("session_id", sess.ID).
		Str("user_id", userID).
		Str("phone", util.MaskPhone(phone)).
		Msg("pairing session created")

	return sess, nil
}

// StartPairing connects the session's client, requests the pairing code and
// blocks until the code arrives, the connect timeout fires or the request
// context dies. Whatever happens first, the caller gets exactly one
// outcome; every competing path goes through the session's delivery guard.
func (m *Manager) StartPairing(ctx context.Context, sess *registry.Session) (string, error) {
	if !sess.BeginPairing() {
		return "", apperrors.Internal("Session is not in a startable state")
	}
	m.record(sess.ID, "update_status", func(ctx context.Context) error {
		return m.store.UpdateStatus(ctx, sess.ID, model.StateAwaitingPairingCode.StatusString())
	})

	go m.runSession(sess)

	timer := time.NewTimer(m.opts.ConnectTimeout)
	defer timer.Stop()

	select {
	case out := <-sess.Response():
		if out.Err != nil {
			return "", out.Err
		}
		return out.Code, nil

	case <-timer.C:
		timeoutErr := apperrors.ConnectTimeout()
		if sess.MarkFailedIfAwaitingCode(timeoutErr, time.Now()) {
			log.Warn().
				Str("session_id", sess.ID).
				Dur("timeout", m.opts.ConnectTimeout).
				Msg("timed out waiting for pairing code")
			m.recordFailure(sess, model.StateFailed.StatusString(), timeoutErr)
			audit.Log(ctx, audit.Event{Type: audit.EventSessionFailed, SessionID: sess.ID, UserID: sess.UserID,
				Details: map[string]interface{}{"reason": "connect_timeout"}})
			m.release(sess, true)
			sess.Deliver(registry.Outcome{Err: timeoutErr})
		}
		// Either our timeout or a concurrent winner is in the channel by
		// now, or arrives momentarily.
		select {
		case out := <-sess.Response():
			if out.Err != nil {
				return "", out.Err
			}
			return out.Code, nil
		case <-ctx.Done():
			return "", timeoutErr
		}

	case <-ctx.Done():
		cancelErr := apperrors.Wrap(apperrors.ErrCodeInternal, "Pairing request cancelled", ctx.Err())
		if sess.MarkFailedIfAwaitingCode(cancelErr, time.Now()) {
			m.recordFailure(sess, model.StateFailed.StatusString(), cancelErr)
			m.release(sess, true)
			sess.Deliver(registry.Outcome{Err: cancelErr})
		}
		return "", cancelErr
	}
}

// runSession owns the client side of one pairing attempt: dial, connect,
// request the code once, then consume connection events until the session
// reaches a terminal state.
func (m *Manager) runSession(sess *registry.Session) {
	_, creds := sess.Runtime()

	client, err := m.gateway.Dial(context.Background(), creds)
	if err != nil {
		m.failPairing(sess, apperrors.PairingCodeFailed(err))
		return
	}
	sess.AttachRuntime(client, creds)

	if err := client.Connect(); err != nil {
		m.failPairing(sess, apperrors.PairingCodeFailed(err))
		return
	}

	pairCtx, cancel := context.WithTimeout(context.Background(), m.opts.ConnectTimeout)
	code, err := client.PairPhone(pairCtx, sess.PhoneNumber)
	cancel()
	if err != nil {
		m.failPairing(sess, apperrors.PairingCodeFailed(err))
		return
	}

	if !sess.CodeIssued(code) {
		// A timeout or expiry won while the code was in flight; the
		// winner already delivered and released.
		log.Debug().Str("session_id", sess.ID).Msg("pairing code arrived for a finished session")
		return
	}

	m.record(sess.ID, "set_code", func(ctx context.Context) error {
		return m.store.SetCodeIssued(ctx, sess.ID, model.StateAwaitingUserConfirmation.StatusString(), code)
	})
	audit.Log(context.Background(), audit.Event{Type: audit.EventCodeIssued, SessionID: sess.ID, UserID: sess.UserID})
	log.Info().Str("session_id", sess.ID).Str("user_id", sess.UserID).Msg("pairing code issued")

	sess.Deliver(registry.Outcome{Code: code})

	m.consumeEvents(sess, client)
}

func (m *Manager) consumeEvents(sess *registry.Session, client wa.Client) {
	for {
		select {
		case evt := <-client.Events():
			m.handleEvent(sess, evt)
		case <-sess.Done():
			return
		}
	}
}

func (m *Manager) handleEvent(sess *registry.Session, evt wa.Event) {
	switch evt.Kind {
	case wa.EventPairSuccess:
		log.Info().Str("session_id", sess.ID).Str("user_id", sess.UserID).Msg("pairing code confirmed on device")

	case wa.EventOpen:
		// Claim a deploy slot before the connected state becomes visible,
		// so Shutdown always waits for the handoff this event triggers.
		m.deploys.Add(1)
		if !sess.MarkConnected(time.Now()) {
			// Duplicate open, or the session already finished.
			m.deploys.Done()
			return
		}
		m.record(sess.ID, "mark_connected", func(ctx context.Context) error {
			return m.store.MarkConnected(ctx, sess.ID, time.Now())
		})
		audit.Log(context.Background(), audit.Event{Type: audit.EventSessionConnected, SessionID: sess.ID, UserID: sess.UserID})
		log.Info().Str("session_id", sess.ID).Str("user_id", sess.UserID).Msg("session connected")

		go func() {
			defer m.deploys.Done()
			m.handoff(sess)
		}()

	case wa.EventClosed:
		st := sess.State()
		if st.IsTerminal() {
			return
		}
		if st.Connected() {
			log.Warn().Str("session_id", sess.ID).Msg("connection dropped after pairing")
			m.record(sess.ID, "disconnected", func(ctx context.Context) error {
				return m.store.UpdateStatus(ctx, sess.ID, model.StatusDisconnected)
			})
			return
		}
		// The transport routinely drops right after a code is issued; the
		// client reconnects on its own.
		log.Debug().Str("session_id", sess.ID).Msg("transport closed while awaiting confirmation")

	case wa.EventLoggedOut, wa.EventConnectFailure:
		st := sess.State()
		if st.IsTerminal() {
			return
		}
		if st.Connected() {
			log.Warn().
				Err(evt.Err).
				Str("session_id", sess.ID).
				Str("event", string(evt.Kind)).
				Msg("session lost after pairing")
			m.record(sess.ID, "disconnected", func(ctx context.Context) error {
				return m.store.UpdateStatus(ctx, sess.ID, model.StatusDisconnected)
			})
			return
		}
		m.failPairing(sess, apperrors.Wrap(apperrors.ErrCodePairingCode, "Pairing rejected by the service", evt.Err))
	}
}

// handoff pushes the session's credentials through the deploy pipeline.
// Runs on its own goroutine so the event loop is never blocked.
func (m *Manager) handoff(sess *registry.Session) {
	if !sess.BeginDeploy() {
		return
	}
	m.record(sess.ID, "update_status", func(ctx context.Context) error {
		return m.store.UpdateStatus(ctx, sess.ID, model.StateDeploying.StatusString())
	})
	log.Info().Str("session_id", sess.ID).Str("user_id", sess.UserID).Msg("starting deploy handoff")

	_, creds := sess.Runtime()
	data, err := os.ReadFile(creds.Path())
	if err != nil {
		m.failDeploy(sess, apperrors.DeployFailed(fmt.Errorf("read credential store: %w", err)))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.opts.DeployTimeout)
	defer cancel()

	res, err := m.pipeline.Submit(ctx, deploy.Submission{
		SessionID: sess.ID,
		UserID:    sess.UserID,
		Artifacts: []deploy.Artifact{{Name: credArtifactName, Data: data}},
	})
	if err != nil {
		m.failDeploy(sess, apperrors.DeployFailed(err))
		return
	}

	if !sess.MarkDeployed(res.AppName, time.Now()) {
		// Cancelled mid-deploy; the canceller already tore down.
		return
	}
	m.record(sess.ID, "mark_deployed", func(ctx context.Context) error {
		return m.store.MarkDeployed(ctx, sess.ID, res.AppName, time.Now())
	})
	audit.Log(context.Background(), audit.Event{Type: audit.EventSessionDeployed, SessionID: sess.ID, UserID: sess.UserID,
		Details: map[string]interface{}{"app_name": res.AppName}})
	log.Info().
		Str("session_id", sess.ID).
		Str("user_id", sess.UserID).
		Str("app_name", res.AppName).
		Str("build_id", res.BuildID).
		Msg("session deployed")

	// Ownership of the credentials moved to the deployed app; drop the
	// local copy.
	m.release(sess, true)
}

// failPairing terminates a session that never reached Connected. The
// credential store holds nothing worth keeping yet, so its files go too.
func (m *Manager) failPairing(sess *registry.Session, appErr error) {
	if !sess.MarkFailed(appErr, time.Now()) {
		return
	}
	log.Error().Err(appErr).Str("session_id", sess.ID).Str("user_id", sess.UserID).Msg("pairing failed")
	m.recordFailure(sess, model.StateFailed.StatusString(), appErr)
	audit.Log(context.Background(), audit.Event{Type: audit.EventSessionFailed, SessionID: sess.ID, UserID: sess.UserID,
		Details: map[string]interface{}{"reason": appErr.Error()}})
	m.release(sess, true)
	sess.Deliver(registry.Outcome{Err: appErr})
}

// failDeploy terminates a session whose handoff failed. The credential
// files stay on disk so an operator can retry the handoff by hand; only
// the connection is torn down.
func (m *Manager) failDeploy(sess *registry.Session, appErr error) {
	if !sess.MarkFailed(appErr, time.Now()) {
		return
	}
	log.Error().
		Err(appErr).
		Str("session_id", sess.ID).
		Str("user_id", sess.UserID).
		Bool("transient", deploy.IsTransient(appErr)).
		Msg("deploy handoff failed")
	m.recordFailure(sess, model.StateFailed.StatusString(), appErr)
	audit.Log(context.Background(), audit.Event{Type: audit.EventSessionFailed, SessionID: sess.ID, UserID: sess.UserID,
		Details: map[string]interface{}{"reason": "deploy", "transient": deploy.IsTransient(appErr)}})
	m.release(sess, false)
}

// expire fires from the session's expiry timer. Loses cleanly to any
// session that already connected.
func (m *Manager) expire(sess *registry.Session) {
	expErr := apperrors.SessionExpired()
	if !sess.MarkExpired(expErr, time.Now()) {
		return
	}
	log.Info().Str("session_id", sess.ID).Str("user_id", sess.UserID).Msg("pairing session expired")
	m.recordFailure(sess, model.StateExpired.StatusString(), expErr)
	audit.Log(context.Background(), audit.Event{Type: audit.EventSessionExpired, SessionID: sess.ID, UserID: sess.UserID})
	m.release(sess, true)
	sess.Deliver(registry.Outcome{Err: expErr})
}

// Status answers GET /status. Live sessions come from the registry;
// evicted ones fall back to the status store when one is configured.
func (m *Manager) Status(ctx context.Context, sessionID string) (*model.StatusResponse, error) {
	if sess := m.registry.Get(sessionID); sess != nil {
		snap := sess.Snapshot()
		resp := &model.StatusResponse{
			Success:   true,
			Connected: snap.State.Connected(),
			State:     snap.State.StatusString(),
			AppName:   snap.AppName,
			Error:     snap.LastError,
		}
		if snap.State == model.StateAwaitingUserConfirmation {
			resp.PairingCode = snap.PairingCode
		}
		return resp, nil
	}

	rec, err := m.store.FindByID(ctx, sessionID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if rec == nil {
		return nil, apperrors.NotFound("Session")
	}

	resp := &model.StatusResponse{
		Success:   true,
		Connected: statusConnected(rec.Status),
		State:     rec.Status,
	}
	if rec.AppName != nil {
		resp.AppName = *rec.AppName
	}
	if rec.LastError != nil {
		resp.Error = *rec.LastError
	}
	return resp, nil
}

func statusConnected(status string) bool {
	switch status {
	case model.StateConnected.StatusString(),
		model.StateDeploying.StatusString(),
		model.StateDeployed.StatusString():
		return true
	}
	return false
}

// Cancel terminates a live session on operator request.
func (m *Manager) Cancel(ctx context.Context, sessionID string) error {
	sess := m.registry.Get(sessionID)
	if sess == nil {
		return apperrors.NotFound("Session")
	}

	cancelErr := apperrors.SessionCancelled()
	if !sess.MarkFailed(cancelErr, time.Now()) {
		return apperrors.New(apperrors.ErrCodeConflict, "Session already in a terminal state")
	}
	m.recordFailure(sess, model.StateFailed.StatusString(), cancelErr)
	audit.Log(ctx, audit.Event{Type: audit.EventSessionCancelled, SessionID: sess.ID, UserID: sess.UserID})
	log.Info().Str("session_id", sess.ID).Str("user_id", sess.UserID).Msg("session cancelled")
	m.release(sess, true)
	sess.Deliver(registry.Outcome{Err: cancelErr})
	return nil
}

// ActiveSessions lists every registered session for the admin surface,
// oldest first. Phone numbers are masked before they leave the manager.
func (m *Manager) ActiveSessions() []model.SessionSummary {
	sessions := m.registry.All()
	out := make([]model.SessionSummary, 0, len(sessions))
	for _, s := range sessions {
		snap := s.Snapshot()
		sum := model.SessionSummary{
			SessionID:   snap.ID,
			UserID:      snap.UserID,
			PhoneNumber: util.MaskPhone(snap.PhoneNumber),
			State:       snap.State.StatusString(),
			CreatedAt:   snap.CreatedAt,
		}
		if !snap.ConnectedAt.IsZero() {
			t := snap.ConnectedAt
			sum.ConnectedAt = &t
		}
		if !snap.DeployedAt.IsZero() {
			t := snap.DeployedAt
			sum.DeployedAt = &t
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// Shutdown waits for in-flight deploy handoffs, then fails whatever is
// still pending so no credential store outlives the process.
func (m *Manager) Shutdown(ctx context.Context) {
	done := make(chan struct{})
	go func() {
		m.deploys.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		log.Warn().Msg("shutdown deadline reached with deploy handoffs in flight")
	}

	shutdownErr := apperrors.Internal("Server shutting down")
	for _, sess := range m.registry.All() {
		if !sess.MarkFailed(shutdownErr, time.Now()) {
			continue
		}
		m.recordFailure(sess, model.StateFailed.StatusString(), shutdownErr)
		m.release(sess, true)
		sess.Deliver(registry.Outcome{Err: shutdownErr})
	}
}

// release tears down a session's runtime. Callers reach here only after
// winning a terminal transition, so it runs at most once per session.
func (m *Manager) release(sess *registry.Session, deleteFiles bool) {
	client, creds := sess.Runtime()
	if client != nil {
		client.Disconnect()
	}
	if creds != nil {
		if err := creds.Release(deleteFiles); err != nil {
			log.Warn().Err(err).Str("session_id", sess.ID).Msg("failed to release credential store")
		}
	}
}

// record runs one status-store write with a bounded context. Store errors
// are logged, never propagated: the store is a sink, not an authority.
func (m *Manager) record(sessionID, op string, fn func(ctx context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Str("op", op).Msg("status store write failed")
	}
}

func (m *Manager) recordFailure(sess *registry.Session, status string, cause error) {
	m.record(sess.ID, "mark_failed", func(ctx context.Context) error {
		return m.store.MarkFailed(ctx, sess.ID, status, cause.Error())
	})
}
