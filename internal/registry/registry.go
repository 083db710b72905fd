package registry

import (
	"sync"
	"time"

	"github.com/xhclintohn/9bot-pair-server/internal/model"
)

// Outcome is the single result delivered to the originating /pair request.
type Outcome struct {
	Code string
	Err  error
}

// CredentialStore is the durable auth-state handle owned by a session until
// it is released or handed to the deploy pipeline.
type CredentialStore interface {
	Path() string
	Release(deleteFiles bool) error
}

// ClientHandle is the connection the session holds on the pairing client.
type ClientHandle interface {
	Disconnect()
}

// Session is one in-flight or recently finished pairing attempt. All
// mutation goes through its methods under the session mutex; the manager is
// the only caller. Transition methods return false when the state machine
// forbids the move, which is how racing timers and events resolve to a
// single winner.
type Session struct {
	ID          string
	UserID      string
	PhoneNumber string
	CreatedAt   time.Time

	mu           sync.Mutex
	state        model.SessionState
	pairingCode  string
	appName      string
	lastErr      error
	connectedAt  time.Time
	deployedAt   time.Time
	terminatedAt time.Time

	responseSent bool
	outcome      chan Outcome
	done         chan struct{}

	expiryTimer *time.Timer
	client      ClientHandle
	creds       CredentialStore
}

func NewSession(id, userID, phoneNumber string, now time.Time) *Session {
	return &Session{
		ID:          id,
		UserID:      userID,
		PhoneNumber: phoneNumber,
		CreatedAt:   now,
		state:       model.StateInitializing,
		outcome:     make(chan Outcome, 1),
		done:        make(chan struct{}),
	}
}

func (s *Session) State() model.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) PairingCode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pairingCode
}

func (s *Session) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// BeginPairing moves Initializing to AwaitingPairingCode.
func (s *Session) BeginPairing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != model.StateInitializing {
		return false
	}
	s.state = model.StateAwaitingPairingCode
	return true
}

// CodeIssued records the pairing code and moves to AwaitingUserConfirmation.
// The code is set at most once; repeated readiness events are no-ops.
func (s *Session) CodeIssued(code string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != model.StateAwaitingPairingCode || s.pairingCode != "" {
		return false
	}
	s.pairingCode = code
	s.state = model.StateAwaitingUserConfirmation
	return true
}

// MarkConnected handles the external open event. Only meaningful while
// awaiting user confirmation; stops the expiry timer so it cannot fire on a
// connected session.
func (s *Session) MarkConnected(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != model.StateAwaitingUserConfirmation {
		return false
	}
	s.state = model.StateConnected
	s.connectedAt = now
	if s.expiryTimer != nil {
		s.expiryTimer.Stop()
		s.expiryTimer = nil
	}
	return true
}

// BeginDeploy moves Connected to Deploying.
func (s *Session) BeginDeploy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != model.StateConnected {
		return false
	}
	s.state = model.StateDeploying
	return true
}

func (s *Session) MarkDeployed(appName string, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != model.StateDeploying {
		return false
	}
	s.state = model.StateDeployed
	s.appName = appName
	s.deployedAt = now
	s.terminatedAt = now
	close(s.done)
	return true
}

// MarkFailed terminates any non-terminal session with the given error.
func (s *Session) MarkFailed(err error, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.IsTerminal() {
		return false
	}
	s.state = model.StateFailed
	s.lastErr = err
	s.terminatedAt = now
	if s.expiryTimer != nil {
		s.expiryTimer.Stop()
		s.expiryTimer = nil
	}
	close(s.done)
	return true
}

// MarkFailedIfAwaitingCode fails the session only while the pairing code has
// not been issued yet. Used by the code-delivery timeout so it cannot kill a
// session whose code squeaked in first.
func (s *Session) MarkFailedIfAwaitingCode(err error, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != model.StateInitializing && s.state != model.StateAwaitingPairingCode {
		return false
	}
	s.state = model.StateFailed
	s.lastErr = err
	s.terminatedAt = now
	if s.expiryTimer != nil {
		s.expiryTimer.Stop()
		s.expiryTimer = nil
	}
	close(s.done)
	return true
}

// MarkExpired fires from the expiry timer. A session that already reached
// Connected (or any downstream state) never expires; exactly one of
// {expire, connect} wins.
func (s *Session) MarkExpired(err error, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Connected() || s.state.IsTerminal() {
		return false
	}
	s.state = model.StateExpired
	s.lastErr = err
	s.terminatedAt = now
	s.expiryTimer = nil
	close(s.done)
	return true
}

// Deliver sends the outcome for the originating HTTP request. Returns false
// if a response was already delivered; the flag flips false to true at most
// once.
func (s *Session) Deliver(out Outcome) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.responseSent {
		return false
	}
	s.responseSent = true
	s.outcome <- out
	return true
}

// Response yields the single pairing outcome for the originating request.
func (s *Session) Response() <-chan Outcome {
	return s.outcome
}

// Done is closed when the session reaches a terminal state. Event loops
// select on it to stop consuming.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

func (s *Session) ResponseSent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.responseSent
}

func (s *Session) SetExpiryTimer(t *time.Timer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expiryTimer = t
}

func (s *Session) StopExpiryTimer() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.expiryTimer != nil {
		s.expiryTimer.Stop()
		s.expiryTimer = nil
	}
}

// AttachRuntime hands the session its client connection and credential
// store once pairing starts.
func (s *Session) AttachRuntime(client ClientHandle, creds CredentialStore) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.client = client
	s.creds = creds
}

func (s *Session) Runtime() (ClientHandle, CredentialStore) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client, s.creds
}

// Terminal reports whether the session finished, and when.
func (s *Session) Terminal() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.terminatedAt, s.state.IsTerminal()
}

// Snapshot is a point-in-time copy safe to serialize from handlers.
type Snapshot struct {
	ID          string
	UserID      string
	PhoneNumber string
	State       model.SessionState
	PairingCode string
	AppName     string
	LastError   string
	CreatedAt   time.Time
	ConnectedAt time.Time
	DeployedAt  time.Time
}

func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		ID:          s.ID,
		UserID:      s.UserID,
		PhoneNumber: s.PhoneNumber,
		State:       s.state,
		PairingCode: s.pairingCode,
		AppName:     s.appName,
		CreatedAt:   s.CreatedAt,
		ConnectedAt: s.connectedAt,
		DeployedAt:  s.deployedAt,
	}
	if s.lastErr != nil {
		snap.LastError = s.lastErr.Error()
	}
	return snap
}

// Registry is the sole owner of live sessions, keyed by session id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func New() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
	}
}

// Register inserts the session unless the user already has an active one.
func (r *Registry) Register(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.sessions {
		if existing.UserID != s.UserID {
			continue
		}
		if _, done := existing.Terminal(); !done {
			return false
		}
	}
	r.sessions[s.ID] = s
	return true
}

func (r *Registry) Get(id string) *Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[id]
}

func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// All returns a snapshot of every registered session.
func (r *Registry) All() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// SweepTerminal evicts terminal sessions whose grace window has passed and
// returns them so the caller can log the eviction.
func (r *Registry) SweepTerminal(now time.Time, grace time.Duration) []*Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	var evicted []*Session
	for id, s := range r.sessions {
		endedAt, done := s.Terminal()
		if !done {
			continue
		}
		if now.Sub(endedAt) >= grace {
			delete(r.sessions, id)
			evicted = append(evicted, s)
		}
	}
	return evicted
}
