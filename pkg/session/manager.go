package session

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/illmade-knight/go-instaproxy/pkg/instagram"
	"github.com/rs/zerolog"
)

// ErrInitFailed is returned when every step of the login fallback chain has
// failed. There is no further fallback; the caller sees this error.
var ErrInitFailed = errors.New("could not establish instagram session")

// ErrMissingCredentials is returned at construction when the login
// identifier or secret is not configured. This is a fatal startup
// condition for any code path that needs a session.
var ErrMissingCredentials = errors.New("instagram credentials not configured")

// State describes the manager's lifecycle position.
type State int32

const (
	// StateEmpty means no session is held; the next Get runs the login
	// workflow.
	StateEmpty State = iota
	// StateAuthenticating means a login workflow is running under the
	// manager's mutex.
	StateAuthenticating
	// StateReady means a live session is held.
	StateReady
)

// String satisfies fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	}
	return "unknown"
}

// Session is a live authenticated client together with the summary of the
// account it is logged in as.
type Session struct {
	Client  instagram.Client
	Account *instagram.Account
}

// Config holds the login credentials.
type Config struct {
	Identifier string
	Secret     string
}

// Manager owns at most one live Session. Get serializes (re)creation under
// a mutex; Reset clears the slot without taking that mutex, so it is safe
// to call from error-handling paths while a login is in flight.
//
// The reset race is deliberate and gives at-least-once invalidation, not
// exactly-once: a Get that captured the old session before Reset ran still
// hands that stale reference out once, and a Get concurrent with Reset may
// redundantly run a second login.
type Manager struct {
	cfg       Config
	store     Store
	newClient func() instagram.Client
	logger    zerolog.Logger

	mu       sync.Mutex // serializes login workflows
	current  atomic.Pointer[Session]
	resetGen atomic.Uint64
	state    atomic.Int32
}

// NewManager creates a Manager. Missing credentials fail immediately.
// newClient builds a fresh upstream client for each login workflow.
func NewManager(
	cfg Config,
	store Store,
	newClient func() instagram.Client,
	logger zerolog.Logger,
) (*Manager, error) {
	if cfg.Identifier == "" || cfg.Secret == "" {
		return nil, ErrMissingCredentials
	}
	if store == nil {
		return nil, errors.New("session store cannot be nil")
	}
	if newClient == nil {
		return nil, errors.New("client factory cannot be nil")
	}

	return &Manager{
		cfg:       cfg,
		store:     store,
		newClient: newClient,
		logger:    logger.With().Str("component", "SessionManager").Logger(),
	}, nil
}

// State returns the manager's current lifecycle state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// Get returns the live session, running the login workflow first if the
// slot is empty, if force is set, or if a Reset raced this call. Concurrent
// callers block on the mutex and observe the populated slot once it frees.
func (m *Manager) Get(ctx context.Context, force bool) (*Session, error) {
	gen := m.resetGen.Load()

	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.current.Load()
	if current != nil && !force && m.resetGen.Load() == gen {
		return current, nil
	}

	m.state.Store(int32(StateAuthenticating))
	session, err := m.login(ctx)
	if err != nil {
		// A failed forced refresh leaves the previous session in the slot
		// and the next Get hands it out again; the state has to keep
		// describing whatever the slot holds.
		if m.current.Load() != nil {
			m.state.Store(int32(StateReady))
		} else {
			m.state.Store(int32(StateEmpty))
		}
		return nil, err
	}

	m.current.Store(session)
	m.state.Store(int32(StateReady))
	return session, nil
}

// Reset clears the session slot so the next Get performs a fresh login. It
// never blocks: no mutex is taken, so it cannot deadlock against an
// in-flight Get.
func (m *Manager) Reset() {
	m.current.Store(nil)
	m.resetGen.Add(1)
	m.state.Store(int32(StateEmpty))
	m.logger.Info().Msg("Session reset, next Get will log in again.")
}

// login runs the fallback chain: restore a persisted session and verify it;
// on a stale session re-login preserving the device identifiers; otherwise
// perform a full credential login. Must be called with the mutex held.
func (m *Manager) login(ctx context.Context) (*Session, error) {
	identity := identityHash(m.cfg.Identifier)
	client := m.newClient()

	account, restored := m.restore(ctx, client, identity)

	if !restored {
		m.logger.Info().Msg("Starting full credential login.")
		if err := client.Login(ctx, m.cfg.Identifier, m.cfg.Secret); err != nil {
			m.logger.Error().Err(err).Msg("Credential login failed.")
			return nil, fmt.Errorf("%w: %w", ErrInitFailed, err)
		}
	}

	// Persist unconditionally after any successful login; the write is
	// idempotent and keeps the blob current.
	if blob, err := client.ExportSession(); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to export session for persistence.")
	} else if err := m.store.Save(ctx, identity, blob); err != nil {
		m.logger.Warn().Err(err).Msg("Failed to persist session blob.")
	}

	if account == nil {
		fetched, err := client.AccountInfo(ctx)
		if err != nil {
			return nil, fmt.Errorf("fetching account summary: %w", err)
		}
		account = fetched
	}

	m.logger.Info().Str("handler", account.Handler).Msg("Instagram session established.")
	return &Session{Client: client, Account: account}, nil
}

// restore attempts to rebuild a session from the persisted blob. It returns
// the verified account summary when available, and whether any restore path
// produced a logged-in client. All failures here are non-fatal: the caller
// falls back to a full credential login.
func (m *Manager) restore(ctx context.Context, client instagram.Client, identity string) (*instagram.Account, bool) {
	blob, err := m.store.Load(ctx, identity)
	if errors.Is(err, ErrNoSession) {
		m.logger.Debug().Str("identity", identity).Msg("No persisted session found.")
		return nil, false
	}
	if err != nil {
		m.logger.Warn().Err(err).Msg("Failed to load persisted session.")
		return nil, false
	}

	if err := client.ImportSession(blob); err != nil {
		m.logger.Warn().Err(err).Msg("Persisted session blob is unreadable.")
		return nil, false
	}

	if err := client.Login(ctx, m.cfg.Identifier, m.cfg.Secret); err != nil {
		m.logger.Info().Err(err).Msg("Persisted session is invalid.")
		return nil, false
	}

	account, err := client.AccountInfo(ctx)
	if err == nil {
		return account, true
	}

	if instagram.IsAuthError(err) {
		// The restored session no longer verifies. Keep the device
		// identifiers from the stale blob and log in again, so Instagram
		// sees a familiar device rather than a brand new one.
		m.logger.Info().Msg("Instagram session is invalid, logging in again.")
		client.ClearSession(true)
		if err := client.Login(ctx, m.cfg.Identifier, m.cfg.Secret); err != nil {
			m.logger.Info().Err(err).Msg("Re-login after stale session failed.")
			return nil, false
		}
		return nil, true
	}

	m.logger.Info().Err(err).Msg("Session verification failed.")
	return nil, false
}

// identityHash derives the stable per-account identity used to key the
// persisted session blob.
func identityHash(identifier string) string {
	sum := md5.Sum([]byte(identifier))
	return hex.EncodeToString(sum[:])
}
