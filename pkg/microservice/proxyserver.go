package microservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/illmade-knight/go-instaproxy/pkg/cache"
	"github.com/illmade-knight/go-instaproxy/pkg/instagram"
	"github.com/illmade-knight/go-instaproxy/pkg/notify"
	"github.com/illmade-knight/go-instaproxy/pkg/session"
	"github.com/rs/zerolog"
)

// Lookup TTLs fixed by the proxy's contract: user lookups are cached for
// ten minutes, connection listings for an hour.
const (
	userTTL        = 10 * time.Minute
	connectionsTTL = time.Hour
)

// Service defines the common lifecycle interface for the proxy server.
type Service interface {
	Start() error
	Shutdown(ctx context.Context) error
	Mux() *http.ServeMux
	GetHTTPPort() string
}

// connectionsQuery keys a follower/following page lookup. The cursor is
// part of the key so each page caches independently.
type connectionsQuery struct {
	UserID int64
	Cursor string
}

// ProxyServer serves the proxy's HTTP routes. Lookups go through memoized
// fetchers; failures are classified here, feeding the session manager's
// reset path and the notification dispatcher.
type ProxyServer struct {
	Logger     zerolog.Logger
	HTTPPort   string
	httpServer *http.Server
	mux        *http.ServeMux
	actualAddr string
	mu         sync.RWMutex

	sessions *session.Manager
	notifier *notify.Dispatcher

	userByHandle *cache.MemoizedFetcher[string, *instagram.User]
	userByID     *cache.MemoizedFetcher[int64, *instagram.User]
	followers    *cache.MemoizedFetcher[connectionsQuery, *instagram.Connections]
	following    *cache.MemoizedFetcher[connectionsQuery, *instagram.Connections]
}

// NewProxyServer creates and initializes a ProxyServer.
func NewProxyServer(
	httpPort string,
	sessions *session.Manager,
	notifier *notify.Dispatcher,
	logger zerolog.Logger,
) *ProxyServer {
	s := &ProxyServer{
		Logger:   logger.With().Str("component", "ProxyServer").Logger(),
		HTTPPort: httpPort,
		mux:      http.NewServeMux(),
		sessions: sessions,
		notifier: notifier,
	}

	handleKey := func(handle string) string {
		return cache.Key([]any{handle}, nil)
	}
	idKey := func(id int64) string {
		return cache.Key([]any{id}, nil)
	}
	pageKey := func(q connectionsQuery) string {
		opts := map[string]string{}
		if q.Cursor != "" {
			opts["next_cursor"] = q.Cursor
		}
		return cache.Key([]any{q.UserID}, opts)
	}

	s.userByHandle = cache.NewMemoizedFetcher(userTTL, handleKey, s.fetchUserByHandle, logger)
	s.userByID = cache.NewMemoizedFetcher(userTTL, idKey, s.fetchUserByID, logger)
	s.followers = cache.NewMemoizedFetcher(connectionsTTL, pageKey, s.fetchFollowers, logger)
	s.following = cache.NewMemoizedFetcher(connectionsTTL, pageKey, s.fetchFollowing, logger)

	s.mux.HandleFunc("/healthz", HealthzHandler)
	s.mux.HandleFunc("GET /me", s.handleMe)
	s.mux.HandleFunc("GET /account/{handler}", s.handleUserByHandle)
	s.mux.HandleFunc("GET /account-id/{user_id}", s.handleUserByID)
	s.mux.HandleFunc("GET /followers/{user_id}", s.handleFollowers)
	s.mux.HandleFunc("GET /following/{user_id}", s.handleFollowing)

	s.httpServer = &http.Server{
		Addr:    httpPort,
		Handler: s.mux,
	}
	return s
}

// Start initiates the HTTP server in a background goroutine.
func (s *ProxyServer) Start() error {
	listener, err := net.Listen("tcp", s.HTTPPort)
	if err != nil {
		return fmt.Errorf("failed to listen on port %s: %w", s.HTTPPort, err)
	}

	s.mu.Lock()
	s.actualAddr = listener.Addr().String()
	s.mu.Unlock()

	s.Logger.Info().Str("address", s.actualAddr).Msg("HTTP server starting to listen")

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.Logger.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	return nil
}

// Shutdown gracefully stops the HTTP server, respecting the provided
// context's deadline.
func (s *ProxyServer) Shutdown(ctx context.Context) error {
	s.Logger.Info().Msg("Shutting down HTTP server...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.Logger.Error().Err(err).Msg("Error during HTTP server shutdown.")
		return err
	}
	s.Logger.Info().Msg("HTTP server stopped.")
	return nil
}

// GetHTTPPort returns the actual port the server is listening on.
func (s *ProxyServer) GetHTTPPort() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, port, err := net.SplitHostPort(s.actualAddr)
	if err != nil {
		return s.HTTPPort
	}
	return ":" + port
}

// Mux returns the underlying ServeMux.
func (s *ProxyServer) Mux() *http.ServeMux {
	return s.mux
}

// HealthzHandler responds to health check probes.
func HealthzHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// --- Fetchers: session acquisition happens only on a cache miss. ---

func (s *ProxyServer) fetchUserByHandle(ctx context.Context, handle string) (*instagram.User, error) {
	sess, err := s.sessions.Get(ctx, false)
	if err != nil {
		return nil, err
	}
	return sess.Client.UserInfoByHandle(ctx, handle)
}

func (s *ProxyServer) fetchUserByID(ctx context.Context, userID int64) (*instagram.User, error) {
	sess, err := s.sessions.Get(ctx, false)
	if err != nil {
		return nil, err
	}
	return sess.Client.UserInfo(ctx, userID)
}

func (s *ProxyServer) fetchFollowers(ctx context.Context, q connectionsQuery) (*instagram.Connections, error) {
	sess, err := s.sessions.Get(ctx, false)
	if err != nil {
		return nil, err
	}
	return sess.Client.Followers(ctx, q.UserID, q.Cursor)
}

func (s *ProxyServer) fetchFollowing(ctx context.Context, q connectionsQuery) (*instagram.Connections, error) {
	sess, err := s.sessions.Get(ctx, false)
	if err != nil {
		return nil, err
	}
	return sess.Client.Following(ctx, q.UserID, q.Cursor)
}

// --- Handlers ---

func (s *ProxyServer) handleMe(w http.ResponseWriter, r *http.Request) {
	sess, err := s.sessions.Get(r.Context(), false)
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, sess.Account)
}

func (s *ProxyServer) handleUserByHandle(w http.ResponseWriter, r *http.Request) {
	handle := strings.Trim(r.PathValue("handler"), "@")

	user, err := s.userByHandle.Fetch(r.Context(), handle)
	if errors.Is(err, instagram.ErrUserNotFound) {
		s.writeJSON(w, http.StatusNotFound, map[string]string{
			"error": fmt.Sprintf("User %s does not exist", handle),
		})
		return
	}
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, user)
}

func (s *ProxyServer) handleUserByID(w http.ResponseWriter, r *http.Request) {
	userID, ok := s.pathUserID(w, r)
	if !ok {
		return
	}

	user, err := s.userByID.Fetch(r.Context(), userID)
	if errors.Is(err, instagram.ErrUserNotFound) {
		s.writeJSON(w, http.StatusNotFound, map[string]string{
			"error": fmt.Sprintf("User with ID %d does not exist", userID),
		})
		return
	}
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, user)
}

func (s *ProxyServer) handleFollowers(w http.ResponseWriter, r *http.Request) {
	s.handleConnections(w, r, s.followers)
}

func (s *ProxyServer) handleFollowing(w http.ResponseWriter, r *http.Request) {
	s.handleConnections(w, r, s.following)
}

func (s *ProxyServer) handleConnections(
	w http.ResponseWriter,
	r *http.Request,
	fetcher *cache.MemoizedFetcher[connectionsQuery, *instagram.Connections],
) {
	userID, ok := s.pathUserID(w, r)
	if !ok {
		return
	}

	page, err := fetcher.Fetch(r.Context(), connectionsQuery{
		UserID: userID,
		Cursor: r.URL.Query().Get("next_cursor"),
	})
	if err != nil {
		s.writeFailure(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, page)
}

func (s *ProxyServer) pathUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.PathValue("user_id")
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("invalid user id %q", raw),
		})
		return 0, false
	}
	return userID, true
}

// writeFailure classifies an upstream error. Auth failures reset the
// session before being enqueued so the next request logs in fresh;
// challenge failures are enqueued without a reset, since only a human can
// clear them. Every classified failure reaches the notification path.
func (s *ProxyServer) writeFailure(w http.ResponseWriter, err error) {
	switch {
	case instagram.IsAuthError(err):
		s.Logger.Warn().Err(err).Msg("Auth failure, resetting session.")
		s.sessions.Reset()
		s.notifier.Enqueue(err)
	case instagram.IsChallengeError(err):
		s.Logger.Warn().Err(err).Msg("Challenge required, notifying operator.")
		s.notifier.Enqueue(err)
	default:
		s.Logger.Error().Err(err).Msg("Request failed.")
	}

	s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func (s *ProxyServer) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.Logger.Error().Err(err).Msg("Failed to encode response body.")
	}
}
