package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	defaultBaseURL   = "https://i.instagram.com/api/v1"
	defaultUserAgent = "Instagram 275.0.0.27.98 Android"
)

// httpDoer is the part of *http.Client the RestClient needs.
type httpDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// deviceIDs are the low-level identifiers Instagram associates with a
// device. Reusing them across logins keeps the account's device history
// stable, which lowers the chance of triggering a challenge.
type deviceIDs struct {
	DeviceID string `json:"device_id"`
	PhoneID  string `json:"phone_id"`
	UUID     string `json:"uuid"`
}

// sessionState is the serialized form of a RestClient session. The session
// manager persists it as an opaque blob.
type sessionState struct {
	Username string            `json:"username"`
	Cookies  map[string]string `json:"cookies"`
	UUIDs    deviceIDs         `json:"uuids"`
}

// RestClient is a minimal Client implementation over Instagram's private
// web API. It covers exactly the calls the proxy serves; it is the
// replaceable edge of the system, not its core.
type RestClient struct {
	base   string
	client httpDoer
	logger zerolog.Logger

	mu    sync.Mutex
	state sessionState
}

// NewRestClient creates a RestClient with freshly generated device
// identifiers. Passing a nil doer falls back to http.DefaultClient.
func NewRestClient(client httpDoer, logger zerolog.Logger) *RestClient {
	if client == nil {
		client = http.DefaultClient
	}
	return &RestClient{
		base:   defaultBaseURL,
		client: client,
		logger: logger.With().Str("component", "RestClient").Logger(),
		state: sessionState{
			Cookies: make(map[string]string),
			UUIDs:   newDeviceIDs(),
		},
	}
}

func newDeviceIDs() deviceIDs {
	return deviceIDs{
		DeviceID: "android-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16],
		PhoneID:  uuid.NewString(),
		UUID:     uuid.NewString(),
	}
}

// BaseURL overrides the API base URL. Used by tests to point the client at
// a local server.
func (c *RestClient) BaseURL(base string) error {
	u, err := url.Parse(base)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("invalid base URL %q", base)
	}
	c.base = strings.TrimSuffix(u.String(), "/")
	return nil
}

// Login authenticates with the given credentials.
func (c *RestClient) Login(ctx context.Context, identifier, secret string) error {
	c.mu.Lock()
	ids := c.state.UUIDs
	c.mu.Unlock()

	form := url.Values{
		"username":  {identifier},
		"password":  {secret},
		"device_id": {ids.DeviceID},
		"phone_id":  {ids.PhoneID},
		"guid":      {ids.UUID},
	}

	body, cookies, err := c.do(ctx, http.MethodPost, "/accounts/login/", strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}

	var resp struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return fmt.Errorf("decoding login response: %w", err)
	}
	if resp.Status != "ok" {
		return &Error{Kind: "LoginBad", Message: "login rejected with status " + resp.Status}
	}

	c.mu.Lock()
	c.state.Username = identifier
	for name, value := range cookies {
		c.state.Cookies[name] = value
	}
	c.mu.Unlock()

	c.logger.Info().Str("username", identifier).Msg("Instagram login succeeded.")
	return nil
}

// AccountInfo returns the logged-in account's summary.
func (c *RestClient) AccountInfo(ctx context.Context) (*Account, error) {
	body, _, err := c.do(ctx, http.MethodGet, "/accounts/current_user/?edit=true", nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		User apiUser `json:"user"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding account info: %w", err)
	}

	user, err := resp.User.toUser()
	if err != nil {
		return nil, err
	}
	return &Account{
		Biography:  resp.User.Biography,
		FullName:   user.FullName,
		Handler:    user.Handler,
		ID:         user.ID,
		PictureURL: user.PictureURL,
	}, nil
}

// UserInfo looks a user up by ID.
func (c *RestClient) UserInfo(ctx context.Context, userID int64) (*User, error) {
	return c.fetchUser(ctx, "/users/"+strconv.FormatInt(userID, 10)+"/info/")
}

// UserInfoByHandle looks a user up by handle.
func (c *RestClient) UserInfoByHandle(ctx context.Context, handle string) (*User, error) {
	return c.fetchUser(ctx, "/users/"+url.PathEscape(handle)+"/usernameinfo/")
}

// Followers returns one page of the user's followers.
func (c *RestClient) Followers(ctx context.Context, userID int64, cursor string) (*Connections, error) {
	return c.fetchConnections(ctx, "/friendships/"+strconv.FormatInt(userID, 10)+"/followers/", cursor)
}

// Following returns one page of the users the given user follows.
func (c *RestClient) Following(ctx context.Context, userID int64, cursor string) (*Connections, error) {
	return c.fetchConnections(ctx, "/friendships/"+strconv.FormatInt(userID, 10)+"/following/", cursor)
}

// ExportSession serializes the session state as JSON.
func (c *RestClient) ExportSession() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return json.Marshal(c.state)
}

// ImportSession installs previously exported session state.
func (c *RestClient) ImportSession(blob []byte) error {
	var state sessionState
	if err := json.Unmarshal(blob, &state); err != nil {
		return fmt.Errorf("decoding session blob: %w", err)
	}
	if state.Cookies == nil {
		state.Cookies = make(map[string]string)
	}

	c.mu.Lock()
	c.state = state
	c.mu.Unlock()
	return nil
}

// ClearSession drops cookies and identity, optionally preserving the device
// identifiers.
func (c *RestClient) ClearSession(keepDeviceIDs bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ids := c.state.UUIDs
	c.state = sessionState{Cookies: make(map[string]string), UUIDs: ids}
	if !keepDeviceIDs {
		c.state.UUIDs = newDeviceIDs()
	}
}

// apiUser is the upstream user shape. PK arrives as a number or a string
// depending on the endpoint.
type apiUser struct {
	PK            json.Number `json:"pk"`
	Username      string      `json:"username"`
	FullName      string      `json:"full_name"`
	Biography     string      `json:"biography"`
	ProfilePicURL string      `json:"profile_pic_url"`
}

func (u apiUser) toUser() (*User, error) {
	id, err := u.PK.Int64()
	if err != nil {
		return nil, fmt.Errorf("parsing user pk %q: %w", u.PK.String(), err)
	}
	return &User{
		FullName:   u.FullName,
		Handler:    u.Username,
		ID:         id,
		PictureURL: u.ProfilePicURL,
	}, nil
}

func (c *RestClient) fetchUser(ctx context.Context, endpoint string) (*User, error) {
	body, _, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		User apiUser `json:"user"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding user info: %w", err)
	}
	return resp.User.toUser()
}

func (c *RestClient) fetchConnections(ctx context.Context, endpoint, cursor string) (*Connections, error) {
	if cursor != "" {
		endpoint += "?max_id=" + url.QueryEscape(cursor)
	}

	body, _, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Users     []apiUser `json:"users"`
		NextMaxID string    `json:"next_max_id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decoding connections page: %w", err)
	}

	page := &Connections{
		Next:  resp.NextMaxID,
		Users: make([]User, 0, len(resp.Users)),
	}
	for _, raw := range resp.Users {
		user, err := raw.toUser()
		if err != nil {
			return nil, err
		}
		page.Users = append(page.Users, *user)
	}
	return page, nil
}

// do executes one API request, returning the response body and any cookies
// the upstream set. Non-2xx responses are classified into the package's
// error taxonomy.
func (c *RestClient) do(ctx context.Context, method, endpoint string, body io.Reader) ([]byte, map[string]string, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+endpoint, body)
	if err != nil {
		return nil, nil, fmt.Errorf("building request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", defaultUserAgent)
	if method == http.MethodPost {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	c.mu.Lock()
	for name, value := range c.state.Cookies {
		req.AddCookie(&http.Cookie{Name: name, Value: value})
	}
	c.mu.Unlock()

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, nil, &Error{Kind: "ProxyError", Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("reading response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, nil, c.classify(resp.StatusCode, raw)
	}

	cookies := make(map[string]string)
	for _, cookie := range resp.Cookies() {
		cookies[cookie.Name] = cookie.Value
	}
	return raw, cookies, nil
}

// classify maps an upstream failure response onto the error taxonomy.
func (c *RestClient) classify(status int, body []byte) error {
	var envelope struct {
		Message   string `json:"message"`
		ErrorType string `json:"error_type"`
	}
	_ = json.Unmarshal(body, &envelope)

	c.logger.Debug().
		Int("status", status).
		Str("error_type", envelope.ErrorType).
		Msg("Instagram request failed.")

	switch envelope.ErrorType {
	case "checkpoint_challenge_required", "challenge_required":
		return &Error{Kind: "ChallengeRequired", Message: envelope.Message}
	case "login_required":
		return &Error{Kind: "LoginRequired", Message: envelope.Message}
	}

	switch {
	case envelope.Message == "User not found" || status == http.StatusNotFound:
		return &Error{Kind: "UserNotFound", Message: envelope.Message}
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &Error{Kind: "ClientUnauthorized", Message: envelope.Message}
	case status == http.StatusProxyAuthRequired || status == http.StatusBadGateway:
		return &Error{Kind: "ProxyError", Message: envelope.Message}
	}

	return &Error{Kind: "UnexpectedResponse", Message: fmt.Sprintf("status %d: %s", status, envelope.Message)}
}
