package instagram

import "context"

// Client is the upstream Instagram client the proxy core drives. Session
// state (cookies, device identifiers) lives inside the client; the core
// only moves it in and out as an opaque blob.
type Client interface {
	// Login authenticates with the given credentials, reusing any session
	// state previously installed with ImportSession.
	Login(ctx context.Context, identifier, secret string) error

	// AccountInfo returns the account currently logged in. It is also the
	// verification step after restoring a persisted session: an auth error
	// here means the restored session is stale.
	AccountInfo(ctx context.Context) (*Account, error)

	// UserInfo looks a user up by numeric ID.
	UserInfo(ctx context.Context, userID int64) (*User, error)

	// UserInfoByHandle looks a user up by handle (without the @ prefix).
	UserInfoByHandle(ctx context.Context, handle string) (*User, error)

	// Followers returns one page of the user's followers. An empty cursor
	// starts from the beginning.
	Followers(ctx context.Context, userID int64, cursor string) (*Connections, error)

	// Following returns one page of the users the given user follows.
	Following(ctx context.Context, userID int64, cursor string) (*Connections, error)

	// ExportSession serializes the client's session state.
	ExportSession() ([]byte, error)

	// ImportSession installs previously exported session state.
	ImportSession(blob []byte) error

	// ClearSession drops the client's session state. With keepDeviceIDs the
	// low-level device identifiers survive, so a subsequent Login presents
	// the same device to Instagram.
	ClearSession(keepDeviceIDs bool)
}
