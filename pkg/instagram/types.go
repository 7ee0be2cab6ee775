// Package instagram defines the contract between the proxy core and the
// upstream Instagram client: the data shapes the proxy exposes, the error
// taxonomy request handlers classify against, and a minimal REST client.
//
// Instagram's private API changes frequently; everything above this package
// treats the client as a replaceable collaborator behind the Client
// interface.
package instagram

// Account describes the account the proxy is logged in as.
type Account struct {
	Biography  string `json:"biography"`
	FullName   string `json:"fullName"`
	Handler    string `json:"handler"`
	ID         int64  `json:"id"`
	PictureURL string `json:"pictureURL,omitempty"`
}

// User describes any Instagram user returned by a lookup.
type User struct {
	FullName   string `json:"fullName"`
	Handler    string `json:"handler"`
	ID         int64  `json:"id"`
	PictureURL string `json:"pictureURL,omitempty"`
}

// Connections is one page of a user's follower or following list. Next is
// the opaque cursor for the following page; empty means the listing is
// exhausted. An empty cursor on the request side means "from the start".
type Connections struct {
	Next  string `json:"next,omitempty"`
	Users []User `json:"users"`
}
