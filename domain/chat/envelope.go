package chat

// Envelope is one discrete value exchanged over a channel.
// The set of variants is closed: only types of this package implement it.
type Envelope interface {
	envelope()
}

type LoginRequest struct {
	Username string
	Password string
}

type RegisterRequest struct {
	Username string
	Password string
}

// ListScope tells a client which list a UserListSnapshot carries.
type ListScope string

const (
	// ScopeKnown is every registered account, sent once on a successful login.
	ScopeKnown ListScope = "KNOWN"
	// ScopeOnline is the presence list pushed whenever someone joins or leaves.
	ScopeOnline ListScope = "ONLINE"
)

type UserListSnapshot struct {
	Scope     ListScope
	Usernames []string
}

// PlainTextNotice carries the handshake result strings ("OK: ...", "ERROR: ...").
type PlainTextNotice struct {
	Text string
}

func (LoginRequest) envelope()     {}
func (RegisterRequest) envelope()  {}
func (ChatMessage) envelope()      {}
func (UserListSnapshot) envelope() {}
func (PlainTextNotice) envelope()  {}

// Presence builds the ONLINE snapshot pushed to every connected client.
func Presence(usernames []string) UserListSnapshot {
	return UserListSnapshot{Scope: ScopeOnline, Usernames: usernames}
}
