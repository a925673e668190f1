package domain

// SessionTag identifies one conversation. It is generated by the initiator,
// carried in every envelope and never reassigned.
type SessionTag string

// String returns the string form of the tag.
func (t SessionTag) String() string { return string(t) }

// SessionState is the conversation state.
type SessionState string

const (
	SessionNew         SessionState = "NEW"
	SessionEstablished SessionState = "ESTABLISHED"
	SessionClosed      SessionState = "CLOSED"
)

// Session is the local record of one conversation, keyed by (Tag, Owner).
type Session struct {
	Tag         SessionTag   `json:"tag"`
	Owner       Address      `json:"owner"`
	Peer        Address      `json:"peer"`
	State       SessionState `json:"state"`
	Subject     string       `json:"subject,omitempty"`
	LastUpdate  int64        `json:"last_update"`
	UnreadCount int          `json:"unread_count"`
	IsClosed    bool         `json:"is_closed"`
}
