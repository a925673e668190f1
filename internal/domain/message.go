package domain

// MessageType is the protocol-level kind of a message.
type MessageType string

const (
	MessageHello  MessageType = "HELLO"
	MessageNormal MessageType = "NORMAL"
	MessageClose  MessageType = "CLOSE"
)

// MessageStatus tracks outbound delivery. Inbound messages are DELIVERED.
type MessageStatus string

const (
	StatusDelivering MessageStatus = "DELIVERING"
	StatusDelivered  MessageStatus = "DELIVERED"
	StatusFailed     MessageStatus = "FAILED"
)

// MessageID is the hex SHA-256 of the ratchet MAC.
type MessageID string

// String returns the string form of the id.
func (id MessageID) String() string { return string(id) }

// Message is a stored conversation entry.
type Message struct {
	ID           MessageID     `json:"id"`
	Owner        Address       `json:"owner"`
	SessionTag   SessionTag    `json:"session_tag"`
	Type         MessageType   `json:"type"`
	Timestamp    int64         `json:"timestamp"`
	Payload      []byte        `json:"payload"`
	IsFromSelf   bool          `json:"is_from_self"`
	Status       MessageStatus `json:"status"`
	TransportRef Ref           `json:"transport_ref,omitempty"`
}

// Content is the plaintext carried inside the ratchet ciphertext.
type Content struct {
	Type      MessageType
	Timestamp int64
	From      Address
	Subject   string
	Body      []byte
}
