package domain

import "context"

// Transport is the append-only, replayable broadcast log.
type Transport interface {
	// Publish appends a hex frame and returns its reference.
	Publish(ctx context.Context, frame string) (Ref, error)
	// Poll returns every item at or above cursor.
	Poll(ctx context.Context, cursor Cursor) (Batch, error)
	// Confirmations reports how many blocks follow ref. ErrRefFailed means
	// the transport dropped it.
	Confirmations(ctx context.Context, ref Ref) (int, error)
}

// Clock maps a transport reference to its transport-assigned time in ms.
type Clock interface {
	TimestampOf(ctx context.Context, ref Ref) (int64, error)
}

// IdentityDirectory resolves addresses to identity fingerprints.
type IdentityDirectory interface {
	Identity(ctx context.Context, addr Address) (IdentityRecord, error)
	Register(ctx context.Context, addr Address, pub PublicKey) error
}

// PackageDirectory stores published pre-key packages.
type PackageDirectory interface {
	Publish(ctx context.Context, addr Address, pkg PreKeyPackage) error
	Fetch(ctx context.Context, addr Address) (PreKeyPackage, error)
}

// IdentityStore persists the local identity encrypted under a passphrase.
type IdentityStore interface {
	SaveIdentity(passphrase string, id Identity) error
	LoadIdentity(passphrase string) (Identity, error)
}

// PreKeyStore holds the private halves of published pre-keys.
type PreKeyStore interface {
	Load(id PreKeyID) (KeyPair, bool, error)
	Save(id PreKeyID, pair KeyPair) error
	Delete(id PreKeyID) error
	IDs() ([]PreKeyID, error)
	SaveMeta(meta PreKeyMeta) error
	LoadMeta() (PreKeyMeta, bool, error)
}

// RatchetStore persists opaque ratchet state blobs by session tag.
type RatchetStore interface {
	LoadRatchet(tag SessionTag) ([]byte, bool, error)
	SaveRatchet(tag SessionTag, blob []byte) error
	DeleteRatchet(tag SessionTag) error
}

// Ratchet is the sequential per-conversation cipher. Calls for one tag must
// be serialized by the caller.
type Ratchet interface {
	Identity(ctx context.Context) (PublicKey, error)
	LoadSession(ctx context.Context, tag SessionTag) (bool, error)
	// Encrypt creates the session from remote when it does not exist yet.
	Encrypt(ctx context.Context, tag SessionTag, plaintext []byte, remote *PublicKey) (CipherMessage, error)
	// Decrypt creates the session from local when msg is a pre-key message.
	Decrypt(ctx context.Context, tag SessionTag, msg CipherMessage, local *KeyPair) ([]byte, error)
	DeleteSession(ctx context.Context, tag SessionTag) error
}

// Store persists sessions, messages and the ingest cursor.
type Store interface {
	GetSession(ctx context.Context, owner Address, tag SessionTag) (Session, error)
	FindOpenSession(ctx context.Context, owner, peer Address) (Session, error)
	ListSessions(ctx context.Context, owner Address) ([]Session, error)
	PutSession(ctx context.Context, s Session) error
	DeleteSession(ctx context.Context, owner Address, tag SessionTag) error

	GetMessage(ctx context.Context, owner Address, id MessageID) (Message, error)
	HasMessage(ctx context.Context, owner Address, id MessageID) (bool, error)
	ListMessages(ctx context.Context, owner Address, tag SessionTag, from, to int64) ([]Message, error)
	MessagesByStatus(ctx context.Context, owner Address, status MessageStatus) ([]Message, error)
	UpdateMessageStatus(ctx context.Context, owner Address, id MessageID, status MessageStatus) error

	// Commit inserts msg (when non-nil) and upserts s atomically. A message
	// id that already exists leaves both untouched and reports false.
	Commit(ctx context.Context, s *Session, msg *Message) (bool, error)

	Cursor(ctx context.Context, owner Address) (Cursor, error)
	SetCursor(ctx context.Context, owner Address, c Cursor) error
}
