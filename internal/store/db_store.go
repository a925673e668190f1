package store

import (
	"cmp"
	"context"
	"fmt"
	"path/filepath"
	"slices"
	"sync"

	"chainmail/internal/domain"
)

const dbFilename = "db.json"

// dbFile is the on-disk layout. Keys are "<owner>|<tag>" or "<owner>|<id>".
type dbFile struct {
	Sessions map[string]domain.Session        `json:"sessions"`
	Messages map[string]domain.Message        `json:"messages"`
	Cursors  map[domain.Address]domain.Cursor `json:"cursors"`
}

// DBFileStore implements domain.Store on a single JSON file. The whole
// document is held in memory and rewritten on every mutation.
type DBFileStore struct {
	path string
	mu   sync.RWMutex
	db   dbFile
}

// NewDBFileStore opens (or creates on first write) the database under dir.
func NewDBFileStore(dir string) (*DBFileStore, error) {
	s := &DBFileStore{
		path: filepath.Join(dir, dbFilename),
		db: dbFile{
			Sessions: map[string]domain.Session{},
			Messages: map[string]domain.Message{},
			Cursors:  map[domain.Address]domain.Cursor{},
		},
	}
	if _, err := readJSON(s.path, &s.db); err != nil {
		return nil, fmt.Errorf("open %s: %w", s.path, err)
	}
	if s.db.Sessions == nil {
		s.db.Sessions = map[string]domain.Session{}
	}
	if s.db.Messages == nil {
		s.db.Messages = map[string]domain.Message{}
	}
	if s.db.Cursors == nil {
		s.db.Cursors = map[domain.Address]domain.Cursor{}
	}
	return s, nil
}

func sessionKey(owner domain.Address, tag domain.SessionTag) string {
	return string(owner) + "|" + string(tag)
}

func messageKey(owner domain.Address, id domain.MessageID) string {
	return string(owner) + "|" + string(id)
}

func (s *DBFileStore) flush() error { return writeJSON(s.path, s.db) }

func (s *DBFileStore) GetSession(_ context.Context, owner domain.Address, tag domain.SessionTag) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.db.Sessions[sessionKey(owner, tag)]
	if !ok {
		return domain.Session{}, fmt.Errorf("session %s: %w", tag, domain.ErrNotFound)
	}
	return sess, nil
}

// FindOpenSession returns the most recently updated session with peer that
// is not closed.
func (s *DBFileStore) FindOpenSession(_ context.Context, owner, peer domain.Address) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		best  domain.Session
		found bool
	)
	for _, sess := range s.db.Sessions {
		if sess.Owner != owner || sess.Peer != peer || sess.IsClosed {
			continue
		}
		if !found || sess.LastUpdate > best.LastUpdate {
			best, found = sess, true
		}
	}
	if !found {
		return domain.Session{}, fmt.Errorf("open session with %s: %w", peer, domain.ErrNotFound)
	}
	return best, nil
}

// ListSessions returns owner's sessions, most recently updated first.
func (s *DBFileStore) ListSessions(_ context.Context, owner domain.Address) ([]domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Session
	for _, sess := range s.db.Sessions {
		if sess.Owner == owner {
			out = append(out, sess)
		}
	}
	slices.SortFunc(out, func(a, b domain.Session) int {
		if c := cmp.Compare(b.LastUpdate, a.LastUpdate); c != 0 {
			return c
		}
		return cmp.Compare(a.Tag, b.Tag)
	})
	return out, nil
}

func (s *DBFileStore) PutSession(_ context.Context, sess domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := sessionKey(sess.Owner, sess.Tag)
	prev, had := s.db.Sessions[k]
	s.db.Sessions[k] = sess
	if err := s.flush(); err != nil {
		if had {
			s.db.Sessions[k] = prev
		} else {
			delete(s.db.Sessions, k)
		}
		return err
	}
	return nil
}

// DeleteSession removes the session record. Its messages are kept.
func (s *DBFileStore) DeleteSession(_ context.Context, owner domain.Address, tag domain.SessionTag) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := sessionKey(owner, tag)
	prev, had := s.db.Sessions[k]
	if !had {
		return nil
	}
	delete(s.db.Sessions, k)
	if err := s.flush(); err != nil {
		s.db.Sessions[k] = prev
		return err
	}
	return nil
}

func (s *DBFileStore) GetMessage(_ context.Context, owner domain.Address, id domain.MessageID) (domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.db.Messages[messageKey(owner, id)]
	if !ok {
		return domain.Message{}, fmt.Errorf("message %s: %w", id, domain.ErrNotFound)
	}
	return m, nil
}

func (s *DBFileStore) HasMessage(_ context.Context, owner domain.Address, id domain.MessageID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.db.Messages[messageKey(owner, id)]
	return ok, nil
}

// ListMessages returns the messages of a session with from <= Timestamp <=
// to, oldest first. A non-positive to means no upper bound.
func (s *DBFileStore) ListMessages(_ context.Context, owner domain.Address, tag domain.SessionTag, from, to int64) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Message
	for _, m := range s.db.Messages {
		if m.Owner != owner || m.SessionTag != tag || m.Timestamp < from {
			continue
		}
		if to > 0 && m.Timestamp > to {
			continue
		}
		out = append(out, m)
	}
	sortMessages(out)
	return out, nil
}

func (s *DBFileStore) MessagesByStatus(_ context.Context, owner domain.Address, status domain.MessageStatus) ([]domain.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Message
	for _, m := range s.db.Messages {
		if m.Owner == owner && m.Status == status {
			out = append(out, m)
		}
	}
	sortMessages(out)
	return out, nil
}

func (s *DBFileStore) UpdateMessageStatus(_ context.Context, owner domain.Address, id domain.MessageID, status domain.MessageStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := messageKey(owner, id)
	m, ok := s.db.Messages[k]
	if !ok {
		return fmt.Errorf("message %s: %w", id, domain.ErrNotFound)
	}
	prev := m.Status
	m.Status = status
	s.db.Messages[k] = m
	if err := s.flush(); err != nil {
		m.Status = prev
		s.db.Messages[k] = m
		return err
	}
	return nil
}

func (s *DBFileStore) Commit(_ context.Context, sess *domain.Session, msg *domain.Message) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var mk string
	if msg != nil {
		mk = messageKey(msg.Owner, msg.ID)
		if _, dup := s.db.Messages[mk]; dup {
			return false, nil
		}
		s.db.Messages[mk] = *msg
	}

	var (
		sk      string
		prev    domain.Session
		hadPrev bool
	)
	if sess != nil {
		sk = sessionKey(sess.Owner, sess.Tag)
		prev, hadPrev = s.db.Sessions[sk]
		s.db.Sessions[sk] = *sess
	}

	if err := s.flush(); err != nil {
		if msg != nil {
			delete(s.db.Messages, mk)
		}
		if sess != nil {
			if hadPrev {
				s.db.Sessions[sk] = prev
			} else {
				delete(s.db.Sessions, sk)
			}
		}
		return false, err
	}
	return true, nil
}

func (s *DBFileStore) Cursor(_ context.Context, owner domain.Address) (domain.Cursor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.Cursors[owner], nil
}

func (s *DBFileStore) SetCursor(_ context.Context, owner domain.Address, c domain.Cursor) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.db.Cursors[owner]
	s.db.Cursors[owner] = c
	if err := s.flush(); err != nil {
		if had {
			s.db.Cursors[owner] = prev
		} else {
			delete(s.db.Cursors, owner)
		}
		return err
	}
	return nil
}

func sortMessages(ms []domain.Message) {
	slices.SortFunc(ms, func(a, b domain.Message) int {
		if c := cmp.Compare(a.Timestamp, b.Timestamp); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

var _ domain.Store = (*DBFileStore)(nil)
