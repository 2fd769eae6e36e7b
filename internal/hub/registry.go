package hub

import "keyrelay/internal/keys"

// Session is the record of one online user.
type Session struct {
	UserID   UserID
	Username string
	FullName string

	client *Client
	keys   *keys.KeyPair
}

// Client returns the connection the session is currently bound to.
func (s *Session) Client() *Client { return s.client }

// PublicKey exports the session's public key.
func (s *Session) PublicKey() string { return s.keys.ExportPublic() }

// Registry maps each online user to exactly one Session. It is not safe for
// concurrent use; the manager loop owns it.
type Registry struct {
	sessions map[UserID]*Session
	order    []UserID
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[UserID]*Session)}
}

// Admit stores s, replacing any session already held for the same user.
// The replaced session, if any, is returned with its key material wiped.
func (r *Registry) Admit(s *Session) *Session {
	prev, ok := r.sessions[s.UserID]
	r.sessions[s.UserID] = s
	if !ok {
		r.order = append(r.order, s.UserID)
		return nil
	}
	if prev.keys != nil && prev.keys != s.keys {
		prev.keys.Wipe()
	}
	return prev
}

// Lookup returns the session held for user, if any.
func (r *Registry) Lookup(user UserID) (*Session, bool) {
	s, ok := r.sessions[user]
	return s, ok
}

// Evict removes every session bound to c and returns them. Sessions bound to
// any other connection are left alone, so repeated calls are no-ops.
func (r *Registry) Evict(c *Client) []*Session {
	var out []*Session
	kept := r.order[:0]
	for _, user := range r.order {
		s := r.sessions[user]
		if s.client != c {
			kept = append(kept, user)
			continue
		}
		delete(r.sessions, user)
		if s.keys != nil {
			s.keys.Wipe()
		}
		out = append(out, s)
	}
	r.order = kept
	return out
}

// Snapshot lists the online users in order of first admission.
func (r *Registry) Snapshot() []PresenceEntry {
	out := make([]PresenceEntry, 0, len(r.order))
	for _, user := range r.order {
		s := r.sessions[user]
		out = append(out, PresenceEntry{UserID: s.UserID, Username: s.Username, FullName: s.FullName})
	}
	return out
}

// Len is the number of online users.
func (r *Registry) Len() int { return len(r.sessions) }

// Clear drops every session and wipes its keys.
func (r *Registry) Clear() {
	for _, s := range r.sessions {
		if s.keys != nil {
			s.keys.Wipe()
		}
	}
	r.sessions = make(map[UserID]*Session)
	r.order = nil
}
