// Package session implements the Session Store: an in-memory, TTL-reaped
// mapping from opaque session token to ClientSession, indexed also by
// client id.
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Hdpbilly/agent-bridge-platform/internal/token"
)

// ClientSession is the server-side record of a browser session, anonymous or
// wallet-authenticated. Mirrors common/src/models/session.rs::ClientSession.
type ClientSession struct {
	ClientID        uuid.UUID
	SessionToken    string
	CreatedAt       time.Time
	LastActive      time.Time
	IsAuthenticated bool
	WalletAddress   string
	Metadata        map[string]string
}

func newAnonymous(clientID uuid.UUID, token string) *ClientSession {
	now := time.Now()
	return &ClientSession{
		ClientID:     clientID,
		SessionToken: token,
		CreatedAt:    now,
		LastActive:   now,
		Metadata:     make(map[string]string),
	}
}

// Clone returns a deep-enough copy safe for the caller to read without
// holding the store's lock.
func (s *ClientSession) Clone() *ClientSession {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Metadata = make(map[string]string, len(s.Metadata))
	for k, v := range s.Metadata {
		cp.Metadata[k] = v
	}
	return &cp
}

// UpdateActivity stamps LastActive to now.
func (s *ClientSession) UpdateActivity() {
	s.LastActive = time.Now()
}

// IsExpired reports whether the session has been idle longer than ttl.
func (s *ClientSession) IsExpired(ttl time.Duration) bool {
	return s.isExpiredAt(time.Now(), ttl)
}

// isExpiredAt reports whether the session, evaluated at now, has been idle
// strictly longer than ttl.
func (s *ClientSession) isExpiredAt(now time.Time, ttl time.Duration) bool {
	return now.Sub(s.LastActive) > ttl
}

// Authenticate upgrades the session to authenticated status for wallet.
func (s *ClientSession) Authenticate(wallet string) {
	s.IsAuthenticated = true
	s.WalletAddress = wallet
	s.UpdateActivity()
}

// SetMetadata records an arbitrary short key/value pair on the session.
// Supplemented from common/src/models/session.rs::set_metadata, which the
// spec's distillation dropped in favor of a bare metadata field.
func (s *ClientSession) SetMetadata(key, value string) {
	if s.Metadata == nil {
		s.Metadata = make(map[string]string)
	}
	s.Metadata[key] = value
}

// GetMetadata returns the value for key and whether it was present.
// Supplemented from common/src/models/session.rs::get_metadata.
func (s *ClientSession) GetMetadata(key string) (string, bool) {
	v, ok := s.Metadata[key]
	return v, ok
}

// Status classifies the outcome of a session lookup. Preserved from
// common/src/models/session.rs::SessionResult rather than collapsing to a
// bare error, since "expired" and "not found" are distinguishable outcomes
// the HTTP surface reports with different error messages.
type Status int

const (
	StatusSuccess Status = iota
	StatusNotFound
	StatusExpired
	StatusInvalid
)

// Lookup is the result of a Session Store lookup.
type Lookup struct {
	Status  Status
	Session *ClientSession
}

const shardCount = 16

type shard struct {
	mu       sync.RWMutex
	byToken  map[string]*ClientSession
	byClient map[uuid.UUID]string // clientID -> token, for clients owned by this shard
}

// Store is the concurrent, TTL-reaped Session Store. Sharded by a hash of
// the session token so unrelated keys never contend, mirroring the
// teacher's striped-map convention used for its rate limiter.
type Store struct {
	shards [shardCount]*shard
	ttl    time.Duration

	// clientIndex maps client_id -> token across all shards. It is
	// protected by its own lock since a client id's home shard is
	// determined by its *token*, which can change identity is fixed but
	// the index itself is cross-shard.
	indexMu sync.RWMutex
	clientIndex map[uuid.UUID]string

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewStore creates a Session Store with the given TTL and starts a
// background reaper sweeping every interval.
func NewStore(ttl, reapInterval time.Duration) *Store {
	s := &Store{
		ttl:         ttl,
		clientIndex: make(map[uuid.UUID]string),
		stopCh:      make(chan struct{}),
	}
	for i := range s.shards {
		s.shards[i] = &shard{
			byToken:  make(map[string]*ClientSession),
			byClient: make(map[uuid.UUID]string),
		}
	}
	go s.reapLoop(reapInterval)
	return s
}

// Close stops the background reaper.
func (s *Store) Close() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

func (s *Store) shardFor(token string) *shard {
	h := fnv32(token)
	return s.shards[h%shardCount]
}

func fnv32(s string) uint32 {
	const prime = 16777619
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime
	}
	return h
}

// RegisterAnonymous creates a new anonymous ClientSession and returns its
// client id and session token.
func (s *Store) RegisterAnonymous() (uuid.UUID, string, error) {
	clientID := uuid.New()
	tok, err := token.NewSessionToken()
	if err != nil {
		return uuid.Nil, "", err
	}

	sess := newAnonymous(clientID, tok)
	sh := s.shardFor(tok)
	sh.mu.Lock()
	sh.byToken[tok] = sess
	sh.byClient[clientID] = tok
	sh.mu.Unlock()

	s.indexMu.Lock()
	s.clientIndex[clientID] = tok
	s.indexMu.Unlock()

	return clientID, tok, nil
}

// GetByToken resolves a session token to its session, distinguishing
// not-found from expired.
func (s *Store) GetByToken(token string) Lookup {
	sh := s.shardFor(token)
	sh.mu.RLock()
	sess, ok := sh.byToken[token]
	sh.mu.RUnlock()

	if !ok {
		return Lookup{Status: StatusNotFound}
	}
	if sess.IsExpired(s.ttl) {
		return Lookup{Status: StatusExpired}
	}
	return Lookup{Status: StatusSuccess, Session: sess.Clone()}
}

// GetByClient resolves a client id to its current session via the
// cross-shard client index.
func (s *Store) GetByClient(clientID uuid.UUID) Lookup {
	s.indexMu.RLock()
	token, ok := s.clientIndex[clientID]
	s.indexMu.RUnlock()
	if !ok {
		return Lookup{Status: StatusNotFound}
	}
	return s.GetByToken(token)
}

// Touch updates a session's last-active timestamp in place. Returns false if
// the token is unknown.
func (s *Store) Touch(token string) bool {
	sh := s.shardFor(token)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sess, ok := sh.byToken[token]
	if !ok {
		return false
	}
	sess.UpdateActivity()
	return true
}

// Update applies patch to the session under token's shard lock and returns
// the resulting lookup.
func (s *Store) Update(token string, patch func(*ClientSession)) Lookup {
	sh := s.shardFor(token)
	sh.mu.Lock()
	sess, ok := sh.byToken[token]
	if !ok {
		sh.mu.Unlock()
		return Lookup{Status: StatusNotFound}
	}
	if sess.IsExpired(s.ttl) {
		sh.mu.Unlock()
		return Lookup{Status: StatusExpired}
	}
	patch(sess)
	clone := sess.Clone()
	sh.mu.Unlock()
	return Lookup{Status: StatusSuccess, Session: clone}
}

// Invalidate removes a session. Idempotent: the second call returns false.
func (s *Store) Invalidate(token string) bool {
	sh := s.shardFor(token)
	sh.mu.Lock()
	sess, ok := sh.byToken[token]
	if !ok {
		sh.mu.Unlock()
		return false
	}
	delete(sh.byToken, token)
	delete(sh.byClient, sess.ClientID)
	sh.mu.Unlock()

	s.indexMu.Lock()
	delete(s.clientIndex, sess.ClientID)
	s.indexMu.Unlock()
	return true
}

// ReapExpired deletes sessions idle longer than ttl and returns the count
// removed.
func (s *Store) ReapExpired() int {
	removed := 0
	for _, sh := range s.shards {
		sh.mu.Lock()
		for token, sess := range sh.byToken {
			if sess.IsExpired(s.ttl) {
				delete(sh.byToken, token)
				delete(sh.byClient, sess.ClientID)
				s.indexMu.Lock()
				delete(s.clientIndex, sess.ClientID)
				s.indexMu.Unlock()
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

func (s *Store) reapLoop(interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.ReapExpired()
		case <-s.stopCh:
			return
		}
	}
}
