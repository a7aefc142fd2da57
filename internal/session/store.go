// Package session implements the session store: creation, validation,
// revocation, and on-disk persistence of role-carrying bearer-token
// sessions.
package session

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fortistate/inspector/internal/core/domain"
	"github.com/fortistate/inspector/internal/crypto"
)

// Sentinel errors returned by Store methods. Token decode/signature
// failures never reach the caller as errors — ValidateToken
// returns a nil *domain.SessionContext instead.
var (
	ErrSessionNotFound = errors.New("session not found")
)

const (
	defaultTTL         = 7 * 24 * time.Hour
	defaultMaxSessions = 500
	opaqueTokenBytes   = 32
	ephemeralSecretLen = 48
	fileVersion        = 1
)

// Config configures a Store at construction; callers normally build this
// from config.SessionConfig.
type Config struct {
	OpaqueSecret string
	JWTSecret    string
	DefaultTTL   time.Duration
	MaxSessions  int
	Debug        bool
}

// persistedFile is the on-disk shape of .fortistate-sessions.json.
type persistedFile struct {
	Version  int                        `json:"version"`
	Sessions map[string]*domain.Session `json:"sessions"`
	Tokens   map[string]string          `json:"tokens,omitempty"` // hash -> session id, opaque mode only
}

// Store is the SessionStore: in-memory session/token maps guarded by
// one mutex, synchronously persisted to a single JSON file after every
// mutation.
type Store struct {
	mu          sync.Mutex
	sessions    map[uuid.UUID]*domain.Session
	tokenHashes map[string]uuid.UUID // opaque mode: hash -> session id

	signer      *crypto.HMACSigner
	jwtMode     bool
	defaultTTL  time.Duration
	maxSessions int
	path        string
	logger      *slog.Logger
	debug       bool

	// onMutate, when set, is invoked after every successful mutation so
	// callers (e.g. the audit log or broadcast hub) can react without the
	// store importing them back.
	onMutate func()
}

// New constructs a Store, sourcing its signing secret in order: JWT mode if
// JWTSecret is set, else opaque mode with OpaqueSecret, else an ephemeral
// generated secret (sessions invalidated on restart — logged as a warning).
func New(cfg Config, persistPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	ttl := cfg.DefaultTTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	maxSessions := cfg.MaxSessions
	if maxSessions <= 0 {
		maxSessions = defaultMaxSessions
	}

	var (
		signer  *crypto.HMACSigner
		jwtMode bool
		err     error
	)
	switch {
	case cfg.JWTSecret != "":
		jwtMode = true
		signer, err = crypto.NewHMACSigner(cfg.JWTSecret)
	case cfg.OpaqueSecret != "":
		signer, err = crypto.NewHMACSigner(cfg.OpaqueSecret)
	default:
		var ephemeral string
		ephemeral, err = crypto.RandomToken(ephemeralSecretLen)
		if err == nil {
			signer, err = crypto.NewHMACSigner(ephemeral)
			logger.Warn("no session secret configured; generated an ephemeral one — tokens will not survive a restart")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("session.New: build signer: %w", err)
	}

	s := &Store{
		sessions:    make(map[uuid.UUID]*domain.Session),
		tokenHashes: make(map[string]uuid.UUID),
		signer:      signer,
		jwtMode:     jwtMode,
		defaultTTL:  ttl,
		maxSessions: maxSessions,
		path:        persistPath,
		logger:      logger,
		debug:       cfg.Debug,
	}

	if err := s.load(); err != nil {
		return nil, fmt.Errorf("session.New: load persisted sessions: %w", err)
	}

	return s, nil
}

// SetOnMutate installs a callback invoked after every mutation completes,
// once its persist attempt has run, whether or not the write succeeded.
func (s *Store) SetOnMutate(fn func()) {
	s.mu.Lock()
	s.onMutate = fn
	s.mu.Unlock()
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if len(data) == 0 {
		return nil
	}

	var file persistedFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("decode %s: %w", s.path, err)
	}

	for idStr, sess := range file.Sessions {
		id, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		sess.ID = id
		s.sessions[id] = sess
	}
	for hash, idStr := range file.Tokens {
		id, err := uuid.Parse(idStr)
		if err != nil {
			continue
		}
		s.tokenHashes[hash] = id
	}
	return nil
}

// persist writes the whole session/token map atomically (write-temp,
// rename-over). The file has a single writer: this process.
func (s *Store) persist() error {
	if s.path == "" {
		return nil
	}

	file := persistedFile{
		Version:  fileVersion,
		Sessions: make(map[string]*domain.Session, len(s.sessions)),
	}
	for id, sess := range s.sessions {
		file.Sessions[id.String()] = sess
	}
	if !s.jwtMode {
		file.Tokens = make(map[string]string, len(s.tokenHashes))
		for hash, id := range s.tokenHashes {
			file.Tokens[hash] = id.String()
		}
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("encode sessions: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create session dir: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write temp session file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace session file: %w", err)
	}
	return nil
}

// persistLocked persists and swallows the error (logging it only when
// debug is enabled) so an already-completed in-memory mutation is not
// reported as failed to the caller.
func (s *Store) persistLocked() {
	if err := s.persist(); err != nil {
		if s.debug {
			s.logger.Error("session.Store: persist failed", slog.String("error", err.Error()))
		}
	}
	if s.onMutate != nil {
		s.onMutate()
	}
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}

// CreateSession mints a new Session and its bearer token.
func (s *Store) CreateSession(params domain.CreateSessionParams) (*domain.Session, string, domain.TokenType, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ttl := s.defaultTTL
	if params.TTLMs != nil {
		ttl = time.Duration(*params.TTLMs) * time.Millisecond
	}

	id := uuid.New()
	created := nowMs()
	sess := &domain.Session{
		ID:        id,
		Role:      params.Role,
		CreatedAt: created,
		Label:     params.Label,
		IssuedBy:  params.IssuedBy,
		IP:        params.IP,
		UserAgent: params.UserAgent,
	}
	if ttl > 0 {
		exp := created + ttl.Milliseconds()
		sess.ExpiresAt = &exp
	}

	s.sessions[id] = sess

	var (
		token     string
		tokenType domain.TokenType
		err       error
	)
	if s.jwtMode {
		token, err = s.encodeJWT(sess)
		tokenType = domain.TokenTypeJWT
	} else {
		token, err = crypto.RandomToken(opaqueTokenBytes)
		if err == nil {
			hash := s.signer.HashOpaqueToken(token)
			s.tokenHashes[hash] = id
		}
		tokenType = domain.TokenTypeOpaque
	}
	if err != nil {
		delete(s.sessions, id)
		return nil, "", "", fmt.Errorf("session.Store.CreateSession: mint token: %w", err)
	}

	s.evictOverCapacityLocked()
	s.persistLocked()

	return sess, token, tokenType, nil
}

// evictOverCapacityLocked removes the oldest sessions once count exceeds
// maxSessions. Caller must hold s.mu.
func (s *Store) evictOverCapacityLocked() {
	for len(s.sessions) > s.maxSessions {
		var oldestID uuid.UUID
		var oldestAt int64
		first := true
		for id, sess := range s.sessions {
			if first || sess.CreatedAt < oldestAt {
				oldestID = id
				oldestAt = sess.CreatedAt
				first = false
			}
		}
		if first {
			return
		}
		s.revokeLocked(oldestID)
	}
}

// ValidateToken resolves token to its SessionContext, or nil if the token
// is absent, malformed, expired, or revoked — never an error.
func (s *Store) ValidateToken(token string) *domain.SessionContext {
	if token == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.jwtMode {
		return s.validateJWTLocked(token)
	}
	return s.validateOpaqueLocked(token)
}

func (s *Store) validateOpaqueLocked(token string) *domain.SessionContext {
	hash := s.signer.HashOpaqueToken(token)
	id, ok := s.tokenHashes[hash]
	if !ok {
		return nil
	}
	sess, ok := s.sessions[id]
	if !ok {
		delete(s.tokenHashes, hash)
		return nil
	}
	if sess.IsExpired(nowMs()) {
		s.revokeLocked(id)
		s.persistLocked()
		return nil
	}
	return &domain.SessionContext{Session: sess, TokenType: domain.TokenTypeOpaque}
}

// RevokeSession removes a session and, in opaque mode, every token hash
// pointing at it.
func (s *Store) RevokeSession(id uuid.UUID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	ok := s.revokeLocked(id)
	if ok {
		s.persistLocked()
	}
	return ok
}

func (s *Store) revokeLocked(id uuid.UUID) bool {
	if _, ok := s.sessions[id]; !ok {
		return false
	}
	delete(s.sessions, id)
	for hash, sid := range s.tokenHashes {
		if sid == id {
			delete(s.tokenHashes, hash)
		}
	}
	return true
}

// ListSessions returns every current session.
func (s *Store) ListSessions() []*domain.Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*domain.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		out = append(out, sess)
	}
	return out
}

// HasSessions reports whether any session currently exists.
func (s *Store) HasSessions() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions) > 0
}

// CleanupExpired removes every session whose expiry has passed and returns
// how many were removed.
func (s *Store) CleanupExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := nowMs()
	removed := 0
	for id, sess := range s.sessions {
		if sess.IsExpired(now) {
			s.revokeLocked(id)
			removed++
		}
	}
	if removed > 0 {
		s.persistLocked()
	}
	return removed
}

// CanAct reports whether role satisfies the observer < editor < admin order.
func (s *Store) CanAct(role, required domain.Role) bool {
	return role.Allows(required)
}

// --- JWT-like token encoding -------------------------------------------------

type jwtHeader struct {
	Alg string `json:"alg"`
	Typ string `json:"typ"`
}

type jwtPayload struct {
	Sid string `json:"sid"`
	Rol string `json:"role"`
	Iat int64  `json:"iat"`
	Exp *int64 `json:"exp,omitempty"`
	Iss string `json:"iss"`
}

func (s *Store) encodeJWT(sess *domain.Session) (string, error) {
	header := jwtHeader{Alg: "HS256", Typ: "JWT"}
	payload := jwtPayload{
		Sid: sess.ID.String(),
		Rol: sess.Role.String(),
		Iat: sess.CreatedAt,
		Exp: sess.ExpiresAt,
		Iss: "fortistate",
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return "", err
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	headerB64 := base64.RawURLEncoding.EncodeToString(headerJSON)
	payloadB64 := base64.RawURLEncoding.EncodeToString(payloadJSON)
	signingInput := headerB64 + "." + payloadB64
	sig := s.signer.Sign([]byte(signingInput))

	return signingInput + "." + sig, nil
}

func (s *Store) validateJWTLocked(token string) *domain.SessionContext {
	parts := splitJWT(token)
	if parts == nil {
		return nil
	}
	headerB64, payloadB64, sig := parts[0], parts[1], parts[2]

	if !s.signer.Verify([]byte(headerB64+"."+payloadB64), sig) {
		return nil
	}

	payloadJSON, err := base64.RawURLEncoding.DecodeString(payloadB64)
	if err != nil {
		return nil
	}
	var payload jwtPayload
	if err := json.Unmarshal(payloadJSON, &payload); err != nil {
		return nil
	}

	if payload.Exp != nil && nowMs() >= *payload.Exp {
		if id, err := uuid.Parse(payload.Sid); err == nil {
			s.revokeLocked(id)
			s.persistLocked()
		}
		return nil
	}

	id, err := uuid.Parse(payload.Sid)
	if err != nil {
		return nil
	}
	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	if sess.IsExpired(nowMs()) {
		s.revokeLocked(id)
		s.persistLocked()
		return nil
	}

	return &domain.SessionContext{Session: sess, TokenType: domain.TokenTypeJWT}
}

func splitJWT(token string) []string {
	parts := make([]string, 0, 3)
	start := 0
	for i := 0; i < len(token); i++ {
		if token[i] == '.' {
			parts = append(parts, token[start:i])
			start = i + 1
		}
	}
	parts = append(parts, token[start:])
	if len(parts) != 3 {
		return nil
	}
	for _, p := range parts {
		if p == "" {
			return nil
		}
	}
	return parts
}
