package models

import (
	"database/sql"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rohanthewiz/logger"
	"github.com/rohanthewiz/serr"
)

// ============================================================================
// Session
//
// The session is the explicit carrier of "who is using this device and what
// are they doing right now": device identity, cached auth token, the signed-
// in user, and the round currently being played. It is constructed once at
// app start (InitSession) and torn down at logout (Teardown) — repositories
// and the sync engine receive it as a parameter instead of reading ambient
// globals.
//
// Device identity and the auth token persist in the device_state table so
// the device survives restarts without re-registering or re-authenticating.
// ============================================================================

// Session holds the device/user context passed into repositories and the
// sync engine.
type Session struct {
	DeviceID string

	mu             sync.RWMutex
	userGUID       string
	userName       string
	authToken      string
	currentRoundID int64 // 0 when no round is in progress
}

const DDLCreateDeviceStateTable = `
CREATE TABLE IF NOT EXISTS device_state (
    device_id     VARCHAR PRIMARY KEY,
    auth_token    VARCHAR,
    user_guid     VARCHAR,
    last_sync_at  TIMESTAMP,
    created_at    TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
    updated_at    TIMESTAMP DEFAULT CURRENT_TIMESTAMP
);
`

// sessionInstance follows the package's var db singleton pattern so HTTP
// handlers can reach the device session without threading it everywhere.
var sessionInstance *Session

// GetSession returns the package-level session, nil before InitSession.
func GetSession() *Session {
	return sessionInstance
}

// InitSession loads (or mints) the device identity and cached credentials.
// The device id is a UUID generated once per install; it doubles as the
// stable prefix for idempotency keys on create requests.
func InitSession() (*Session, error) {
	s := &Session{}

	var token, userGUID sql.NullString
	err := db.QueryRow(
		`SELECT device_id, auth_token, user_guid FROM device_state LIMIT 1`,
	).Scan(&s.DeviceID, &token, &userGUID)

	if err == sql.ErrNoRows {
		s.DeviceID = uuid.New().String()
		_, err = db.Exec(
			`INSERT INTO device_state (device_id, created_at, updated_at) VALUES (?, ?, ?)`,
			s.DeviceID, time.Now(), time.Now(),
		)
		if err != nil {
			return nil, serr.Wrap(err, "failed to persist device state")
		}
		logger.Info("Created device identity", "device_id", s.DeviceID)
		sessionInstance = s
		return s, nil
	}
	if err != nil {
		return nil, serr.Wrap(err, "failed to load device state")
	}

	if token.Valid {
		s.authToken = token.String
	}
	if userGUID.Valid {
		s.userGUID = userGUID.String
	}
	sessionInstance = s
	return s, nil
}

// Teardown clears the cached credentials in memory and on disk (logout).
// Device identity survives — it belongs to the install, not the user.
func (s *Session) Teardown() error {
	s.mu.Lock()
	s.authToken = ""
	s.userGUID = ""
	s.userName = ""
	s.currentRoundID = 0
	s.mu.Unlock()

	_, err := db.Exec(
		`UPDATE device_state SET auth_token = NULL, user_guid = NULL, updated_at = ? WHERE device_id = ?`,
		time.Now(), s.DeviceID,
	)
	if err != nil {
		return serr.Wrap(err, "failed to clear device credentials")
	}
	logger.Info("Session torn down", "device_id", s.DeviceID)
	return nil
}

// Token returns the cached auth token ("" when signed out).
func (s *Session) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authToken
}

// SetToken caches a fresh auth token in memory and on disk.
func (s *Session) SetToken(token string) error {
	s.mu.Lock()
	s.authToken = token
	s.mu.Unlock()

	_, err := db.Exec(
		`UPDATE device_state SET auth_token = ?, updated_at = ? WHERE device_id = ?`,
		token, time.Now(), s.DeviceID,
	)
	if err != nil {
		return serr.Wrap(err, "failed to persist auth token")
	}
	return nil
}

// TokenValid reports whether the cached token exists and has not expired.
// The claims are parsed without signature verification — the server is the
// only verifier; the client just wants to skip a doomed request and log in
// proactively instead of waiting for a 401.
func (s *Session) TokenValid() bool {
	token := s.Token()
	if token == "" {
		return false
	}

	claims := jwt.RegisteredClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return false
	}
	if claims.ExpiresAt == nil {
		return true // no expiry claim; let the server decide
	}
	// A minute of slack so a token doesn't expire mid-request.
	return time.Now().Add(time.Minute).Before(claims.ExpiresAt.Time)
}

// SetUser records the signed-in user after GET /me.
func (s *Session) SetUser(guid, name string) error {
	s.mu.Lock()
	s.userGUID = guid
	s.userName = name
	s.mu.Unlock()

	_, err := db.Exec(
		`UPDATE device_state SET user_guid = ?, updated_at = ? WHERE device_id = ?`,
		guid, time.Now(), s.DeviceID,
	)
	if err != nil {
		return serr.Wrap(err, "failed to persist user guid")
	}
	return nil
}

// UserGUID returns the signed-in user's identifier ("" when signed out).
func (s *Session) UserGUID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userGUID
}

// SetCurrentRound tracks which round the player is recording right now.
func (s *Session) SetCurrentRound(roundID int64) {
	s.mu.Lock()
	s.currentRoundID = roundID
	s.mu.Unlock()
}

// CurrentRound returns the active round id, or 0 when none is in progress.
func (s *Session) CurrentRound() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentRoundID
}

// MarkSynced stamps the last successful sync cycle time.
func (s *Session) MarkSynced() error {
	_, err := db.Exec(
		`UPDATE device_state SET last_sync_at = ?, updated_at = ? WHERE device_id = ?`,
		time.Now(), time.Now(), s.DeviceID,
	)
	if err != nil {
		return serr.Wrap(err, "failed to persist sync timestamp")
	}
	return nil
}
