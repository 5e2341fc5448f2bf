package models

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rohanthewiz/serr"
)

// ============================================================================
// Remote Client
//
// Thin, explicit client for the remote round-tracker service. Every call
// runs under the configured request timeout; a timeout is always reported
// as a transient failure, never mistaken for success. Response codes are
// classified into the sync failure taxonomy so the engine's retry policy
// can act on them without inspecting HTTP details.
// ============================================================================

type RemoteClient struct {
	base       string
	httpClient *http.Client
	session    *Session
	cfg        *SyncConfig
}

func NewRemoteClient(cfg *SyncConfig, session *Session) *RemoteClient {
	return &RemoteClient{
		base:       cfg.APIBaseURL,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		session:    session,
		cfg:        cfg,
	}
}

// Health pings the health endpoint. Used by the connectivity monitor; a
// failure here means offline, not an error worth surfacing.
func (rc *RemoteClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rc.base+"/api/v1/health", nil)
	if err != nil {
		return serr.Wrap(err, "failed to create health check request")
	}

	resp, err := rc.httpClient.Do(req)
	if err != nil {
		return networkUnavailable("health check failed: " + err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return networkUnavailable(fmt.Sprintf("health check returned status %d", resp.StatusCode))
	}
	return nil
}

// login posts credentials and caches the token on the session.
func (rc *RemoteClient) login(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{
		"username": rc.cfg.Username,
		"password": rc.cfg.Password,
	})
	if err != nil {
		return serr.Wrap(err, "failed to marshal login request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rc.base+"/api/v1/auth/login", bytes.NewReader(body))
	if err != nil {
		return serr.Wrap(err, "failed to create login request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := rc.httpClient.Do(req)
	if err != nil {
		return classifyTransport(err, "login request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return classifyStatus(resp.StatusCode, "login failed")
	}

	var apiResp struct {
		Success bool `json:"success"`
		Data    struct {
			Token string `json:"token"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return serr.Wrap(err, "failed to decode login response")
	}
	if !apiResp.Success || apiResp.Data.Token == "" {
		return serr.New("login response missing token")
	}

	return rc.session.SetToken(apiResp.Data.Token)
}

// do sends one authenticated request. A stale or missing token triggers a
// login first; a 401 triggers one re-login and retry, so token expiry is
// invisible to callers. The body is kept as bytes so the retry can rebuild
// its reader.
func (rc *RemoteClient) do(ctx context.Context, method, path string, body []byte, headers map[string]string) (*http.Response, error) {
	if !rc.session.TokenValid() {
		if err := rc.login(ctx); err != nil {
			return nil, serr.Wrap(err, "authentication failed")
		}
	}

	resp, err := rc.send(ctx, method, path, body, headers)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()
		if err := rc.login(ctx); err != nil {
			return nil, serr.Wrap(err, "re-authentication failed after 401")
		}
		return rc.send(ctx, method, path, body, headers)
	}
	return resp, nil
}

func (rc *RemoteClient) send(ctx context.Context, method, path string, body []byte, headers map[string]string) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, rc.base+path, rdr)
	if err != nil {
		return nil, serr.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+rc.session.Token())
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := rc.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(err, method+" "+path+" failed")
	}
	return resp, nil
}

// call runs one request/response round trip, classifying non-2xx statuses
// and decoding the APIResponse data payload into out (when out is non-nil).
func (rc *RemoteClient) call(method, path string, body []byte, headers map[string]string, out any) error {
	ctx, cancel := context.WithTimeout(context.Background(), rc.cfg.RequestTimeout)
	defer cancel()

	resp, err := rc.do(ctx, method, path, body, headers)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return classifyStatus(resp.StatusCode, method+" "+path+" rejected")
	}
	if out == nil {
		return nil
	}

	var apiResp struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   string          `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return serr.Wrap(err, "failed to decode response")
	}
	if !apiResp.Success {
		return serr.New("remote returned success=false", "error", apiResp.Error)
	}
	if err := json.Unmarshal(apiResp.Data, out); err != nil {
		return serr.Wrap(err, "failed to decode response data")
	}
	return nil
}

func idempotencyHeader(key string) map[string]string {
	if key == "" {
		return nil
	}
	return map[string]string{"X-Idempotency-Key": key}
}

// ---- Rounds ----

func (rc *RemoteClient) ListRounds() ([]roundWire, error) {
	var out []roundWire
	if err := rc.call(http.MethodGet, "/api/v1/rounds", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (rc *RemoteClient) CreateRound(w roundWire, idemKey string) (roundWire, error) {
	var out roundWire
	body, err := json.Marshal(w)
	if err != nil {
		return out, serr.Wrap(err, "failed to marshal round")
	}
	err = rc.call(http.MethodPost, "/api/v1/rounds", body, idempotencyHeader(idemKey), &out)
	return out, err
}

func (rc *RemoteClient) UpdateRound(id int64, w roundWire) (roundWire, error) {
	var out roundWire
	body, err := json.Marshal(w)
	if err != nil {
		return out, serr.Wrap(err, "failed to marshal round")
	}
	err = rc.call(http.MethodPut, fmt.Sprintf("/api/v1/rounds/%d", id), body, nil, &out)
	return out, err
}

func (rc *RemoteClient) DeleteRound(id int64) error {
	return rc.call(http.MethodDelete, fmt.Sprintf("/api/v1/rounds/%d", id), nil, nil, nil)
}

// ---- Clubs ----

func (rc *RemoteClient) ListClubs() ([]clubWire, error) {
	var out []clubWire
	if err := rc.call(http.MethodGet, "/api/v1/clubs", nil, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (rc *RemoteClient) CreateClub(w clubWire, idemKey string) (clubWire, error) {
	var out clubWire
	body, err := json.Marshal(w)
	if err != nil {
		return out, serr.Wrap(err, "failed to marshal club")
	}
	err = rc.call(http.MethodPost, "/api/v1/clubs", body, idempotencyHeader(idemKey), &out)
	return out, err
}

func (rc *RemoteClient) UpdateClub(id int64, w clubWire) (clubWire, error) {
	var out clubWire
	body, err := json.Marshal(w)
	if err != nil {
		return out, serr.Wrap(err, "failed to marshal club")
	}
	err = rc.call(http.MethodPut, fmt.Sprintf("/api/v1/clubs/%d", id), body, nil, &out)
	return out, err
}

func (rc *RemoteClient) DeleteClub(id int64) error {
	return rc.call(http.MethodDelete, fmt.Sprintf("/api/v1/clubs/%d", id), nil, nil, nil)
}

// ---- Courses ----

func (rc *RemoteClient) GetCourse(id int64) (courseWire, error) {
	var out courseWire
	err := rc.call(http.MethodGet, fmt.Sprintf("/api/v1/courses/%d", id), nil, nil, &out)
	return out, err
}

func (rc *RemoteClient) CreateCourse(w courseWire, idemKey string) (courseWire, error) {
	var out courseWire
	body, err := json.Marshal(w)
	if err != nil {
		return out, serr.Wrap(err, "failed to marshal course")
	}
	err = rc.call(http.MethodPost, "/api/v1/courses", body, idempotencyHeader(idemKey), &out)
	return out, err
}

func (rc *RemoteClient) PatchCourseHole(courseID int64, holeNumber int, w courseHoleWire) (courseHoleWire, error) {
	var out courseHoleWire
	body, err := json.Marshal(w)
	if err != nil {
		return out, serr.Wrap(err, "failed to marshal course hole")
	}
	err = rc.call(http.MethodPatch, fmt.Sprintf("/api/v1/courses/%d/holes/%d", courseID, holeNumber), body, nil, &out)
	return out, err
}

func (rc *RemoteClient) PublishCourse(id int64) error {
	return rc.call(http.MethodPost, fmt.Sprintf("/api/v1/courses/%d/publish", id), nil, nil, nil)
}

func (rc *RemoteClient) DeleteCourse(id int64) error {
	return rc.call(http.MethodDelete, fmt.Sprintf("/api/v1/courses/%d", id), nil, nil, nil)
}

// ---- Users ----

type remoteUser struct {
	GUID     string `json:"guid"`
	Username string `json:"username"`
}

// RegisterUser creates an account on the remote service.
func (rc *RemoteClient) RegisterUser(username, password string) error {
	body, err := json.Marshal(map[string]string{"username": username, "password": password})
	if err != nil {
		return serr.Wrap(err, "failed to marshal registration")
	}
	return rc.call(http.MethodPost, "/api/v1/users", body, nil, nil)
}

// Me fetches the authenticated user's identity and records it on the
// session.
func (rc *RemoteClient) Me() error {
	var u remoteUser
	if err := rc.call(http.MethodGet, "/api/v1/me", nil, nil, &u); err != nil {
		return err
	}
	return rc.session.SetUser(u.GUID, u.Username)
}
