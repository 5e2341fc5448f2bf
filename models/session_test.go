package models_test

import (
	"os"
	"testing"

	"caddie/models"
)

func setupSessionTestDB(t *testing.T) func() {
	t.Helper()

	os.Remove("./test_session.ddb")
	os.Remove("./test_session.ddb.wal")

	if err := models.InitTestDB("./test_session.ddb"); err != nil {
		t.Fatalf("failed to initialize test database: %v", err)
	}

	return func() {
		models.CloseDB()
		os.Remove("./test_session.ddb")
		os.Remove("./test_session.ddb.wal")
	}
}

func TestSessionDeviceIdentityPersists(t *testing.T) {
	cleanup := setupSessionTestDB(t)
	defer cleanup()

	s1, err := models.InitSession()
	if err != nil {
		t.Fatalf("failed to initialize session: %v", err)
	}
	if s1.DeviceID == "" {
		t.Fatal("expected a minted device id")
	}

	// A second init (app restart) must load the same identity, not mint a
	// new one.
	s2, err := models.InitSession()
	if err != nil {
		t.Fatalf("failed to re-initialize session: %v", err)
	}
	if s2.DeviceID != s1.DeviceID {
		t.Errorf("device id changed across restarts: %s vs %s", s1.DeviceID, s2.DeviceID)
	}

	if models.GetSession() != s2 {
		t.Error("package session not updated by InitSession")
	}
}

func TestSessionTokenSurvivesRestart(t *testing.T) {
	cleanup := setupSessionTestDB(t)
	defer cleanup()

	s1, err := models.InitSession()
	if err != nil {
		t.Fatalf("failed to initialize session: %v", err)
	}
	if err := s1.SetToken("cached-token"); err != nil {
		t.Fatalf("failed to set token: %v", err)
	}

	s2, err := models.InitSession()
	if err != nil {
		t.Fatalf("failed to re-initialize session: %v", err)
	}
	if s2.Token() != "cached-token" {
		t.Errorf("expected cached token after restart, got %q", s2.Token())
	}
}

func TestSessionTeardownKeepsDevice(t *testing.T) {
	cleanup := setupSessionTestDB(t)
	defer cleanup()

	s, err := models.InitSession()
	if err != nil {
		t.Fatalf("failed to initialize session: %v", err)
	}
	if err := s.SetToken("some-token"); err != nil {
		t.Fatalf("failed to set token: %v", err)
	}
	if err := s.SetUser("user-guid-1", "golfer"); err != nil {
		t.Fatalf("failed to set user: %v", err)
	}
	s.SetCurrentRound(-5)

	if err := s.Teardown(); err != nil {
		t.Fatalf("teardown failed: %v", err)
	}
	if s.Token() != "" || s.UserGUID() != "" || s.CurrentRound() != 0 {
		t.Error("teardown left credentials or round state behind")
	}

	// Logout clears the user, never the install identity.
	s2, err := models.InitSession()
	if err != nil {
		t.Fatalf("failed to re-initialize session: %v", err)
	}
	if s2.DeviceID != s.DeviceID {
		t.Errorf("device id lost on logout: %s vs %s", s.DeviceID, s2.DeviceID)
	}
	if s2.Token() != "" {
		t.Errorf("token survived logout: %q", s2.Token())
	}
}

func TestTokenValidity(t *testing.T) {
	cleanup := setupSessionTestDB(t)
	defer cleanup()

	s, err := models.InitSession()
	if err != nil {
		t.Fatalf("failed to initialize session: %v", err)
	}

	if s.TokenValid() {
		t.Error("empty token reported valid")
	}

	// An opaque (non-JWT) token is treated as needing a fresh login.
	if err := s.SetToken("not-a-jwt"); err != nil {
		t.Fatalf("failed to set token: %v", err)
	}
	if s.TokenValid() {
		t.Error("unparseable token reported valid")
	}
}
