package models_test

import (
	"os"
	"testing"
	"time"

	"caddie/models"
)

// setupRoundTestDB initializes a clean test database for round tests
func setupRoundTestDB(t *testing.T) (*models.Session, func()) {
	t.Helper()

	os.Remove("./test_rounds.ddb")
	os.Remove("./test_rounds.ddb.wal")

	if err := models.InitTestDB("./test_rounds.ddb"); err != nil {
		t.Fatalf("failed to initialize test database: %v", err)
	}
	session, err := models.InitSession()
	if err != nil {
		t.Fatalf("failed to initialize session: %v", err)
	}

	return session, func() {
		models.CloseDB()
		os.Remove("./test_rounds.ddb")
		os.Remove("./test_rounds.ddb.wal")
	}
}

func TestCreateRoundOffline(t *testing.T) {
	s, cleanup := setupRoundTestDB(t)
	defer cleanup()

	round, err := models.CreateRound(s, models.RoundInput{CourseName: "Pebble Creek"})
	if err != nil {
		t.Fatalf("failed to create round: %v", err)
	}

	if round.ID >= 0 {
		t.Errorf("expected provisional negative id, got %d", round.ID)
	}
	if round.SyncStatus != models.SyncStatusPending {
		t.Errorf("expected status PENDING, got %s", round.SyncStatus)
	}
	if round.ServerID.Valid {
		t.Error("unsynced round must not carry a server id")
	}

	// The mutation is durably queued
	count, err := models.PendingTaskCount()
	if err != nil {
		t.Fatalf("failed to count tasks: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 queued task, got %d", count)
	}
}

func TestProvisionalIDsDecrease(t *testing.T) {
	s, cleanup := setupRoundTestDB(t)
	defer cleanup()

	r1, err := models.CreateRound(s, models.RoundInput{CourseName: "First"})
	if err != nil {
		t.Fatalf("failed to create round: %v", err)
	}
	r2, err := models.CreateRound(s, models.RoundInput{CourseName: "Second"})
	if err != nil {
		t.Fatalf("failed to create round: %v", err)
	}

	if r1.ID != -1 {
		t.Errorf("expected first provisional id -1, got %d", r1.ID)
	}
	if r2.ID != -2 {
		t.Errorf("expected second provisional id -2, got %d", r2.ID)
	}
}

func TestUpsertHoleByNumber(t *testing.T) {
	s, cleanup := setupRoundTestDB(t)
	defer cleanup()

	round, err := models.CreateRound(s, models.RoundInput{CourseName: "Pebble Creek"})
	if err != nil {
		t.Fatalf("failed to create round: %v", err)
	}

	score := int64(5)
	putts := int64(2)
	h1, err := models.UpsertHole(s, round.ID, models.HoleInput{
		HoleNumber: 1, Par: 4, Score: &score, Putts: &putts,
	})
	if err != nil {
		t.Fatalf("failed to record hole: %v", err)
	}

	// Scoring the same hole again corrects in place
	corrected := int64(4)
	h1b, err := models.UpsertHole(s, round.ID, models.HoleInput{
		HoleNumber: 1, Par: 4, Score: &corrected,
	})
	if err != nil {
		t.Fatalf("failed to correct hole: %v", err)
	}
	if h1b.ID != h1.ID {
		t.Errorf("correction created a new row: %d vs %d", h1b.ID, h1.ID)
	}

	holes, err := models.GetHolesForRound(round.ID)
	if err != nil {
		t.Fatalf("failed to get holes: %v", err)
	}
	if len(holes) != 1 {
		t.Fatalf("expected 1 hole, got %d", len(holes))
	}
	if !holes[0].Score.Valid || holes[0].Score.Int64 != 4 {
		t.Errorf("expected corrected score 4, got %+v", holes[0].Score)
	}

	// Hole mutations collapse into the parent round's single task
	count, err := models.PendingTaskCount()
	if err != nil {
		t.Fatalf("failed to count tasks: %v", err)
	}
	if count != 1 {
		t.Errorf("expected hole edits to collapse into 1 round task, got %d", count)
	}
}

func TestUpsertHoleValidation(t *testing.T) {
	s, cleanup := setupRoundTestDB(t)
	defer cleanup()

	round, err := models.CreateRound(s, models.RoundInput{CourseName: "Pebble Creek"})
	if err != nil {
		t.Fatalf("failed to create round: %v", err)
	}

	if _, err := models.UpsertHole(s, round.ID, models.HoleInput{HoleNumber: 19, Par: 4}); err == nil {
		t.Error("expected error for hole number 19")
	}
	if _, err := models.UpsertHole(s, round.ID, models.HoleInput{HoleNumber: 1, Par: 9}); err == nil {
		t.Error("expected error for par 9")
	}
	if _, err := models.UpsertHole(s, 99999, models.HoleInput{HoleNumber: 1, Par: 4}); err == nil {
		t.Error("expected error for unknown round")
	}
}

func TestActivePastPartition(t *testing.T) {
	s, cleanup := setupRoundTestDB(t)
	defer cleanup()

	active, err := models.CreateRound(s, models.RoundInput{CourseName: "In Progress"})
	if err != nil {
		t.Fatalf("failed to create round: %v", err)
	}
	ended, err := models.CreateRound(s, models.RoundInput{CourseName: "Finished"})
	if err != nil {
		t.Fatalf("failed to create round: %v", err)
	}

	endedAt := time.Now()
	total := int64(88)
	if _, err := models.UpdateRound(s, ended.ID, models.RoundPatch{TotalScore: &total, EndedAt: &endedAt}); err != nil {
		t.Fatalf("failed to end round: %v", err)
	}

	activeRounds, err := models.ActiveRounds()
	if err != nil {
		t.Fatalf("failed to list active rounds: %v", err)
	}
	if len(activeRounds) != 1 || activeRounds[0].ID != active.ID {
		t.Errorf("expected only the in-progress round in active, got %d rounds", len(activeRounds))
	}

	pastRounds, err := models.PastRounds()
	if err != nil {
		t.Fatalf("failed to list past rounds: %v", err)
	}
	if len(pastRounds) != 1 || pastRounds[0].ID != ended.ID {
		t.Errorf("expected only the finished round in past, got %d rounds", len(pastRounds))
	}
	if !pastRounds[0].TotalScore.Valid || pastRounds[0].TotalScore.Int64 != 88 {
		t.Errorf("expected total score 88, got %+v", pastRounds[0].TotalScore)
	}
}

func TestDeleteUnsyncedRoundLeavesNoWork(t *testing.T) {
	s, cleanup := setupRoundTestDB(t)
	defer cleanup()

	round, err := models.CreateRound(s, models.RoundInput{CourseName: "Short Lived"})
	if err != nil {
		t.Fatalf("failed to create round: %v", err)
	}
	if _, err := models.UpsertHole(s, round.ID, models.HoleInput{HoleNumber: 1, Par: 3}); err != nil {
		t.Fatalf("failed to record hole: %v", err)
	}

	if err := models.DeleteRound(s, round.ID); err != nil {
		t.Fatalf("failed to delete round: %v", err)
	}

	got, err := models.GetRoundByID(round.ID)
	if err != nil {
		t.Fatalf("failed to query round: %v", err)
	}
	if got != nil {
		t.Error("round still present after delete")
	}

	holes, err := models.GetHolesForRound(round.ID)
	if err != nil {
		t.Fatalf("failed to query holes: %v", err)
	}
	if len(holes) != 0 {
		t.Errorf("expected holes removed with parent, got %d", len(holes))
	}

	// The server never saw this round: no compensating delete remains
	count, err := models.PendingTaskCount()
	if err != nil {
		t.Fatalf("failed to count tasks: %v", err)
	}
	if count != 0 {
		t.Errorf("expected empty queue after deleting unsynced round, got %d", count)
	}
}
