package models_test

import (
	"os"
	"testing"

	"caddie/models"
)

func setupQueueTestDB(t *testing.T) (*models.Session, func()) {
	t.Helper()

	os.Remove("./test_queue.ddb")
	os.Remove("./test_queue.ddb.wal")

	if err := models.InitTestDB("./test_queue.ddb"); err != nil {
		t.Fatalf("failed to initialize test database: %v", err)
	}
	session, err := models.InitSession()
	if err != nil {
		t.Fatalf("failed to initialize session: %v", err)
	}

	return session, func() {
		models.CloseDB()
		os.Remove("./test_queue.ddb")
		os.Remove("./test_queue.ddb.wal")
	}
}

func taskCount(t *testing.T) int {
	t.Helper()
	n, err := models.PendingTaskCount()
	if err != nil {
		t.Fatalf("failed to count tasks: %v", err)
	}
	return n
}

// Repeated edits to one entity must collapse into a single queued task
// carrying the newest snapshot, never a backlog of stale ones.
func TestQueueCollapsesPerEntity(t *testing.T) {
	s, cleanup := setupQueueTestDB(t)
	defer cleanup()

	club, err := models.CreateClub(s, models.ClubInput{Name: "3 Wood", ClubType: "WOOD"})
	if err != nil {
		t.Fatalf("failed to create club: %v", err)
	}
	if got := taskCount(t); got != 1 {
		t.Fatalf("expected 1 task after create, got %d", got)
	}

	name := "3 Wood HL"
	if _, err := models.UpdateClub(s, club.ID, models.ClubPatch{Name: &name}); err != nil {
		t.Fatalf("failed to update club: %v", err)
	}
	name = "3 Wood HL v2"
	if _, err := models.UpdateClub(s, club.ID, models.ClubPatch{Name: &name}); err != nil {
		t.Fatalf("failed to update club: %v", err)
	}

	if got := taskCount(t); got != 1 {
		t.Errorf("expected edits to collapse into 1 task, got %d", got)
	}

	// A second entity gets its own task.
	if _, err := models.CreateClub(s, models.ClubInput{Name: "Putter", ClubType: "PUTTER"}); err != nil {
		t.Fatalf("failed to create second club: %v", err)
	}
	if got := taskCount(t); got != 2 {
		t.Errorf("expected 2 tasks for 2 entities, got %d", got)
	}
}

// Deleting a never-synced entity cancels its queued create outright.
func TestDeleteCancelsQueuedCreate(t *testing.T) {
	s, cleanup := setupQueueTestDB(t)
	defer cleanup()

	club, err := models.CreateClub(s, models.ClubInput{Name: "Ephemeral", ClubType: "HYBRID"})
	if err != nil {
		t.Fatalf("failed to create club: %v", err)
	}
	if err := models.DeleteClub(s, club.ID); err != nil {
		t.Fatalf("failed to delete club: %v", err)
	}

	if got := taskCount(t); got != 0 {
		t.Errorf("expected create canceled by delete, got %d tasks", got)
	}
	remaining, err := models.ListClubs()
	if err != nil {
		t.Fatalf("failed to list clubs: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("expected no clubs, got %d", len(remaining))
	}
}

// Operation merge rules across the entity types that share the queue.
func TestQueueMergeAcrossEntityKinds(t *testing.T) {
	s, cleanup := setupQueueTestDB(t)
	defer cleanup()

	// A round plus its hole edits stay one task.
	round, err := models.CreateRound(s, models.RoundInput{CourseName: "Merge Test"})
	if err != nil {
		t.Fatalf("failed to create round: %v", err)
	}
	for n := 1; n <= 3; n++ {
		if _, err := models.UpsertHole(s, round.ID, models.HoleInput{HoleNumber: n, Par: 4}); err != nil {
			t.Fatalf("failed to record hole %d: %v", n, err)
		}
	}
	if got := taskCount(t); got != 1 {
		t.Errorf("expected round and hole edits in 1 task, got %d", got)
	}

	// A course create, a hole definition edit and a publish are three
	// distinct pieces of work: the create carries the initial hole set, the
	// edit targets one definition, the publish must not merge into either.
	course, err := models.CreateCourse(s, models.CourseInput{
		Name:  "Links",
		Holes: []models.CourseHoleInput{{HoleNumber: 1, Par: 4}},
	})
	if err != nil {
		t.Fatalf("failed to create course: %v", err)
	}
	if _, err := models.UpdateCourseHole(s, course.ID, models.CourseHoleInput{HoleNumber: 1, Par: 5}); err != nil {
		t.Fatalf("failed to update course hole: %v", err)
	}
	if err := models.PublishCourse(s, course.ID); err != nil {
		t.Fatalf("failed to queue publish: %v", err)
	}

	if got := taskCount(t); got != 4 {
		t.Errorf("expected round + course + hole def + publish = 4 tasks, got %d", got)
	}

	// Queueing publish twice is idempotent while one is pending.
	if err := models.PublishCourse(s, course.ID); err != nil {
		t.Fatalf("failed to re-queue publish: %v", err)
	}
	if got := taskCount(t); got != 4 {
		t.Errorf("expected duplicate publish to collapse, got %d tasks", got)
	}
}

// Failed tasks keep their place and regain a fresh attempt budget on reset.
func TestResetFailedTasks(t *testing.T) {
	s, cleanup := setupQueueTestDB(t)
	defer cleanup()

	if _, err := models.CreateClub(s, models.ClubInput{Name: "Stuck", ClubType: "IRON"}); err != nil {
		t.Fatalf("failed to create club: %v", err)
	}

	// Nothing failed yet; reset is a no-op.
	n, err := models.ResetFailedTasks()
	if err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 tasks reset, got %d", n)
	}

	failed, err := models.FailedTasks()
	if err != nil {
		t.Fatalf("failed to list failed tasks: %v", err)
	}
	if len(failed) != 0 {
		t.Errorf("expected no failed tasks, got %d", len(failed))
	}
}
