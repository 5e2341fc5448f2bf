package models_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"caddie/models"
)

// ============================================================================
// Sync Engine Integration Tests
//
// These run the real engine against an in-process fake of the remote
// service, exercising the full path: enqueue, push, server response,
// reconciliation, id adoption. The fake speaks the same APIResponse
// envelope as the production service.
// ============================================================================

// fakeRemote is an httptest-backed stand-in for the remote round tracker.
type fakeRemote struct {
	server *httptest.Server

	mu      sync.Mutex
	nextID  int64
	rounds  map[int64]map[string]any
	clubs   map[int64]map[string]any
	courses map[int64]map[string]any

	rejectClubs bool     // respond 422 to club creates
	idemKeys    []string // X-Idempotency-Key values seen on creates
	logins      int

	// onRoundCreate runs inside the round create handler before the
	// response is written, to land local edits while a push is in flight.
	onRoundCreate func()
}

func newFakeRemote() *fakeRemote {
	f := &fakeRemote{
		nextID:  100,
		rounds:  make(map[int64]map[string]any),
		clubs:   make(map[int64]map[string]any),
		courses: make(map[int64]map[string]any),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /api/v1/auth/login", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.logins++
		f.mu.Unlock()
		writeEnvelope(w, map[string]string{"token": "fake-session-token"})
	})
	mux.HandleFunc("GET /api/v1/me", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, map[string]string{"guid": "user-guid-1", "username": "golfer"})
	})
	mux.HandleFunc("POST /api/v1/users", func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, nil)
	})

	mux.HandleFunc("GET /api/v1/rounds", f.handleList(&f.rounds))
	mux.HandleFunc("POST /api/v1/rounds", f.handleCreate(&f.rounds, "holes", nil, &f.onRoundCreate))
	mux.HandleFunc("PUT /api/v1/rounds/{id}", f.handleUpdate(&f.rounds))
	mux.HandleFunc("DELETE /api/v1/rounds/{id}", f.handleDelete(&f.rounds))

	mux.HandleFunc("GET /api/v1/clubs", f.handleList(&f.clubs))
	mux.HandleFunc("POST /api/v1/clubs", f.handleCreate(&f.clubs, "", &f.rejectClubs, nil))
	mux.HandleFunc("PUT /api/v1/clubs/{id}", f.handleUpdate(&f.clubs))
	mux.HandleFunc("DELETE /api/v1/clubs/{id}", f.handleDelete(&f.clubs))

	mux.HandleFunc("POST /api/v1/courses", f.handleCreate(&f.courses, "", nil, nil))
	mux.HandleFunc("GET /api/v1/courses/{id}", func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
		f.mu.Lock()
		m, ok := f.courses[id]
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeEnvelope(w, m)
	})
	mux.HandleFunc("PATCH /api/v1/courses/{id}/holes/{n}", func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
		var hole map[string]any
		json.NewDecoder(r.Body).Decode(&hole)

		f.mu.Lock()
		course, ok := f.courses[id]
		if ok {
			holes, _ := course["holes"].([]any)
			replaced := false
			for i, h := range holes {
				hm, _ := h.(map[string]any)
				if hm != nil && hm["hole_number"] == hole["hole_number"] {
					holes[i] = hole
					replaced = true
				}
			}
			if !replaced {
				holes = append(holes, hole)
			}
			course["holes"] = holes
		}
		f.mu.Unlock()

		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeEnvelope(w, hole)
	})
	mux.HandleFunc("POST /api/v1/courses/{id}/publish", func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
		f.mu.Lock()
		m, ok := f.courses[id]
		if ok {
			m["published"] = true
		}
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeEnvelope(w, m)
	})

	f.server = httptest.NewServer(mux)
	return f
}

func writeEnvelope(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"success": true, "data": data})
}

func (f *fakeRemote) handleList(store *map[int64]map[string]any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		list := make([]map[string]any, 0, len(*store))
		for _, m := range *store {
			list = append(list, m)
		}
		f.mu.Unlock()
		writeEnvelope(w, list)
	}
}

// handleCreate assigns a server id and, when childKey names an embedded
// child list, server ids for each child too. A before hook, when set, runs
// while the push is still in flight from the client's point of view.
func (f *fakeRemote) handleCreate(store *map[int64]map[string]any, childKey string, reject *bool, before *func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var m map[string]any
		json.NewDecoder(r.Body).Decode(&m)

		if before != nil {
			f.mu.Lock()
			hook := *before
			f.mu.Unlock()
			if hook != nil {
				hook()
			}
		}

		f.mu.Lock()
		defer f.mu.Unlock()

		if reject != nil && *reject {
			w.WriteHeader(http.StatusUnprocessableEntity)
			json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "validation failed"})
			return
		}
		if key := r.Header.Get("X-Idempotency-Key"); key != "" {
			f.idemKeys = append(f.idemKeys, key)
		}

		f.nextID++
		id := f.nextID
		m["id"] = id
		if childKey != "" {
			if children, ok := m[childKey].([]any); ok {
				childID := id * 1000
				for _, c := range children {
					if cm, ok := c.(map[string]any); ok {
						childID++
						cm["id"] = childID
					}
				}
			}
		}
		(*store)[id] = m
		writeEnvelope(w, m)
	}
}

func (f *fakeRemote) handleUpdate(store *map[int64]map[string]any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
		var m map[string]any
		json.NewDecoder(r.Body).Decode(&m)

		f.mu.Lock()
		_, ok := (*store)[id]
		if ok {
			m["id"] = id
			(*store)[id] = m
		}
		f.mu.Unlock()

		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeEnvelope(w, m)
	}
}

func (f *fakeRemote) handleDelete(store *map[int64]map[string]any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)
		f.mu.Lock()
		_, ok := (*store)[id]
		delete(*store, id)
		f.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		writeEnvelope(w, nil)
	}
}

func (f *fakeRemote) seedRound(id int64, courseName string) {
	f.mu.Lock()
	f.rounds[id] = map[string]any{
		"id":          id,
		"course_name": courseName,
		"played_on":   time.Now().UTC().Format(time.RFC3339),
	}
	f.mu.Unlock()
}

// setupSyncTest wires a clean database, session, fake remote and engine.
func setupSyncTest(t *testing.T) (*models.Session, *models.SyncEngine, *fakeRemote, func()) {
	t.Helper()

	os.Remove("./test_sync.ddb")
	os.Remove("./test_sync.ddb.wal")

	if err := models.InitTestDB("./test_sync.ddb"); err != nil {
		t.Fatalf("failed to initialize test database: %v", err)
	}
	session, err := models.InitSession()
	if err != nil {
		t.Fatalf("failed to initialize session: %v", err)
	}

	fake := newFakeRemote()

	cfg := &models.SyncConfig{
		Enabled:        true,
		APIBaseURL:     fake.server.URL,
		Username:       "golfer",
		Password:       "secret",
		Interval:       time.Minute,
		RequestTimeout: 5 * time.Second,
		MaxAttempts:    3,
		Concurrency:    1,
	}
	rc := models.NewRemoteClient(cfg, session)
	monitor := models.NewConnectivityMonitor(rc, time.Minute)
	engine, err := models.NewSyncEngine(cfg, rc, monitor, session)
	if err != nil {
		t.Fatalf("failed to build sync engine: %v", err)
	}

	return session, engine, fake, func() {
		fake.server.Close()
		models.CloseDB()
		os.Remove("./test_sync.ddb")
		os.Remove("./test_sync.ddb.wal")
	}
}

func TestSyncAdoptsServerIdentifiers(t *testing.T) {
	s, engine, fake, cleanup := setupSyncTest(t)
	defer cleanup()

	t.Log("Phase 1: record a full round and a club while offline")

	round, err := models.CreateRound(s, models.RoundInput{CourseName: "Pebble Creek"})
	if err != nil {
		t.Fatalf("failed to create round: %v", err)
	}
	club, err := models.CreateClub(s, models.ClubInput{Name: "7 Iron", ClubType: "IRON"})
	if err != nil {
		t.Fatalf("failed to create club: %v", err)
	}

	for n := 1; n <= 18; n++ {
		score := int64(3 + n%3)
		input := models.HoleInput{HoleNumber: n, Par: 4, Score: &score}
		if n == 1 {
			// Reference the provisional club id; it must survive adoption.
			input.ClubIDs = []int64{club.ID}
		}
		if _, err := models.UpsertHole(s, round.ID, input); err != nil {
			t.Fatalf("failed to record hole %d: %v", n, err)
		}
	}

	t.Log("Phase 2: run a sync cycle")

	if err := engine.SyncNow(); err != nil {
		t.Fatalf("sync cycle failed: %v", err)
	}

	t.Log("Phase 3: verify server ids were adopted atomically")

	if got, err := models.GetRoundByID(round.ID); err != nil || got != nil {
		t.Errorf("provisional round id %d still resolves (err=%v)", round.ID, err)
	}

	rounds, err := models.ActiveRounds()
	if err != nil {
		t.Fatalf("failed to list rounds: %v", err)
	}
	if len(rounds) != 1 {
		t.Fatalf("expected 1 round after sync, got %d", len(rounds))
	}
	adopted := rounds[0]
	if adopted.ID <= 0 {
		t.Errorf("round still carries provisional id %d", adopted.ID)
	}
	if adopted.SyncStatus != models.SyncStatusSynced {
		t.Errorf("expected round SYNCED, got %s", adopted.SyncStatus)
	}
	if !adopted.ServerID.Valid || adopted.ServerID.Int64 != adopted.ID {
		t.Errorf("expected server_id to match adopted id %d, got %+v", adopted.ID, adopted.ServerID)
	}

	holes, err := models.GetHolesForRound(adopted.ID)
	if err != nil {
		t.Fatalf("failed to list holes: %v", err)
	}
	if len(holes) != 18 {
		t.Fatalf("expected all 18 holes under adopted id, got %d", len(holes))
	}
	for _, h := range holes {
		if h.SyncStatus != models.SyncStatusSynced {
			t.Errorf("hole %d not SYNCED: %s", h.HoleNumber, h.SyncStatus)
		}
	}

	clubs, err := models.ListClubs()
	if err != nil {
		t.Fatalf("failed to list clubs: %v", err)
	}
	if len(clubs) != 1 || clubs[0].ID <= 0 {
		t.Fatalf("expected 1 adopted club, got %+v", clubs)
	}
	newClubID := strconv.FormatInt(clubs[0].ID, 10)
	if holes[0].ClubIDs != "["+newClubID+"]" {
		t.Errorf("hole 1 club refs not rewritten: %s", holes[0].ClubIDs)
	}

	count, err := models.PendingTaskCount()
	if err != nil {
		t.Fatalf("failed to count tasks: %v", err)
	}
	if count != 0 {
		t.Errorf("expected drained queue, got %d tasks", count)
	}

	fake.mu.Lock()
	idemKeys := len(fake.idemKeys)
	fake.mu.Unlock()
	if idemKeys != 2 {
		t.Errorf("expected idempotency keys on both creates, saw %d", idemKeys)
	}

	if s.UserGUID() != "user-guid-1" {
		t.Errorf("user identity not resolved on first contact: %q", s.UserGUID())
	}
}

func TestRejectedCreateSurfacesAsFailed(t *testing.T) {
	s, engine, fake, cleanup := setupSyncTest(t)
	defer cleanup()

	fake.mu.Lock()
	fake.rejectClubs = true
	fake.mu.Unlock()

	club, err := models.CreateClub(s, models.ClubInput{Name: "Bad Club", ClubType: "WEDGE"})
	if err != nil {
		t.Fatalf("failed to create club: %v", err)
	}

	if err := engine.SyncNow(); err == nil {
		t.Fatal("expected cycle error when the only task is rejected")
	}

	failed, err := models.FailedTasks()
	if err != nil {
		t.Fatalf("failed to list failed tasks: %v", err)
	}
	if len(failed) != 1 {
		t.Fatalf("expected 1 failed task, got %d", len(failed))
	}
	if failed[0].EntityType != models.EntityClub || failed[0].EntityID != club.ID {
		t.Errorf("unexpected failed task: %+v", failed[0])
	}
	if !failed[0].LastError.Valid || failed[0].LastError.String == "" {
		t.Error("failed task missing last_error")
	}

	// A rejection does not retry on its own; an explicit retry after the
	// cause is fixed must converge.
	fake.mu.Lock()
	fake.rejectClubs = false
	fake.mu.Unlock()

	if err := engine.RetryFailed(); err != nil {
		t.Fatalf("retry failed: %v", err)
	}

	clubs, err := models.ListClubs()
	if err != nil {
		t.Fatalf("failed to list clubs: %v", err)
	}
	if len(clubs) != 1 || clubs[0].SyncStatus != models.SyncStatusSynced {
		t.Fatalf("expected club synced after retry, got %+v", clubs)
	}
	count, _ := models.PendingTaskCount()
	if count != 0 {
		t.Errorf("expected drained queue after retry, got %d", count)
	}
}

func TestPullKeepsLocalEdits(t *testing.T) {
	s, engine, fake, cleanup := setupSyncTest(t)
	defer cleanup()

	fake.seedRound(7, "Server Course")

	if err := engine.SyncDown(); err != nil {
		t.Fatalf("pull failed: %v", err)
	}
	got, err := models.GetRoundByID(7)
	if err != nil || got == nil {
		t.Fatalf("expected pulled round 7, got %v (err=%v)", got, err)
	}
	if got.SyncStatus != models.SyncStatusSynced {
		t.Errorf("pulled round not SYNCED: %s", got.SyncStatus)
	}

	// Edit locally, then change the same round on the server. The pull must
	// not clobber the unconfirmed local edit.
	localName := "Local Edit"
	if _, err := models.UpdateRound(s, 7, models.RoundPatch{CourseName: &localName}); err != nil {
		t.Fatalf("failed to edit round: %v", err)
	}

	fake.mu.Lock()
	fake.rounds[7]["course_name"] = "Remote Edit"
	fake.mu.Unlock()

	if err := engine.SyncDown(); err != nil {
		t.Fatalf("second pull failed: %v", err)
	}

	got, err = models.GetRoundByID(7)
	if err != nil || got == nil {
		t.Fatalf("round 7 missing after pull: %v", err)
	}
	if got.CourseName != localName {
		t.Errorf("local edit clobbered by pull: %s", got.CourseName)
	}

	conflicts, err := models.RecentConflicts(10)
	if err != nil {
		t.Fatalf("failed to list conflicts: %v", err)
	}
	found := false
	for _, c := range conflicts {
		if c.EntityType == models.EntityRound && c.EntityID == 7 && c.Reason == models.ConflictLocalWinsPull {
			found = true
		}
	}
	if !found {
		t.Error("expected a local-wins audit record for round 7")
	}
}

func TestDeleteSyncedClubPushesCompensation(t *testing.T) {
	s, engine, fake, cleanup := setupSyncTest(t)
	defer cleanup()

	club, err := models.CreateClub(s, models.ClubInput{Name: "Driver", ClubType: "DRIVER"})
	if err != nil {
		t.Fatalf("failed to create club: %v", err)
	}
	if err := engine.SyncNow(); err != nil {
		t.Fatalf("initial sync failed: %v", err)
	}

	clubs, err := models.ListClubs()
	if err != nil || len(clubs) != 1 {
		t.Fatalf("expected 1 synced club, got %d (err=%v)", len(clubs), err)
	}
	serverID := clubs[0].ID
	if serverID == club.ID {
		t.Fatalf("club id %d was not adopted", serverID)
	}

	if err := models.DeleteClub(s, serverID); err != nil {
		t.Fatalf("failed to delete club: %v", err)
	}
	count, _ := models.PendingTaskCount()
	if count != 1 {
		t.Fatalf("expected a compensating delete task, got %d tasks", count)
	}

	// The next cycle pulls first: the server still lists the club, but the
	// queued delete must keep it from resurrecting locally.
	if err := engine.SyncNow(); err != nil {
		t.Fatalf("delete sync failed: %v", err)
	}

	fake.mu.Lock()
	_, stillRemote := fake.clubs[serverID]
	fake.mu.Unlock()
	if stillRemote {
		t.Error("club still present on server after compensating delete")
	}

	clubs, err = models.ListClubs()
	if err != nil {
		t.Fatalf("failed to list clubs: %v", err)
	}
	if len(clubs) != 0 {
		t.Errorf("deleted club resurrected locally: %+v", clubs)
	}
	count, _ = models.PendingTaskCount()
	if count != 0 {
		t.Errorf("expected drained queue, got %d", count)
	}
}

func TestDeleteAlreadyGoneOnServerCompletes(t *testing.T) {
	s, engine, fake, cleanup := setupSyncTest(t)
	defer cleanup()

	if _, err := models.CreateClub(s, models.ClubInput{Name: "Putter", ClubType: "PUTTER"}); err != nil {
		t.Fatalf("failed to create club: %v", err)
	}
	if err := engine.SyncNow(); err != nil {
		t.Fatalf("initial sync failed: %v", err)
	}
	clubs, _ := models.ListClubs()
	if len(clubs) != 1 {
		t.Fatalf("expected 1 synced club, got %d", len(clubs))
	}
	serverID := clubs[0].ID

	// Another device already deleted it server side.
	fake.mu.Lock()
	delete(fake.clubs, serverID)
	fake.mu.Unlock()

	if err := models.DeleteClub(s, serverID); err != nil {
		t.Fatalf("failed to delete club: %v", err)
	}

	// The remote 404 is treated as already-done, not a failure.
	if err := engine.SyncNow(); err != nil {
		t.Fatalf("sync failed on 404 delete: %v", err)
	}
	count, _ := models.PendingTaskCount()
	if count != 0 {
		t.Errorf("expected 404 delete to complete its task, got %d remaining", count)
	}
}

func TestCoursePublishWaitsForServerID(t *testing.T) {
	s, engine, _, cleanup := setupSyncTest(t)
	defer cleanup()

	course, err := models.CreateCourse(s, models.CourseInput{
		Name: "Willow Bend",
		Holes: []models.CourseHoleInput{
			{HoleNumber: 1, Par: 4},
			{HoleNumber: 2, Par: 3},
		},
	})
	if err != nil {
		t.Fatalf("failed to create course: %v", err)
	}
	if course.ID >= 0 {
		t.Fatalf("expected provisional course id, got %d", course.ID)
	}

	// Edit a hole definition and queue publish before anything has synced.
	// Both depend on the course create resolving a server id first.
	yards := int64(455)
	if _, err := models.UpdateCourseHole(s, course.ID, models.CourseHoleInput{HoleNumber: 1, Par: 5, Yards: &yards}); err != nil {
		t.Fatalf("failed to update course hole: %v", err)
	}
	if err := models.PublishCourse(s, course.ID); err != nil {
		t.Fatalf("failed to queue publish: %v", err)
	}

	if err := engine.SyncNow(); err != nil {
		t.Fatalf("sync failed: %v", err)
	}

	courses, err := models.ListCourses()
	if err != nil {
		t.Fatalf("failed to list courses: %v", err)
	}
	if len(courses) != 1 {
		t.Fatalf("expected 1 course, got %d", len(courses))
	}
	synced := courses[0]
	if synced.ID <= 0 {
		t.Errorf("course still carries provisional id %d", synced.ID)
	}
	if !synced.Published {
		t.Error("publish did not complete within the cycle")
	}

	holes, err := models.GetCourseHoles(synced.ID)
	if err != nil {
		t.Fatalf("failed to list course holes: %v", err)
	}
	if len(holes) != 2 {
		t.Fatalf("expected 2 hole definitions, got %d", len(holes))
	}
	for _, h := range holes {
		if h.SyncStatus != models.SyncStatusSynced {
			t.Errorf("course hole %d not SYNCED: %s", h.HoleNumber, h.SyncStatus)
		}
		if h.HoleNumber == 1 && (h.Par != 5 || !h.Yards.Valid || h.Yards.Int64 != 455) {
			t.Errorf("hole 1 edit lost: par=%d yards=%+v", h.Par, h.Yards)
		}
	}

	count, _ := models.PendingTaskCount()
	if count != 0 {
		t.Errorf("expected drained queue, got %d tasks", count)
	}
}

func TestEditDuringPushIsNotLost(t *testing.T) {
	s, engine, fake, cleanup := setupSyncTest(t)
	defer cleanup()

	round, err := models.CreateRound(s, models.RoundInput{CourseName: "First Draft"})
	if err != nil {
		t.Fatalf("failed to create round: %v", err)
	}

	// Land a local edit while the create is in flight: the server's echo is
	// stale the moment it arrives.
	newName := "Corrected Name"
	fake.mu.Lock()
	fake.onRoundCreate = func() {
		if _, err := models.UpdateRound(s, round.ID, models.RoundPatch{CourseName: &newName}); err != nil {
			t.Errorf("failed to edit round mid-push: %v", err)
		}
	}
	fake.mu.Unlock()

	t.Log("Phase 1: push the create with the edit racing it")

	if err := engine.SyncNow(); err != nil {
		t.Fatalf("sync cycle failed: %v", err)
	}

	rounds, err := models.ActiveRounds()
	if err != nil {
		t.Fatalf("failed to list rounds: %v", err)
	}
	if len(rounds) != 1 {
		t.Fatalf("expected 1 round, got %d", len(rounds))
	}
	got := rounds[0]
	if got.ID <= 0 {
		t.Errorf("server id not adopted despite the edit: %d", got.ID)
	}
	if got.CourseName != newName {
		t.Errorf("mid-flight edit clobbered by server echo: %s", got.CourseName)
	}
	if got.SyncStatus != models.SyncStatusPending {
		t.Errorf("expected round PENDING until the edit lands, got %s", got.SyncStatus)
	}

	// Exactly one task goes around again: the edit's own enqueue collapsed
	// into the requeued push, now an update against the server id.
	count, _ := models.PendingTaskCount()
	if count != 1 {
		t.Fatalf("expected a single requeued task, got %d", count)
	}

	conflicts, err := models.RecentConflicts(10)
	if err != nil {
		t.Fatalf("failed to list conflicts: %v", err)
	}
	found := false
	for _, c := range conflicts {
		if c.EntityType == models.EntityRound && c.EntityID == got.ID && c.Reason == models.ConflictMidFlightEdit {
			found = true
		}
	}
	if !found {
		t.Error("expected a mid-flight-edit audit record")
	}

	t.Log("Phase 2: the follow-up cycle converges")

	if err := engine.SyncNow(); err != nil {
		t.Fatalf("follow-up cycle failed: %v", err)
	}

	rounds, _ = models.ActiveRounds()
	if len(rounds) != 1 || rounds[0].SyncStatus != models.SyncStatusSynced {
		t.Fatalf("expected round SYNCED after follow-up, got %+v", rounds)
	}
	count, _ = models.PendingTaskCount()
	if count != 0 {
		t.Errorf("expected drained queue, got %d", count)
	}

	fake.mu.Lock()
	remote := fake.rounds[rounds[0].ID]
	fake.mu.Unlock()
	if remote == nil || remote["course_name"] != newName {
		t.Errorf("server never received the edit: %+v", remote)
	}
}

func TestSyncEntityFailureIsBooked(t *testing.T) {
	s, engine, fake, cleanup := setupSyncTest(t)
	defer cleanup()

	fake.mu.Lock()
	fake.rejectClubs = true
	fake.mu.Unlock()

	club, err := models.CreateClub(s, models.ClubInput{Name: "Gap Wedge", ClubType: "WEDGE"})
	if err != nil {
		t.Fatalf("failed to create club: %v", err)
	}

	if err := engine.SyncEntity(models.EntityClub, club.ID); err == nil {
		t.Fatal("expected entity sync to surface the rejection")
	}

	// The failed dispatch must surrender its claim: the task is FAILED with
	// the cause recorded, not stranded out of every later batch.
	failed, err := models.FailedTasks()
	if err != nil {
		t.Fatalf("failed to list failed tasks: %v", err)
	}
	if len(failed) != 1 {
		t.Fatalf("expected 1 failed task, got %d", len(failed))
	}
	if !failed[0].LastError.Valid || failed[0].LastError.String == "" {
		t.Error("failed task missing last_error")
	}

	fake.mu.Lock()
	fake.rejectClubs = false
	fake.mu.Unlock()

	if err := engine.RetryFailed(); err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	clubs, err := models.ListClubs()
	if err != nil {
		t.Fatalf("failed to list clubs: %v", err)
	}
	if len(clubs) != 1 || clubs[0].SyncStatus != models.SyncStatusSynced {
		t.Fatalf("expected club synced after retry, got %+v", clubs)
	}
	count, _ := models.PendingTaskCount()
	if count != 0 {
		t.Errorf("expected drained queue after retry, got %d", count)
	}
}

func TestOfflineCycleBooksFailureNotData(t *testing.T) {
	s, engine, fake, cleanup := setupSyncTest(t)
	defer cleanup()

	round, err := models.CreateRound(s, models.RoundInput{CourseName: "No Signal"})
	if err != nil {
		t.Fatalf("failed to create round: %v", err)
	}

	fake.server.Close()

	if err := engine.SyncNow(); err == nil {
		t.Fatal("expected cycle failure with remote unreachable")
	}

	// Local data and the queued task are untouched; nothing is lost.
	got, err := models.GetRoundByID(round.ID)
	if err != nil || got == nil {
		t.Fatalf("round lost after offline cycle: %v", err)
	}
	if got.SyncStatus != models.SyncStatusPending {
		t.Errorf("expected round still PENDING, got %s", got.SyncStatus)
	}
	count, _ := models.PendingTaskCount()
	if count != 1 {
		t.Errorf("expected task retained, got %d", count)
	}

	report, err := engine.StatusReport()
	if err != nil {
		t.Fatalf("failed to build status report: %v", err)
	}
	if report.PendingCount != 1 {
		t.Errorf("expected 1 pending in report, got %d", report.PendingCount)
	}
	if report.LastError == "" {
		t.Error("expected last error recorded in report")
	}
}
