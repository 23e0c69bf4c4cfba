package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"bookmatch/internal/config"
	"bookmatch/internal/db"
	"bookmatch/internal/engine"
	"bookmatch/internal/migrate"
)

// 03:00 UTC is 12:00 KST, so the program day is 2025-11-10 and the
// matching target day is 2025-11-09.
var testNow = time.Date(2025, 11, 10, 3, 0, 0, 0, time.UTC)

type testServer struct {
	URL    string
	Engine engine.Engine
	client *http.Client
	close  func()
}

func (s *testServer) Client() *http.Client { return s.client }
func (s *testServer) Close()               { s.close() }

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	workspace := t.TempDir()
	if _, err := db.EnsureWorkspace(workspace); err != nil {
		t.Fatalf("ensure workspace: %v", err)
	}
	cfg := config.Default("cohort-1")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	e := engine.New(conn, cfg)
	e.Now = func() time.Time { return testNow }
	if _, err := e.InitCohort(context.Background(), cfg.Cohort.ID, "test cohort", "tester"); err != nil {
		t.Fatalf("init cohort: %v", err)
	}
	handler, err := New(Config{
		Engine:   e,
		BasePath: "/v0",
		Auth:     AuthConfig{AllowLegacyActorHeader: true},
	})
	if err != nil {
		t.Fatalf("build handler: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)
	testSrv := &testServer{
		URL:    "http://" + ln.Addr().String(),
		Engine: e,
		client: &http.Client{},
		close: func() {
			srv.Shutdown(context.Background())
			ln.Close()
			conn.Close()
		},
	}
	return testSrv, func() { testSrv.Close() }
}

func doJSON(t *testing.T, client *http.Client, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, url, reader)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if headers == nil {
		headers = map[string]string{"X-Actor-Id": "tester"}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	res, err := client.Do(req)
	if err != nil {
		t.Fatalf("do request: %v", err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res, data
}

func addParticipantAPI(t *testing.T, srv *testServer, id, name, gender string) {
	t.Helper()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/cohorts/cohort-1/participants", map[string]any{
		"id":     id,
		"name":   name,
		"gender": gender,
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("create participant %s: %d %s", id, res.StatusCode, string(data))
	}
}

func TestHealthBypassesAuth(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/health", nil, map[string]string{})
	if res.StatusCode != http.StatusOK {
		t.Fatalf("health status %d: %s", res.StatusCode, string(data))
	}
}

func TestUnauthenticatedRequestRejected(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodGet, srv.URL+"/v0/cohorts", nil, map[string]string{})
	if res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "unauthorized" {
		t.Fatalf("expected code unauthorized, got %q", envelope.Error.Code)
	}
}

func TestImportRequiresPermission(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/cohorts/cohort-1/matching", map[string]any{
		"day":      "2025-11-09",
		"document": map[string]any{},
	}, map[string]string{"X-Actor-Id": "stranger"})
	if res.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d %s", res.StatusCode, string(data))
	}
	var envelope struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("unmarshal error envelope: %v", err)
	}
	if envelope.Error.Code != "forbidden" {
		t.Fatalf("expected code forbidden, got %q", envelope.Error.Code)
	}
}

func TestSubmissionAttributionOverAPI(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	addParticipantAPI(t, srv, "p1", "지민", "female")

	// 01:30 local falls before the cutoff, so it counts for the previous day.
	res, data := doJSON(t, srv.Client(), http.MethodPost, srv.URL+"/v0/cohorts/cohort-1/submissions", map[string]any{
		"participant_id": "p1",
		"submitted_at":   "2025-11-10T01:30:00+09:00",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("record submission: %d %s", res.StatusCode, string(data))
	}
	var sub SubmissionResponse
	if err := json.Unmarshal(data, &sub); err != nil {
		t.Fatalf("unmarshal submission: %v", err)
	}
	if sub.ProgramDay != "2025-11-09" {
		t.Fatalf("expected program day 2025-11-09, got %s", sub.ProgramDay)
	}
	if sub.Status != "draft" {
		t.Fatalf("expected draft, got %s", sub.Status)
	}
}

func TestUnlockFlowOverAPI(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	addParticipantAPI(t, srv, "v", "지민", "female")
	addParticipantAPI(t, srv, "a", "민준", "male")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/cohorts/cohort-1/submissions", map[string]any{
		"participant_id": "v",
		"submitted_at":   "2025-11-09T21:00:00+09:00",
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("record submission: %d %s", res.StatusCode, string(data))
	}
	var sub SubmissionResponse
	if err := json.Unmarshal(data, &sub); err != nil {
		t.Fatalf("unmarshal submission: %v", err)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/cohorts/cohort-1/matching", map[string]any{
		"document": map[string]any{
			"assignments": map[string]any{
				"v": map[string]any{"assigned": []string{"a"}, "clusterId": "c1"},
				"a": map[string]any{"assigned": []string{"v"}, "clusterId": "c1"},
			},
			"clusters": map[string]any{
				"c1": map[string]any{"id": "c1", "name": "느긋한 탐험가들", "memberIds": []string{"v", "a"}},
			},
		},
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("import matching: %d %s", res.StatusCode, string(data))
	}
	var imported MatchingDayResponse
	if err := json.Unmarshal(data, &imported); err != nil {
		t.Fatalf("unmarshal matching day: %v", err)
	}
	if imported.Day != "2025-11-09" {
		t.Fatalf("expected import to default to target day, got %s", imported.Day)
	}

	// Draft submission does not unlock.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/cohorts/cohort-1/unlock?viewer_id=v&target_id=a", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("evaluate unlock: %d %s", res.StatusCode, string(data))
	}
	var unlock engine.UnlockResult
	if err := json.Unmarshal(data, &unlock); err != nil {
		t.Fatalf("unmarshal unlock: %v", err)
	}
	if unlock.State != "LOCKED" {
		t.Fatalf("expected LOCKED for draft submission, got %s", unlock.State)
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/cohorts/cohort-1/submissions/"+sub.ID+"/approve", map[string]any{}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("approve: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/cohorts/cohort-1/unlock?viewer_id=v&target_id=a", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("evaluate unlock: %d %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &unlock); err != nil {
		t.Fatalf("unmarshal unlock: %v", err)
	}
	if unlock.State != "UNLOCKED" {
		t.Fatalf("expected UNLOCKED, got %s", unlock.State)
	}
	if unlock.MatchedDay != "2025-11-09" {
		t.Fatalf("expected matched day 2025-11-09, got %s", unlock.MatchedDay)
	}

	// Unassigned target stays locked even with an approved submission.
	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/cohorts/cohort-1/unlock?viewer_id=v&target_id=stranger", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("evaluate unlock: %d %s", res.StatusCode, string(data))
	}
	if err := json.Unmarshal(data, &unlock); err != nil {
		t.Fatalf("unmarshal unlock: %v", err)
	}
	if unlock.State != "LOCKED" {
		t.Fatalf("expected LOCKED for unassigned target, got %s", unlock.State)
	}
}

func TestLibraryOverAPI(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	addParticipantAPI(t, srv, "v", "지민", "female")
	addParticipantAPI(t, srv, "a", "민준", "male")
	addParticipantAPI(t, srv, "b", "서연", "female")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/cohorts/cohort-1/matching", map[string]any{
		"day": "2025-11-09",
		"document": map[string]any{
			"assignments": map[string]any{
				"v": map[string]any{"assigned": []string{"a", "b"}, "clusterId": "c1"},
			},
			"clusters": map[string]any{
				"c1": map[string]any{"id": "c1", "name": "느긋한 탐험가들", "memberIds": []string{"v", "a", "b"}},
			},
		},
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("import matching: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPut, srv.URL+"/v0/cohorts/cohort-1/participants/a/note", map[string]any{
		"note": "loves sci-fi",
	}, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("set note: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/cohorts/cohort-1/library/v", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("library: %d %s", res.StatusCode, string(data))
	}
	var view engine.LibraryView
	if err := json.Unmarshal(data, &view); err != nil {
		t.Fatalf("unmarshal library: %v", err)
	}
	if len(view.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(view.Entries))
	}
	for _, entry := range view.Entries {
		if entry.State != "LOCKED" {
			t.Fatalf("expected LOCKED without approved submission, got %s", entry.State)
		}
		if entry.Participant.ID == "a" && entry.Note != "loves sci-fi" {
			t.Fatalf("expected note on entry a, got %q", entry.Note)
		}
	}
	if view.Cluster == nil || view.Cluster.Name != "느긋한 탐험가들" {
		t.Fatalf("expected cluster payload, got %+v", view.Cluster)
	}
	if view.Allowance.UnlockedBooks != 2 {
		t.Fatalf("expected 2 open books for unverified viewer, got %d", view.Allowance.UnlockedBooks)
	}
}

func TestValidateMatchingOverAPI(t *testing.T) {
	srv, cleanup := newTestServer(t)
	defer cleanup()
	client := srv.Client()
	addParticipantAPI(t, srv, "v", "지민", "female")

	res, data := doJSON(t, client, http.MethodPost, srv.URL+"/v0/cohorts/cohort-1/matching", map[string]any{
		"day": "2025-11-09",
		"document": map[string]any{
			"assignments": map[string]any{
				"v": map[string]any{"assigned": []string{"v"}},
			},
		},
	}, nil)
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("import matching: %d %s", res.StatusCode, string(data))
	}

	res, data = doJSON(t, client, http.MethodPost, srv.URL+"/v0/cohorts/cohort-1/matching/2025-11-09/validate?persist=true", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("validate: %d %s", res.StatusCode, string(data))
	}
	var report ValidationReportResponse
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("unmarshal report: %v", err)
	}
	if report.Valid {
		t.Fatalf("expected invalid report for self-assignment")
	}
	if report.RunID == "" {
		t.Fatalf("expected persisted run id")
	}

	res, data = doJSON(t, client, http.MethodGet, srv.URL+"/v0/cohorts/cohort-1/validations?day=2025-11-09", nil, nil)
	if res.StatusCode != http.StatusOK {
		t.Fatalf("list runs: %d %s", res.StatusCode, string(data))
	}
	var runs []ValidationRunResponse
	if err := json.Unmarshal(data, &runs); err != nil {
		t.Fatalf("unmarshal runs: %v", err)
	}
	if len(runs) != 1 || runs[0].ID != report.RunID {
		t.Fatalf("expected the persisted run, got %+v", runs)
	}
}
