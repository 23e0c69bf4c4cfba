// Package bookmatchsdk is a small typed client for the Bookmatch HTTP API.
package bookmatchsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client talks to a Bookmatch server. Set exactly one of APIKey or
// BearerToken; requests are scoped to CohortID.
type Client struct {
	BaseURL     string
	CohortID    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New returns a client with a 30s timeout.
func New(baseURL, cohortID string) *Client {
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		CohortID: cohortID,
		Timeout:  30 * time.Second,
	}
}

// APIError carries the HTTP status and raw body of a non-2xx response.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status %d: %s", e.StatusCode, e.Body)
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	timeout := c.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	u := c.BaseURL + "/" + strings.TrimLeft(path, "/")
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	if c.CohortID != "" {
		req.Header.Set("X-Cohort-Id", c.CohortID)
	}
	res, err := c.httpClient().Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return err
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return &APIError{StatusCode: res.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func (c *Client) cohortPath(parts ...string) string {
	p := fmt.Sprintf("v0/cohorts/%s", url.PathEscape(c.CohortID))
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

// Models are partial views of the API responses.

type Cohort struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at"`
}

type Participant struct {
	ID        string `json:"id"`
	CohortID  string `json:"cohort_id"`
	Name      string `json:"name"`
	Gender    string `json:"gender"`
	CreatedAt string `json:"created_at"`
}

type Submission struct {
	ID            string `json:"id"`
	CohortID      string `json:"cohort_id"`
	ParticipantID string `json:"participant_id"`
	ProgramDay    string `json:"program_day"`
	SubmittedAt   string `json:"submitted_at"`
	Status        string `json:"status"`
	Review        string `json:"review,omitempty"`
	DailyAnswer   string `json:"daily_answer,omitempty"`
}

type ProfileNote struct {
	CohortID      string `json:"cohort_id"`
	ParticipantID string `json:"participant_id"`
	Note          string `json:"note"`
	UpdatedAt     string `json:"updated_at"`
}

type MatchingDay struct {
	CohortID    string                `json:"cohort_id"`
	Day         string                `json:"day"`
	Document    map[string]any        `json:"document"`
	Assignments map[string]Assignment `json:"assignments"`
	CreatedAt   string                `json:"created_at"`
	UpdatedAt   string                `json:"updated_at"`
}

type Assignment struct {
	ViewerID    string   `json:"viewer_id"`
	AssignedIDs []string `json:"assigned_ids"`
	ClusterID   string   `json:"cluster_id,omitempty"`
}

type ValidationReport struct {
	Day      string   `json:"day"`
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
	RunID    string   `json:"run_id,omitempty"`
}

type UnlockResult struct {
	State            string     `json:"state"`
	ProgramDay       string     `json:"program_day"`
	TargetDay        string     `json:"target_day"`
	MatchedDay       string     `json:"matched_day,omitempty"`
	SubmissionStatus string     `json:"submission_status,omitempty"`
	Assignment       Assignment `json:"assignment"`
}

type Allowance struct {
	ApprovedDays  int  `json:"approved_days"`
	TotalBooks    int  `json:"total_books"`
	UnlockedBooks int  `json:"unlocked_books"`
	VerifiedToday bool `json:"verified_today"`
}

type LibraryEntry struct {
	Participant Participant `json:"participant"`
	Note        string      `json:"note,omitempty"`
	State       string      `json:"state"`
}

type LibraryView struct {
	ProgramDay       string         `json:"program_day"`
	TargetDay        string         `json:"target_day"`
	MatchedDay       string         `json:"matched_day,omitempty"`
	ClusterID        string         `json:"cluster_id,omitempty"`
	SubmissionStatus string         `json:"submission_status,omitempty"`
	Entries          []LibraryEntry `json:"entries"`
	Allowance        Allowance      `json:"allowance"`
}

type AccessSummary struct {
	ProgramDay       string    `json:"program_day"`
	TargetDay        string    `json:"target_day"`
	SubmissionStatus string    `json:"submission_status,omitempty"`
	Allowance        Allowance `json:"allowance"`
}

type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor,omitempty"`
}

type PaginatedSubmissions struct {
	Items      []Submission `json:"items"`
	NextCursor string       `json:"next_cursor,omitempty"`
}

type WhoAmI struct {
	ActorID     string   `json:"actor_id"`
	Role        string   `json:"role,omitempty"`
	Permissions []string `json:"permissions"`
}

// Cohort operations.

func (c *Client) GetCohort(ctx context.Context) (Cohort, error) {
	var out Cohort
	err := c.do(ctx, http.MethodGet, c.cohortPath(), nil, nil, &out)
	return out, err
}

// Participant operations.

type CreateParticipantInput struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name"`
	Gender string `json:"gender,omitempty"`
}

func (c *Client) AddParticipant(ctx context.Context, in CreateParticipantInput) (Participant, error) {
	var out Participant
	err := c.do(ctx, http.MethodPost, c.cohortPath("participants"), nil, in, &out)
	return out, err
}

func (c *Client) ListParticipants(ctx context.Context) ([]Participant, error) {
	var out []Participant
	err := c.do(ctx, http.MethodGet, c.cohortPath("participants"), nil, nil, &out)
	return out, err
}

func (c *Client) GetParticipant(ctx context.Context, id string) (Participant, error) {
	var out Participant
	err := c.do(ctx, http.MethodGet, c.cohortPath("participants", url.PathEscape(id)), nil, nil, &out)
	return out, err
}

func (c *Client) SetProfileNote(ctx context.Context, participantID, note string) (ProfileNote, error) {
	var out ProfileNote
	err := c.do(ctx, http.MethodPut, c.cohortPath("participants", url.PathEscape(participantID), "note"), nil,
		map[string]string{"note": note}, &out)
	return out, err
}

// Submission operations.

type RecordSubmissionInput struct {
	ParticipantID string `json:"participant_id"`
	SubmittedAt   string `json:"submitted_at,omitempty"`
	Review        string `json:"review,omitempty"`
	DailyAnswer   string `json:"daily_answer,omitempty"`
}

func (c *Client) RecordSubmission(ctx context.Context, in RecordSubmissionInput) (Submission, error) {
	var out Submission
	err := c.do(ctx, http.MethodPost, c.cohortPath("submissions"), nil, in, &out)
	return out, err
}

func (c *Client) ListSubmissions(ctx context.Context, participantID, day, status, cursor string, limit int) (PaginatedSubmissions, error) {
	q := url.Values{}
	if participantID != "" {
		q.Set("participant_id", participantID)
	}
	if day != "" {
		q.Set("program_day", day)
	}
	if status != "" {
		q.Set("status", status)
	}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	var out PaginatedSubmissions
	err := c.do(ctx, http.MethodGet, c.cohortPath("submissions"), q, nil, &out)
	return out, err
}

func (c *Client) ApproveSubmission(ctx context.Context, id, review string) (Submission, error) {
	return c.reviewSubmission(ctx, id, "approve", review)
}

func (c *Client) RejectSubmission(ctx context.Context, id, review string) (Submission, error) {
	return c.reviewSubmission(ctx, id, "reject", review)
}

func (c *Client) reviewSubmission(ctx context.Context, id, action, review string) (Submission, error) {
	var in any
	if review != "" {
		in = map[string]string{"review": review}
	}
	var out Submission
	err := c.do(ctx, http.MethodPost, c.cohortPath("submissions", url.PathEscape(id), action), nil, in, &out)
	return out, err
}

// Matching operations.

func (c *Client) ImportMatching(ctx context.Context, day string, document map[string]any) (MatchingDay, error) {
	in := map[string]any{"document": document}
	if day != "" {
		in["day"] = day
	}
	var out MatchingDay
	err := c.do(ctx, http.MethodPost, c.cohortPath("matching"), nil, in, &out)
	return out, err
}

func (c *Client) GetMatchingDay(ctx context.Context, day string) (MatchingDay, error) {
	var out MatchingDay
	err := c.do(ctx, http.MethodGet, c.cohortPath("matching", url.PathEscape(day)), nil, nil, &out)
	return out, err
}

func (c *Client) ListMatchingDays(ctx context.Context) ([]string, error) {
	var out struct {
		Days []string `json:"days"`
	}
	err := c.do(ctx, http.MethodGet, c.cohortPath("matching"), nil, nil, &out)
	return out.Days, err
}

func (c *Client) ValidateMatching(ctx context.Context, day string, persist bool) (ValidationReport, error) {
	q := url.Values{}
	if persist {
		q.Set("persist", "true")
	}
	var out ValidationReport
	err := c.do(ctx, http.MethodPost, c.cohortPath("matching", url.PathEscape(day), "validate"), q, nil, &out)
	return out, err
}

// Access operations.

func (c *Client) EvaluateUnlock(ctx context.Context, viewerID, targetID, at string) (UnlockResult, error) {
	q := url.Values{}
	q.Set("viewer_id", viewerID)
	q.Set("target_id", targetID)
	if at != "" {
		q.Set("at", at)
	}
	var out UnlockResult
	err := c.do(ctx, http.MethodGet, c.cohortPath("unlock"), q, nil, &out)
	return out, err
}

func (c *Client) Library(ctx context.Context, viewerID, at string) (LibraryView, error) {
	q := url.Values{}
	if at != "" {
		q.Set("at", at)
	}
	var out LibraryView
	err := c.do(ctx, http.MethodGet, c.cohortPath("library", url.PathEscape(viewerID)), q, nil, &out)
	return out, err
}

func (c *Client) AccessSummary(ctx context.Context, viewerID, at string) (AccessSummary, error) {
	q := url.Values{}
	if at != "" {
		q.Set("at", at)
	}
	var out AccessSummary
	err := c.do(ctx, http.MethodGet, c.cohortPath("access", url.PathEscape(viewerID)), q, nil, &out)
	return out, err
}

// Event operations.

func (c *Client) EventsPage(ctx context.Context, cursor string, limit int) (PaginatedEvents, error) {
	q := url.Values{}
	if cursor != "" {
		q.Set("cursor", cursor)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	var out PaginatedEvents
	err := c.do(ctx, http.MethodGet, c.cohortPath("events"), q, nil, &out)
	return out, err
}

// Identity.

func (c *Client) WhoAmI(ctx context.Context) (WhoAmI, error) {
	var out WhoAmI
	err := c.do(ctx, http.MethodGet, c.cohortPath("me", "permissions"), nil, nil, &out)
	return out, err
}
