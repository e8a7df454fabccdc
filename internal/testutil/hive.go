// Package testutil provides a fake Hive backend for tests.
package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/justsurfingit/jobquest-hive/internal/auth"
	"github.com/justsurfingit/jobquest-hive/internal/models"
	"github.com/justsurfingit/jobquest-hive/internal/remote"
	"github.com/sirupsen/logrus"
)

// FakeHive serves the Hive round endpoints from memory.
type FakeHive struct {
	Server *httptest.Server

	mu       sync.Mutex
	jobs     map[string]models.Job
	results  map[string]map[string][]string // job id -> round name -> usernames
	known    map[string]bool                // nil means every username exists
	mine     []models.RoundResult
	failures map[string]int // method -> status

	uploads     []remote.UploadRequest
	deleted     []string
	authHeaders []string
}

func NewFakeHive(t *testing.T) *FakeHive {
	t.Helper()
	h := &FakeHive{
		jobs:     map[string]models.Job{},
		results:  map[string]map[string][]string{},
		failures: map[string]int{},
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/jobs/{jobId}", h.getJob)
	mux.HandleFunc("GET /api/rounds/results/{jobId}/{roundName}", h.getResults)
	mux.HandleFunc("GET /api/rounds/user", h.getMine)
	mux.HandleFunc("POST /api/rounds/upload", h.upload)
	mux.HandleFunc("DELETE /api/rounds/{roundId}", h.deleteRound)

	h.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		h.authHeaders = append(h.authHeaders, r.Header.Get("Authorization"))
		status := h.failures[r.Method]
		h.mu.Unlock()
		if status != 0 {
			writeJSON(w, status, map[string]string{"message": "injected failure"})
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(h.Server.Close)
	return h
}

// Client returns a remote client for the fake with a single GET attempt.
func (h *FakeHive) Client(token string) *remote.Client {
	return remote.New(remote.Options{
		BaseURL:     h.Server.URL,
		HTTPClient:  auth.NewBackendClient(token, 5*time.Second),
		GetAttempts: 1,
		Backoff:     time.Millisecond,
		Logger:      QuietLogger(),
	})
}

// AddJob registers a job with rounds named in order.
func (h *FakeHive) AddJob(id, title string, roundNames ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	job := models.Job{ID: id, Title: title}
	for i, name := range roundNames {
		job.Rounds = append(job.Rounds, models.JobRound{
			ID:          id + "-r" + strconv.Itoa(i+1),
			RoundNumber: i + 1,
			RoundName:   name,
		})
	}
	h.jobs[id] = job
}

// SetResults sets the published usernames of a round.
func (h *FakeHive) SetResults(jobID, roundName string, usernames ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.results[jobID] == nil {
		h.results[jobID] = map[string][]string{}
	}
	h.results[jobID][roundName] = usernames
}

func (h *FakeHive) Results(jobID, roundName string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.results[jobID][roundName]...)
}

// SetKnownUsers limits which usernames the backend accepts on upload.
func (h *FakeHive) SetKnownUsers(usernames ...string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.known = map[string]bool{}
	for _, u := range usernames {
		h.known[u] = true
	}
}

func (h *FakeHive) SetMyResults(results ...models.RoundResult) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.mine = results
}

// FailMethod makes every request with the given method fail with status.
// A zero status clears the failure.
func (h *FakeHive) FailMethod(method string, status int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if status == 0 {
		delete(h.failures, method)
		return
	}
	h.failures[method] = status
}

func (h *FakeHive) Uploads() []remote.UploadRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]remote.UploadRequest(nil), h.uploads...)
}

func (h *FakeHive) DeletedRounds() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.deleted...)
}

func (h *FakeHive) AuthHeaders() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.authHeaders...)
}

func (h *FakeHive) getJob(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	job, ok := h.jobs[r.PathValue("jobId")]
	h.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "job not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": job})
}

func (h *FakeHive) getResults(w http.ResponseWriter, r *http.Request) {
	jobID, roundName := r.PathValue("jobId"), r.PathValue("roundName")
	h.mu.Lock()
	names, ok := h.results[jobID][roundName]
	h.mu.Unlock()
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "no results for round"})
		return
	}
	out := make([]models.RoundResult, 0, len(names))
	for _, u := range names {
		out = append(out, models.RoundResult{JobID: jobID, RoundName: roundName, Username: u, Status: "qualified"})
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}

func (h *FakeHive) getMine(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	mine := h.mine
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"data": mine})
}

func (h *FakeHive) upload(w http.ResponseWriter, r *http.Request) {
	var req remote.UploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "bad body"})
		return
	}
	h.mu.Lock()
	h.uploads = append(h.uploads, req)
	accepted, skipped := []string{}, []string{}
	for _, u := range req.Users {
		if h.known == nil || h.known[u] {
			accepted = append(accepted, u)
		} else {
			skipped = append(skipped, u)
		}
	}
	if h.results[req.JobID] == nil {
		h.results[req.JobID] = map[string][]string{}
	}
	h.results[req.JobID][req.RoundName] = accepted
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"skippedUsers": skipped}})
}

func (h *FakeHive) deleteRound(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	h.deleted = append(h.deleted, r.PathValue("roundId"))
	h.mu.Unlock()
	writeJSON(w, http.StatusOK, map[string]string{"message": "deleted"})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// QuietLogger discards everything.
func QuietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
