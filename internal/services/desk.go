package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/justsurfingit/jobquest-hive/internal/ingest"
	"github.com/justsurfingit/jobquest-hive/internal/models"
	"github.com/justsurfingit/jobquest-hive/internal/remote"
	"github.com/justsurfingit/jobquest-hive/internal/rounds"
	"github.com/sirupsen/logrus"
)

var (
	// ErrValidation marks bad input. The desk state is unchanged when it is
	// returned.
	ErrValidation        = errors.New("validation failed")
	ErrCandidateNotFound = errors.New("candidate not found")
)

// DefaultPublishStatus is sent with a round's usernames when the caller gives
// no status.
const DefaultPublishStatus = "qualified"

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Backend is the part of the Hive REST API the desk calls.
type Backend interface {
	UploadRoundResults(ctx context.Context, req remote.UploadRequest) (remote.UploadResponse, error)
	GetSpecificRoundResults(ctx context.Context, jobID, roundName string) ([]models.RoundResult, error)
	DeleteRound(ctx context.Context, roundID string) error
	GetUserRoundResults(ctx context.Context) ([]models.RoundResult, error)
	GetJob(ctx context.Context, jobID string) (models.Job, error)
}

// Desk is one admin's working copy of a job's rounds. It owns its round store
// and selection for as long as the session lives.
type Desk struct {
	ID       string
	JobID    string
	JobTitle string
	OpenedAt time.Time

	store     *rounds.Store
	selection *rounds.Selection
	backend   Backend
	ledger    Ledger
	objects   *ingest.ObjectSource
	log       logrus.FieldLogger

	mu       sync.Mutex
	lastUsed time.Time
}

type RoundView struct {
	models.Round
	EligibleStudents []models.Candidate `json:"eligibleStudents"`
}

type DeskView struct {
	ID       string      `json:"id"`
	JobID    string      `json:"jobId"`
	JobTitle string      `json:"jobTitle"`
	OpenedAt time.Time   `json:"openedAt"`
	Rounds   []RoundView `json:"rounds"`
	Selected []string    `json:"selected"`
}

type PublishResult struct {
	RoundName    string   `json:"roundName"`
	Status       string   `json:"status"`
	Submitted    []string `json:"submitted"`
	SkippedUsers []string `json:"skippedUsers"`
}

func (d *Desk) touch(now time.Time) {
	d.mu.Lock()
	d.lastUsed = now
	d.mu.Unlock()
}

func (d *Desk) idleSince() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastUsed
}

// hydrate loads the job's rounds and each round's published usernames.
// A round with no published results yet comes back empty.
func (d *Desk) hydrate(ctx context.Context) error {
	job, err := d.backend.GetJob(ctx, d.JobID)
	if err != nil {
		return fmt.Errorf("failed to fetch job %s: %w", d.JobID, err)
	}
	d.JobTitle = job.Title

	list := make([]models.Round, 0, len(job.Rounds))
	for _, jr := range job.Rounds {
		list = append(list, models.Round{
			ID:          jr.ID,
			RoundNumber: jr.RoundNumber,
			RoundName:   jr.RoundName,
			Description: jr.Description,
			Remote:      true,
		})
	}
	d.store.Hydrate(list, nil)

	members := make(map[int][]string, len(list))
	for _, r := range d.store.Rounds() {
		names, err := d.fetchRoundUsernames(ctx, r.RoundName)
		if err != nil {
			return err
		}
		members[r.RoundNumber] = names
	}
	d.store.Hydrate(d.store.Rounds(), members)

	d.log.WithFields(logrus.Fields{"job_id": d.JobID, "rounds": len(list)}).Info("desk hydrated")
	return nil
}

func (d *Desk) fetchRoundUsernames(ctx context.Context, roundName string) ([]string, error) {
	results, err := d.backend.GetSpecificRoundResults(ctx, d.JobID, roundName)
	if remote.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch results of round %q: %w", roundName, err)
	}
	names := make([]string, 0, len(results))
	for _, r := range results {
		names = append(names, r.Username)
	}
	return names, nil
}

// View returns a snapshot of the desk.
func (d *Desk) View() DeskView {
	list, states := d.store.Snapshot()
	views := make([]RoundView, 0, len(list))
	for _, r := range list {
		views = append(views, RoundView{Round: r, EligibleStudents: states[r.RoundNumber].EligibleStudents})
	}
	return DeskView{
		ID:       d.ID,
		JobID:    d.JobID,
		JobTitle: d.JobTitle,
		OpenedAt: d.OpenedAt,
		Rounds:   views,
		Selected: d.selection.IDs(),
	}
}

func (d *Desk) round(n int) (models.Round, error) {
	r, ok := d.store.Round(n)
	if !ok {
		return models.Round{}, fmt.Errorf("round %d: %w", n, rounds.ErrRoundNotFound)
	}
	return r, nil
}

// RoundState returns the eligible candidates of round n.
func (d *Desk) RoundState(n int) (models.RoundState, error) {
	if _, err := d.round(n); err != nil {
		return models.RoundState{}, err
	}
	return d.store.GetRoundState(n), nil
}

// AddRound adds a desk-local round after the existing ones. Round names must
// be unique within the job since the backend keys results by name.
func (d *Desk) AddRound(name, description string) (models.Round, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Round{}, validationf("round name is required")
	}
	for _, r := range d.store.Rounds() {
		if strings.EqualFold(r.RoundName, name) {
			return models.Round{}, validationf("round %q already exists", name)
		}
	}
	r := d.store.AddRound(name, strings.TrimSpace(description))
	d.log.WithFields(logrus.Fields{"job_id": d.JobID, "round": r.RoundNumber, "round_name": r.RoundName}).Info("round added")
	return r, nil
}

// DeleteRound removes round n. Rounds known to the backend are deleted there
// first; if that call fails the desk keeps the round. The local removal goes
// by round id since other requests may renumber rounds during the call.
func (d *Desk) DeleteRound(ctx context.Context, n int) (models.Round, error) {
	r, err := d.round(n)
	if err != nil {
		return models.Round{}, err
	}
	if r.Remote {
		if err := d.backend.DeleteRound(ctx, r.ID); err != nil {
			return models.Round{}, fmt.Errorf("failed to delete round %q on backend: %w", r.RoundName, err)
		}
	}
	removed, err := d.store.RemoveRoundByID(r.ID)
	if err != nil {
		return models.Round{}, fmt.Errorf("round %q: %w", r.RoundName, err)
	}
	d.selection.DeselectAll()
	d.log.WithFields(logrus.Fields{"job_id": d.JobID, "round_name": removed.RoundName}).Info("round deleted")
	return removed, nil
}

// AddUsernames adds usernames to round n, skipping ones already there.
func (d *Desk) AddUsernames(n int, usernames []string) (rounds.AddResult, error) {
	if _, err := d.round(n); err != nil {
		return rounds.AddResult{}, err
	}
	clean := make([]string, 0, len(usernames))
	for _, u := range usernames {
		if u = strings.TrimSpace(u); u != "" {
			clean = append(clean, u)
		}
	}
	if len(clean) == 0 {
		return rounds.AddResult{}, validationf("no usernames given")
	}
	res := d.store.AddStudentsToRound(n, clean)
	d.log.WithFields(logrus.Fields{
		"job_id":     d.JobID,
		"round":      n,
		"added":      len(res.Added),
		"duplicates": len(res.Duplicates),
	}).Info("candidates added")
	return res, nil
}

// AddFromText adds the comma separated usernames in text to round n.
func (d *Desk) AddFromText(n int, text string) (rounds.AddResult, error) {
	return d.AddUsernames(n, ingest.SplitUsernames(text))
}

// AddFromSheet reads usernames from an uploaded spreadsheet.
func (d *Desk) AddFromSheet(n int, filename string, r io.ReadSeeker) (rounds.AddResult, error) {
	if _, err := d.round(n); err != nil {
		return rounds.AddResult{}, err
	}
	sheet, err := ingest.ReadSheet(filename, r)
	if err != nil {
		return rounds.AddResult{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return d.addFromSheet(n, sheet)
}

// AddFromObject reads usernames from a spreadsheet staged in object storage.
func (d *Desk) AddFromObject(ctx context.Context, n int, key string) (rounds.AddResult, error) {
	if _, err := d.round(n); err != nil {
		return rounds.AddResult{}, err
	}
	if strings.TrimSpace(key) == "" {
		return rounds.AddResult{}, validationf("object key is required")
	}
	sheet, err := d.objects.Fetch(ctx, key)
	switch {
	case errors.Is(err, ingest.ErrObjectSourceDisabled),
		errors.Is(err, ingest.ErrObjectTooLarge),
		errors.Is(err, ingest.ErrUnsupportedFormat),
		errors.Is(err, ingest.ErrUnreadableSheet):
		return rounds.AddResult{}, fmt.Errorf("%w: %v", ErrValidation, err)
	case err != nil:
		return rounds.AddResult{}, err
	}
	return d.addFromSheet(n, sheet)
}

func (d *Desk) addFromSheet(n int, sheet ingest.Sheet) (rounds.AddResult, error) {
	names, err := ingest.ExtractUsernames(sheet)
	if err != nil {
		return rounds.AddResult{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return d.AddUsernames(n, names)
}

func (d *Desk) RemoveCandidate(n int, candidateID string) error {
	if _, err := d.round(n); err != nil {
		return err
	}
	if !d.store.RemoveStudentFromRound(n, candidateID) {
		return ErrCandidateNotFound
	}
	return nil
}

// Move moves candidates between two rounds of the desk.
func (d *Desk) Move(from, to int, candidateIDs []string) (rounds.MoveResult, error) {
	if err := d.checkPair(from, to); err != nil {
		return rounds.MoveResult{}, err
	}
	if len(candidateIDs) == 0 {
		return rounds.MoveResult{}, validationf("no candidates given")
	}
	res := d.store.MoveStudentsBetweenRounds(from, to, candidateIDs)
	d.logMove(from, to, res)
	return res, nil
}

func (d *Desk) checkPair(from, to int) error {
	if _, err := d.round(from); err != nil {
		return err
	}
	_, err := d.round(to)
	return err
}

func (d *Desk) logMove(from, to int, res rounds.MoveResult) {
	entry := d.log.WithFields(logrus.Fields{
		"job_id": d.JobID,
		"from":   from,
		"to":     to,
		"moved":  len(res.Moved),
	})
	if len(res.Dropped) > 0 {
		entry.WithField("dropped", res.Dropped).Warn("candidates dropped as duplicates in destination round")
		return
	}
	entry.Info("candidates moved")
}

// ToggleSelection flips one candidate id and reports its new state.
func (d *Desk) ToggleSelection(candidateID string) bool {
	return d.selection.Toggle(candidateID)
}

// SelectAll selects every candidate of round n.
func (d *Desk) SelectAll(n int) ([]string, error) {
	st, err := d.RoundState(n)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(st.EligibleStudents))
	for _, c := range st.EligibleStudents {
		ids = append(ids, c.ID)
	}
	d.selection.SelectAll(ids)
	return d.selection.IDs(), nil
}

func (d *Desk) DeselectAll() {
	d.selection.DeselectAll()
}

func (d *Desk) Selected() []string {
	return d.selection.IDs()
}

// DeleteSelected removes the selected candidates from round n.
func (d *Desk) DeleteSelected(n int) (int, error) {
	if _, err := d.round(n); err != nil {
		return 0, err
	}
	if d.selection.Len() == 0 {
		return 0, validationf("nothing selected")
	}
	return d.store.DeleteSelectedStudents(n, d.selection), nil
}

// MoveSelected moves the selected candidates from one round to another.
func (d *Desk) MoveSelected(from, to int) (rounds.MoveResult, error) {
	if err := d.checkPair(from, to); err != nil {
		return rounds.MoveResult{}, err
	}
	if d.selection.Len() == 0 {
		return rounds.MoveResult{}, validationf("nothing selected")
	}
	res := d.store.MoveSelectedStudents(from, to, d.selection)
	d.logMove(from, to, res)
	return res, nil
}

// Publish sends round n's usernames to the backend. The backend reports the
// usernames it could not match; the desk returns them but keeps its own list
// as is. Every attempt, failed or not, goes to the ledger.
func (d *Desk) Publish(ctx context.Context, n int, status string) (PublishResult, error) {
	r, st, found := d.store.RoundWithState(n)
	if !found {
		return PublishResult{}, fmt.Errorf("round %d: %w", n, rounds.ErrRoundNotFound)
	}
	status = strings.TrimSpace(status)
	if status == "" {
		status = DefaultPublishStatus
	}
	users := st.Usernames()
	if len(users) == 0 {
		return PublishResult{}, validationf("round %q has no eligible candidates", r.RoundName)
	}

	resp, upErr := d.backend.UploadRoundResults(ctx, remote.UploadRequest{
		JobID:     d.JobID,
		Users:     users,
		Status:    status,
		RoundName: r.RoundName,
	})

	rec := &models.SyncRecord{
		DeskID:    d.ID,
		JobID:     d.JobID,
		RoundName: r.RoundName,
		Status:    status,
		Submitted: users,
		Skipped:   resp.SkippedUsers,
	}
	if upErr != nil {
		rec.Error = upErr.Error()
	}
	if err := d.ledger.Record(ctx, rec); err != nil {
		d.log.WithError(err).WithField("job_id", d.JobID).Error("failed to record publish attempt")
	}

	if upErr != nil {
		return PublishResult{}, fmt.Errorf("failed to publish round %q: %w", r.RoundName, upErr)
	}

	entry := d.log.WithFields(logrus.Fields{
		"job_id":     d.JobID,
		"round_name": r.RoundName,
		"submitted":  len(users),
		"skipped":    len(resp.SkippedUsers),
	})
	if len(resp.SkippedUsers) > 0 {
		entry.Warn("round published with skipped users")
	} else {
		entry.Info("round published")
	}
	return PublishResult{
		RoundName:    r.RoundName,
		Status:       status,
		Submitted:    users,
		SkippedUsers: resp.SkippedUsers,
	}, nil
}

// Refresh replaces round n's candidates with what the backend has published
// for it. The round is reset by id once the fetch returns.
func (d *Desk) Refresh(ctx context.Context, n int) (models.RoundState, error) {
	r, err := d.round(n)
	if err != nil {
		return models.RoundState{}, err
	}
	if !r.Remote {
		return models.RoundState{}, validationf("round %q only exists on this desk", r.RoundName)
	}
	names, err := d.fetchRoundUsernames(ctx, r.RoundName)
	if err != nil {
		return models.RoundState{}, err
	}
	st, err := d.store.ResetRoundByID(r.ID, names)
	if err != nil {
		return models.RoundState{}, fmt.Errorf("round %q: %w", r.RoundName, err)
	}
	return st, nil
}
