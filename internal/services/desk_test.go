package services

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/justsurfingit/jobquest-hive/internal/ingest"
	"github.com/justsurfingit/jobquest-hive/internal/models"
	"github.com/justsurfingit/jobquest-hive/internal/remote"
	"github.com/justsurfingit/jobquest-hive/internal/rounds"
	"github.com/justsurfingit/jobquest-hive/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func newTestService(t *testing.T, hive *testutil.FakeHive) *SessionService {
	t.Helper()
	return NewSessionService(SessionOptions{
		NewBackend: func(token string) Backend { return hive.Client(token) },
		Ledger:     NewMemoryLedger(100),
		Logger:     testutil.QuietLogger(),
	})
}

// openDesk opens a desk on job1 with rounds "Aptitude" [a, b] and
// "Technical" [b].
func openDesk(t *testing.T) (*Desk, *testutil.FakeHive, *SessionService) {
	t.Helper()
	hive := testutil.NewFakeHive(t)
	hive.AddJob("job1", "Backend Engineer", "Aptitude", "Technical")
	hive.SetResults("job1", "Aptitude", "a", "b")
	hive.SetResults("job1", "Technical", "b")

	svc := newTestService(t, hive)
	d, err := svc.Open(context.Background(), "job1", "")
	require.NoError(t, err)
	return d, hive, svc
}

func roundUsernames(t *testing.T, d *Desk, n int) []string {
	t.Helper()
	st, err := d.RoundState(n)
	require.NoError(t, err)
	return st.Usernames()
}

func idsOf(t *testing.T, d *Desk, n int) []string {
	t.Helper()
	st, err := d.RoundState(n)
	require.NoError(t, err)
	var ids []string
	for _, c := range st.EligibleStudents {
		ids = append(ids, c.ID)
	}
	return ids
}

func TestOpenHydratesFromBackend(t *testing.T) {
	d, _, _ := openDesk(t)

	view := d.View()
	assert.Equal(t, "job1", view.JobID)
	assert.Equal(t, "Backend Engineer", view.JobTitle)
	require.Len(t, view.Rounds, 2)
	assert.Equal(t, "Aptitude", view.Rounds[0].RoundName)
	assert.True(t, view.Rounds[0].Remote)
	assert.Equal(t, "job1-r1", view.Rounds[0].ID)
	assert.Equal(t, []string{"a", "b"}, roundUsernames(t, d, 1))
	assert.Equal(t, []string{"b"}, roundUsernames(t, d, 2))
	assert.Empty(t, view.Selected)
}

func TestOpenUnpublishedRoundIsEmpty(t *testing.T) {
	hive := testutil.NewFakeHive(t)
	hive.AddJob("job2", "SRE", "Screening")
	d, err := newTestService(t, hive).Open(context.Background(), "job2", "")
	require.NoError(t, err)
	assert.Empty(t, roundUsernames(t, d, 1))
}

func TestAddFromTextDedupes(t *testing.T) {
	d, _, _ := openDesk(t)

	res, err := d.AddFromText(2, "alice, bob ,, alice")
	require.NoError(t, err)
	assert.Len(t, res.Added, 2)
	assert.Equal(t, []string{"alice"}, res.Duplicates)
	assert.Equal(t, []string{"b", "alice", "bob"}, roundUsernames(t, d, 2))
}

func TestAddValidation(t *testing.T) {
	d, _, _ := openDesk(t)

	_, err := d.AddFromText(1, " , ,")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = d.AddUsernames(9, []string{"x"})
	assert.ErrorIs(t, err, rounds.ErrRoundNotFound)

	assert.Equal(t, []string{"a", "b"}, roundUsernames(t, d, 1))
}

func sheetBytes(t *testing.T, rows ...[]interface{}) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &rows[i]))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestAddFromSheet(t *testing.T) {
	d, _, _ := openDesk(t)
	data := sheetBytes(t,
		[]interface{}{"Roll No.", "Name"},
		[]interface{}{"CS101", "Alice"},
		[]interface{}{"a", "Dup"},
	)

	res, err := d.AddFromSheet(1, "round1.xlsx", bytes.NewReader(data))
	require.NoError(t, err)
	assert.Len(t, res.Added, 1)
	assert.Equal(t, []string{"a"}, res.Duplicates)
	assert.Equal(t, []string{"a", "b", "CS101"}, roundUsernames(t, d, 1))
}

func TestAddFromSheetRejectsBadUploads(t *testing.T) {
	d, _, _ := openDesk(t)

	noIDs := sheetBytes(t, []interface{}{"Name"}, []interface{}{"Alice"})
	_, err := d.AddFromSheet(1, "names.xlsx", bytes.NewReader(noIDs))
	assert.ErrorIs(t, err, ErrValidation)
	assert.ErrorContains(t, err, ingest.ErrNoIdentifiers.Error())

	_, err = d.AddFromSheet(1, "names.csv", bytes.NewReader([]byte("username\nx")))
	assert.ErrorIs(t, err, ErrValidation)

	assert.Equal(t, []string{"a", "b"}, roundUsernames(t, d, 1))
}

func TestAddFromObjectDisabled(t *testing.T) {
	d, _, _ := openDesk(t)
	_, err := d.AddFromObject(context.Background(), 1, "sheet.xlsx")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = d.AddFromObject(context.Background(), 1, " ")
	assert.ErrorIs(t, err, ErrValidation)
}

type stagedObjects map[string][]byte

func (o stagedObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := o[aws.ToString(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestAddFromObject(t *testing.T) {
	hive := testutil.NewFakeHive(t)
	hive.AddJob("job1", "Backend Engineer", "Aptitude")
	svc := NewSessionService(SessionOptions{
		NewBackend: func(token string) Backend { return hive.Client(token) },
		Ledger:     NewMemoryLedger(10),
		Objects: ingest.NewObjectSourceWithClient(stagedObjects{
			"good.xlsx":   sheetBytes(t, []interface{}{"username"}, []interface{}{"alice"}),
			"broken.xlsx": []byte("PK but not a workbook"),
		}, "hive-uploads", 0),
		Logger: testutil.QuietLogger(),
	})
	d, err := svc.Open(context.Background(), "job1", "")
	require.NoError(t, err)

	res, err := d.AddFromObject(context.Background(), 1, "good.xlsx")
	require.NoError(t, err)
	assert.Len(t, res.Added, 1)

	// A staged file that does not parse is the caller's mistake, same as an
	// upload with the same bytes.
	_, err = d.AddFromObject(context.Background(), 1, "broken.xlsx")
	assert.ErrorIs(t, err, ErrValidation)
	assert.ErrorContains(t, err, ingest.ErrUnreadableSheet.Error())
	_, err = d.AddFromSheet(1, "broken.xlsx", bytes.NewReader([]byte("PK but not a workbook")))
	assert.ErrorIs(t, err, ErrValidation)

	// A storage failure is not.
	_, err = d.AddFromObject(context.Background(), 1, "missing.xlsx")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrValidation)

	assert.Equal(t, []string{"alice"}, roundUsernames(t, d, 1))
}

func TestRemoveCandidate(t *testing.T) {
	d, _, _ := openDesk(t)
	ids := idsOf(t, d, 1)

	require.NoError(t, d.RemoveCandidate(1, ids[0]))
	assert.Equal(t, []string{"b"}, roundUsernames(t, d, 1))
	assert.ErrorIs(t, d.RemoveCandidate(1, ids[0]), ErrCandidateNotFound)
	assert.ErrorIs(t, d.RemoveCandidate(4, ids[1]), rounds.ErrRoundNotFound)
}

func TestMoveDropsDuplicateUsernames(t *testing.T) {
	d, _, _ := openDesk(t)

	res, err := d.Move(1, 2, idsOf(t, d, 1))
	require.NoError(t, err)

	assert.Empty(t, roundUsernames(t, d, 1))
	assert.Equal(t, []string{"b", "a"}, roundUsernames(t, d, 2))
	require.Len(t, res.Moved, 1)
	assert.Equal(t, "a", res.Moved[0].Username)
	assert.Equal(t, []string{"b"}, res.Dropped)
}

func TestMoveValidation(t *testing.T) {
	d, _, _ := openDesk(t)
	_, err := d.Move(1, 3, idsOf(t, d, 1))
	assert.ErrorIs(t, err, rounds.ErrRoundNotFound)
	_, err = d.Move(1, 2, nil)
	assert.ErrorIs(t, err, ErrValidation)

	res, err := d.Move(1, 1, idsOf(t, d, 1))
	require.NoError(t, err)
	assert.Empty(t, res.Moved)
	assert.Equal(t, []string{"a", "b"}, roundUsernames(t, d, 1))
}

func TestSelectionFlow(t *testing.T) {
	d, _, _ := openDesk(t)

	selected, err := d.SelectAll(1)
	require.NoError(t, err)
	assert.Len(t, selected, 2)

	assert.False(t, d.ToggleSelection(idsOf(t, d, 1)[1]))
	assert.Len(t, d.Selected(), 1)

	res, err := d.MoveSelected(1, 2)
	require.NoError(t, err)
	assert.Len(t, res.Moved, 1)
	assert.Equal(t, []string{"b"}, roundUsernames(t, d, 1))
	assert.Equal(t, []string{"b", "a"}, roundUsernames(t, d, 2))
	assert.Empty(t, d.Selected())

	_, err = d.MoveSelected(1, 2)
	assert.ErrorIs(t, err, ErrValidation)

	d.ToggleSelection(idsOf(t, d, 2)[0])
	n, err := d.DeleteSelected(2)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"a"}, roundUsernames(t, d, 2))
	assert.Empty(t, d.Selected())

	_, err = d.DeleteSelected(2)
	assert.ErrorIs(t, err, ErrValidation)

	d.ToggleSelection("x")
	d.DeselectAll()
	assert.Empty(t, d.Selected())
}

func TestAddAndDeleteRounds(t *testing.T) {
	d, hive, _ := openDesk(t)

	r, err := d.AddRound("  HR  ", "final chat")
	require.NoError(t, err)
	assert.Equal(t, 3, r.RoundNumber)
	assert.Equal(t, "HR", r.RoundName)
	assert.False(t, r.Remote)

	_, err = d.AddRound("hr", "")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = d.AddRound(" ", "")
	assert.ErrorIs(t, err, ErrValidation)

	// Local rounds never reach the backend.
	_, err = d.DeleteRound(context.Background(), 3)
	require.NoError(t, err)
	assert.Empty(t, hive.DeletedRounds())

	removed, err := d.DeleteRound(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "Aptitude", removed.RoundName)
	assert.Equal(t, []string{"job1-r1"}, hive.DeletedRounds())

	view := d.View()
	require.Len(t, view.Rounds, 1)
	assert.Equal(t, "Technical", view.Rounds[0].RoundName)
	assert.Equal(t, 1, view.Rounds[0].RoundNumber)
	assert.Equal(t, []string{"b"}, roundUsernames(t, d, 1))
}

func TestDeleteRoundBackendFailureKeepsRound(t *testing.T) {
	d, hive, _ := openDesk(t)
	hive.FailMethod(http.MethodDelete, http.StatusInternalServerError)

	_, err := d.DeleteRound(context.Background(), 1)
	var apiErr *remote.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Len(t, d.View().Rounds, 2)
}

// gatedBackend holds a backend call for one round until release is closed.
// The gate fields are set before any call that reads them.
type gatedBackend struct {
	Backend
	deleteID     string
	resultsRound string
	started      chan struct{}
	release      chan struct{}
}

func newGatedBackend(b Backend) *gatedBackend {
	return &gatedBackend{Backend: b, started: make(chan struct{}), release: make(chan struct{})}
}

func (g *gatedBackend) DeleteRound(ctx context.Context, roundID string) error {
	if roundID == g.deleteID {
		close(g.started)
		<-g.release
	}
	return g.Backend.DeleteRound(ctx, roundID)
}

func (g *gatedBackend) GetSpecificRoundResults(ctx context.Context, jobID, roundName string) ([]models.RoundResult, error) {
	if roundName == g.resultsRound {
		close(g.started)
		<-g.release
	}
	return g.Backend.GetSpecificRoundResults(ctx, jobID, roundName)
}

// openGatedDesk opens job1 with rounds A, B, C and D behind a gated backend.
func openGatedDesk(t *testing.T) (*Desk, *testutil.FakeHive, *gatedBackend) {
	t.Helper()
	hive := testutil.NewFakeHive(t)
	hive.AddJob("job1", "Backend Engineer", "A", "B", "C", "D")
	hive.SetResults("job1", "B", "b1")
	hive.SetResults("job1", "C", "c1")
	gate := newGatedBackend(hive.Client(""))
	svc := NewSessionService(SessionOptions{
		NewBackend: func(string) Backend { return gate },
		Ledger:     NewMemoryLedger(10),
		Logger:     testutil.QuietLogger(),
	})
	d, err := svc.Open(context.Background(), "job1", "")
	require.NoError(t, err)
	return d, hive, gate
}

func roundNames(d *Desk) []string {
	var names []string
	for i, r := range d.View().Rounds {
		if r.RoundNumber != i+1 {
			return nil
		}
		names = append(names, r.RoundName)
	}
	return names
}

func TestDeleteRoundWhileEarlierRoundIsDeleted(t *testing.T) {
	d, hive, gate := openGatedDesk(t)
	gate.deleteID = "job1-r2"

	type result struct {
		round models.Round
		err   error
	}
	done := make(chan result, 1)
	go func() {
		r, err := d.DeleteRound(context.Background(), 2)
		done <- result{r, err}
	}()
	<-gate.started

	// Deleting round 1 renumbers B to 1 while its backend delete is pending.
	removed, err := d.DeleteRound(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "A", removed.RoundName)
	close(gate.release)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, "B", res.round.RoundName)

	assert.Equal(t, []string{"C", "D"}, roundNames(d))
	assert.Equal(t, []string{"c1"}, roundUsernames(t, d, 1))
	assert.ElementsMatch(t, []string{"job1-r1", "job1-r2"}, hive.DeletedRounds())
}

func TestDeleteRoundAlreadyGoneLocally(t *testing.T) {
	d, _, gate := openGatedDesk(t)
	_, err := d.AddRound("Local", "")
	require.NoError(t, err)
	gate.deleteID = "job1-r2"

	done := make(chan error, 1)
	go func() {
		_, err := d.DeleteRound(context.Background(), 2)
		done <- err
	}()
	<-gate.started

	// B is removed locally by id while its first delete is still in flight.
	_, err = d.store.RemoveRoundByID("job1-r2")
	require.NoError(t, err)
	close(gate.release)

	assert.ErrorIs(t, <-done, rounds.ErrRoundNotFound)
	assert.Equal(t, []string{"A", "C", "D", "Local"}, roundNames(d))
}

func TestRefreshWhileEarlierRoundIsDeleted(t *testing.T) {
	d, hive, gate := openGatedDesk(t)
	gate.resultsRound = "B"
	hive.SetResults("job1", "B", "b2", "b3")

	type result struct {
		state models.RoundState
		err   error
	}
	done := make(chan result, 1)
	go func() {
		st, err := d.Refresh(context.Background(), 2)
		done <- result{st, err}
	}()
	<-gate.started

	_, err := d.DeleteRound(context.Background(), 1)
	require.NoError(t, err)
	close(gate.release)

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, []string{"b2", "b3"}, res.state.Usernames())

	assert.Equal(t, []string{"B", "C", "D"}, roundNames(d))
	assert.Equal(t, []string{"b2", "b3"}, roundUsernames(t, d, 1))
	assert.Equal(t, []string{"c1"}, roundUsernames(t, d, 2))
}

func TestPublishReportsSkippedUsers(t *testing.T) {
	d, hive, svc := openDesk(t)
	hive.SetKnownUsers("a")

	res, err := d.Publish(context.Background(), 1, "")
	require.NoError(t, err)
	assert.Equal(t, "Aptitude", res.RoundName)
	assert.Equal(t, DefaultPublishStatus, res.Status)
	assert.Equal(t, []string{"a", "b"}, res.Submitted)
	assert.Equal(t, []string{"b"}, res.SkippedUsers)

	uploads := hive.Uploads()
	require.Len(t, uploads, 1)
	assert.Equal(t, remote.UploadRequest{JobID: "job1", Users: []string{"a", "b"}, Status: "qualified", RoundName: "Aptitude"}, uploads[0])

	// Local state is advisory and is not trimmed to what the backend accepted.
	assert.Equal(t, []string{"a", "b"}, roundUsernames(t, d, 1))

	hist, err := svc.History(context.Background(), "job1", 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, []string{"b"}, []string(hist[0].Skipped))
	assert.Equal(t, d.ID, hist[0].DeskID)
	assert.Empty(t, hist[0].Error)
}

func TestPublishFailureIsRecorded(t *testing.T) {
	d, hive, svc := openDesk(t)
	hive.FailMethod(http.MethodPost, http.StatusBadGateway)

	_, err := d.Publish(context.Background(), 2, "shortlisted")
	var apiErr *remote.APIError
	require.ErrorAs(t, err, &apiErr)

	hist, err := svc.History(context.Background(), "job1", 0)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	assert.Equal(t, "shortlisted", hist[0].Status)
	assert.Contains(t, hist[0].Error, "502")
}

func TestPublishEmptyRound(t *testing.T) {
	d, hive, _ := openDesk(t)
	_, err := d.AddRound("HR", "")
	require.NoError(t, err)

	_, err = d.Publish(context.Background(), 3, "")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Empty(t, hive.Uploads())
}

func TestRefreshReplacesRoundFromBackend(t *testing.T) {
	d, hive, _ := openDesk(t)
	_, err := d.AddFromText(1, "c")
	require.NoError(t, err)
	hive.SetResults("job1", "Aptitude", "z", "a")

	st, err := d.Refresh(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"z", "a"}, st.Usernames())
	assert.Equal(t, []string{"b"}, roundUsernames(t, d, 2))

	_, err = d.AddRound("Local", "")
	require.NoError(t, err)
	_, err = d.Refresh(context.Background(), 3)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestRoundStateUnknownRound(t *testing.T) {
	d, _, _ := openDesk(t)
	_, err := d.RoundState(0)
	assert.ErrorIs(t, err, rounds.ErrRoundNotFound)
	_, err = d.SelectAll(5)
	assert.ErrorIs(t, err, rounds.ErrRoundNotFound)
}

var _ Backend = (*remote.Client)(nil)

func TestViewRoundsCarryCandidates(t *testing.T) {
	d, _, _ := openDesk(t)
	view := d.View()
	assert.Equal(t, []models.Candidate{
		{ID: idsOf(t, d, 2)[0], Username: "b"},
	}, view.Rounds[1].EligibleStudents)
}
