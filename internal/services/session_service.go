package services

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/justsurfingit/jobquest-hive/internal/ingest"
	"github.com/justsurfingit/jobquest-hive/internal/models"
	"github.com/justsurfingit/jobquest-hive/internal/rounds"
	"github.com/sirupsen/logrus"
)

var ErrDeskNotFound = errors.New("desk not found")

// BackendFactory builds a backend client that authenticates with token.
type BackendFactory func(token string) Backend

type SessionOptions struct {
	NewBackend BackendFactory
	Ledger     Ledger
	Objects    *ingest.ObjectSource
	IdleTTL    time.Duration
	Logger     logrus.FieldLogger
}

// SessionService keeps the open desks. A desk lives from Open until Close,
// or until it has been idle for longer than the configured TTL.
type SessionService struct {
	newBackend BackendFactory
	ledger     Ledger
	objects    *ingest.ObjectSource
	idleTTL    time.Duration
	log        logrus.FieldLogger
	now        func() time.Time

	mu    sync.Mutex
	desks map[string]*Desk
}

func NewSessionService(opts SessionOptions) *SessionService {
	s := &SessionService{
		newBackend: opts.NewBackend,
		ledger:     opts.Ledger,
		objects:    opts.Objects,
		idleTTL:    opts.IdleTTL,
		log:        opts.Logger,
		now:        time.Now,
		desks:      make(map[string]*Desk),
	}
	if s.ledger == nil {
		s.ledger = NewMemoryLedger(1000)
	}
	if s.log == nil {
		s.log = logrus.StandardLogger()
	}
	return s
}

// Open creates a desk for jobID and hydrates it from the backend using the
// caller's token. The desk is only registered once hydration succeeded.
func (s *SessionService) Open(ctx context.Context, jobID, token string) (*Desk, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, validationf("jobId is required")
	}
	now := s.now()
	d := &Desk{
		ID:        uuid.NewString(),
		JobID:     jobID,
		OpenedAt:  now,
		store:     rounds.NewStore(),
		selection: rounds.NewSelection(),
		backend:   s.newBackend(token),
		ledger:    s.ledger,
		objects:   s.objects,
		lastUsed:  now,
	}
	d.log = s.log.WithFields(logrus.Fields{"desk_id": d.ID})
	if err := d.hydrate(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.desks[d.ID] = d
	s.mu.Unlock()
	d.log.WithField("job_id", jobID).Info("desk opened")
	return d, nil
}

// Get returns an open desk and marks it used.
func (s *SessionService) Get(id string) (*Desk, error) {
	s.mu.Lock()
	d, ok := s.desks[id]
	s.mu.Unlock()
	if !ok {
		return nil, ErrDeskNotFound
	}
	d.touch(s.now())
	return d, nil
}

func (s *SessionService) Close(id string) error {
	s.mu.Lock()
	d, ok := s.desks[id]
	delete(s.desks, id)
	s.mu.Unlock()
	if !ok {
		return ErrDeskNotFound
	}
	d.log.Info("desk closed")
	return nil
}

func (s *SessionService) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.desks)
}

// Reap closes every desk idle for longer than the TTL and returns how many
// it closed.
func (s *SessionService) Reap() int {
	if s.idleTTL <= 0 {
		return 0
	}
	cutoff := s.now().Add(-s.idleTTL)

	s.mu.Lock()
	var expired []*Desk
	for id, d := range s.desks {
		if d.idleSince().Before(cutoff) {
			expired = append(expired, d)
			delete(s.desks, id)
		}
	}
	s.mu.Unlock()

	for _, d := range expired {
		d.log.Info("desk expired")
	}
	return len(expired)
}

// StartReaper runs Reap every interval until ctx is done.
func (s *SessionService) StartReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := s.Reap(); n > 0 {
					s.log.WithField("closed", n).Info("idle desks reaped")
				}
			}
		}
	}()
}

// UserRoundResults lists the caller's own round results from the backend.
func (s *SessionService) UserRoundResults(ctx context.Context, token string) ([]models.RoundResult, error) {
	results, err := s.newBackend(token).GetUserRoundResults(ctx)
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []models.RoundResult{}
	}
	return results, nil
}

// History lists the publish attempts recorded for a job, newest first.
func (s *SessionService) History(ctx context.Context, jobID string, limit int) ([]models.SyncRecord, error) {
	recs, err := s.ledger.History(ctx, jobID, limit)
	if err != nil {
		return nil, err
	}
	if recs == nil {
		recs = []models.SyncRecord{}
	}
	return recs, nil
}
