// Package rounds holds the per-desk interview round state: the ordered round
// list, the eligible candidates of every round and the transition operations
// that move candidates between rounds.
//
// A Store is owned by exactly one desk session. Every exported method takes
// the store lock, so each operation is applied atomically even when HTTP
// requests for the same desk arrive concurrently.
package rounds

import (
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/justsurfingit/jobquest-hive/internal/models"
)

var ErrRoundNotFound = errors.New("round not found")

// RoundStateUpdate is a partial update for one round state. Nil fields are
// left untouched; EligibleStudents replaces the whole list when set.
type RoundStateUpdate struct {
	EligibleStudents *[]models.Candidate
}

type Store struct {
	mu     sync.Mutex
	rounds []models.Round
	states map[int]models.RoundState

	// newID mints candidate display ids. Replaced in tests.
	newID func() string
}

func NewStore() *Store {
	return &Store{
		states: make(map[int]models.RoundState),
		newID:  uuid.NewString,
	}
}

// GetRoundState returns a copy of the state of round n, or an empty state
// when the round has none yet.
func (s *Store) GetRoundState(n int) models.RoundState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return copyState(s.stateLocked(n))
}

// UpdateRoundState merges update into the state of round n.
func (s *Store) UpdateRoundState(n int, update RoundStateUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updateLocked(n, update)
}

func (s *Store) updateLocked(n int, update RoundStateUpdate) {
	st := s.stateLocked(n)
	if update.EligibleStudents != nil {
		st.EligibleStudents = append([]models.Candidate(nil), (*update.EligibleStudents)...)
	}
	s.states[n] = st
}

func (s *Store) stateLocked(n int) models.RoundState {
	st, ok := s.states[n]
	if !ok {
		return models.RoundState{EligibleStudents: []models.Candidate{}}
	}
	return st
}

// Rounds returns the round list ordered by round number.
func (s *Store) Rounds() []models.Round {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Round(nil), s.rounds...)
}

// Round looks up round n.
func (s *Store) Round(n int) (models.Round, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 1 || n > len(s.rounds) {
		return models.Round{}, false
	}
	return s.rounds[n-1], true
}

// AddRound appends a desk-local round with the next round number.
func (s *Store) AddRound(name, description string) models.Round {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := models.Round{
		ID:          uuid.NewString(),
		RoundNumber: len(s.rounds) + 1,
		RoundName:   name,
		Description: description,
	}
	s.rounds = append(s.rounds, r)
	s.states[r.RoundNumber] = models.RoundState{EligibleStudents: []models.Candidate{}}
	return r
}

// RoundWithState looks up round n and copies its state under one lock, so
// the two always describe the same round.
func (s *Store) RoundWithState(n int) (models.Round, models.RoundState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 1 || n > len(s.rounds) {
		return models.Round{}, models.RoundState{}, false
	}
	return s.rounds[n-1], copyState(s.stateLocked(n)), true
}

// RemoveRound drops round n and its state. Later rounds move down by one so
// round numbers stay contiguous, and their states follow them.
func (s *Store) RemoveRound(n int) (models.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n < 1 || n > len(s.rounds) {
		return models.Round{}, ErrRoundNotFound
	}
	return s.removeAtLocked(n - 1), nil
}

// RemoveRoundByID is RemoveRound for the round with the given id. Callers
// that release the lock between lookup and removal use it so a concurrent
// renumbering cannot redirect them to a different round.
func (s *Store) RemoveRoundByID(id string) (models.Round, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return models.Round{}, ErrRoundNotFound
	}
	return s.removeAtLocked(i), nil
}

func (s *Store) indexLocked(id string) int {
	for i, r := range s.rounds {
		if r.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) removeAtLocked(i int) models.Round {
	removed := s.rounds[i]
	s.rounds = append(s.rounds[:i], s.rounds[i+1:]...)
	delete(s.states, i+1)
	for j := i; j < len(s.rounds); j++ {
		old := s.rounds[j].RoundNumber
		s.rounds[j].RoundNumber = j + 1
		if st, ok := s.states[old]; ok {
			s.states[j+1] = st
			delete(s.states, old)
		}
	}
	return removed
}

// Hydrate replaces every round and state with what the backend reported.
// Round numbers are reassigned 1..n in the backend's round order; members are
// keyed by the reassigned number and deduplicated by username.
func (s *Store) Hydrate(rounds []models.Round, members map[int][]string) {
	sorted := append([]models.Round(nil), rounds...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].RoundNumber < sorted[j].RoundNumber
	})

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rounds = s.rounds[:0]
	s.states = make(map[int]models.RoundState, len(sorted))
	for i, r := range sorted {
		r.RoundNumber = i + 1
		s.rounds = append(s.rounds, r)
		s.states[r.RoundNumber] = models.RoundState{EligibleStudents: []models.Candidate{}}
		s.addLocked(r.RoundNumber, members[r.RoundNumber])
	}
}

// Snapshot returns copies of all rounds and states.
func (s *Store) Snapshot() ([]models.Round, map[int]models.RoundState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	states := make(map[int]models.RoundState, len(s.states))
	for n, st := range s.states {
		states[n] = copyState(st)
	}
	return append([]models.Round(nil), s.rounds...), states
}

func copyState(st models.RoundState) models.RoundState {
	out := make([]models.Candidate, len(st.EligibleStudents))
	copy(out, st.EligibleStudents)
	return models.RoundState{EligibleStudents: out}
}
