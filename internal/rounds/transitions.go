package rounds

import (
	"github.com/justsurfingit/jobquest-hive/internal/models"
)

// AddResult reports what AddStudentsToRound did.
type AddResult struct {
	Added []models.Candidate `json:"added"`
	// Duplicates are input usernames that were already in the round, or that
	// repeated earlier input.
	Duplicates []string `json:"duplicates"`
}

// MoveResult reports what a move did.
type MoveResult struct {
	Moved []models.Candidate `json:"moved"`
	// Dropped are usernames removed from the source round that were not added
	// to the destination because it already held them.
	Dropped []string `json:"dropped"`
}

// AddStudentsToRound appends one candidate per username to round n, skipping
// usernames the round already holds. Matching is case-sensitive.
func (s *Store) AddStudentsToRound(n int, usernames []string) AddResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addLocked(n, usernames)
}

func (s *Store) addLocked(n int, usernames []string) AddResult {
	res := AddResult{Added: []models.Candidate{}, Duplicates: []string{}}
	if len(usernames) == 0 {
		return res
	}
	current := s.stateLocked(n).EligibleStudents
	seen := make(map[string]struct{}, len(current)+len(usernames))
	for _, c := range current {
		seen[c.Username] = struct{}{}
	}

	next := append([]models.Candidate(nil), current...)
	for _, u := range usernames {
		if _, dup := seen[u]; dup {
			res.Duplicates = append(res.Duplicates, u)
			continue
		}
		seen[u] = struct{}{}
		c := models.Candidate{ID: s.newID(), Username: u}
		next = append(next, c)
		res.Added = append(res.Added, c)
	}
	s.updateLocked(n, RoundStateUpdate{EligibleStudents: &next})
	return res
}

// ResetRoundByID replaces the candidates of the round with the given id,
// wherever it sits now, with fresh ones built from usernames. They are
// deduplicated the same way AddStudentsToRound does.
func (s *Store) ResetRoundByID(id string, usernames []string) (models.RoundState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.indexLocked(id)
	if i < 0 {
		return models.RoundState{}, ErrRoundNotFound
	}
	n := i + 1
	empty := []models.Candidate{}
	s.updateLocked(n, RoundStateUpdate{EligibleStudents: &empty})
	s.addLocked(n, usernames)
	return copyState(s.stateLocked(n)), nil
}

// RemoveStudentFromRound removes the candidate with the given id from round n.
// It reports false when no such candidate exists.
func (s *Store) RemoveStudentFromRound(n int, candidateID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(n, map[string]struct{}{candidateID: {}}) > 0
}

func (s *Store) removeLocked(n int, ids map[string]struct{}) int {
	current := s.stateLocked(n).EligibleStudents
	next := make([]models.Candidate, 0, len(current))
	for _, c := range current {
		if _, drop := ids[c.ID]; drop {
			continue
		}
		next = append(next, c)
	}
	removed := len(current) - len(next)
	if removed > 0 {
		s.updateLocked(n, RoundStateUpdate{EligibleStudents: &next})
	}
	return removed
}

// MoveStudentsBetweenRounds moves the candidates with the given ids from
// round from to round to. Moved candidates get fresh ids. A candidate whose
// username already exists in the destination leaves the source round but is
// not added again. Moving within one round does nothing.
func (s *Store) MoveStudentsBetweenRounds(from, to int, ids []string) MoveResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moveLocked(from, to, toSet(ids))
}

func (s *Store) moveLocked(from, to int, ids map[string]struct{}) MoveResult {
	res := MoveResult{Moved: []models.Candidate{}, Dropped: []string{}}
	if from == to || len(ids) == 0 {
		return res
	}

	var moving []models.Candidate
	remaining := make([]models.Candidate, 0)
	for _, c := range s.stateLocked(from).EligibleStudents {
		if _, ok := ids[c.ID]; ok {
			moving = append(moving, c)
		} else {
			remaining = append(remaining, c)
		}
	}
	if len(moving) == 0 {
		return res
	}
	s.updateLocked(from, RoundStateUpdate{EligibleStudents: &remaining})

	dest := s.stateLocked(to).EligibleStudents
	present := make(map[string]struct{}, len(dest))
	for _, c := range dest {
		present[c.Username] = struct{}{}
	}
	next := append([]models.Candidate(nil), dest...)
	for _, c := range moving {
		if _, dup := present[c.Username]; dup {
			res.Dropped = append(res.Dropped, c.Username)
			continue
		}
		present[c.Username] = struct{}{}
		moved := models.Candidate{ID: s.newID(), Username: c.Username}
		next = append(next, moved)
		res.Moved = append(res.Moved, moved)
	}
	s.updateLocked(to, RoundStateUpdate{EligibleStudents: &next})
	return res
}

// DeleteSelectedStudents removes every selected candidate from round n and
// clears the selection. It returns the number of candidates removed.
func (s *Store) DeleteSelectedStudents(n int, sel *Selection) int {
	ids := sel.take()
	if len(ids) == 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.removeLocked(n, ids)
}

// MoveSelectedStudents moves every selected candidate from round from to
// round to and clears the selection.
func (s *Store) MoveSelectedStudents(from, to int, sel *Selection) MoveResult {
	ids := sel.take()
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.moveLocked(from, to, ids)
}

func toSet(ids []string) map[string]struct{} {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return set
}
