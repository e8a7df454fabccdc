package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

// Candidate is one eligible student inside a round.
// ID is a display id minted by the desk; Username is the natural key.
type Candidate struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type Round struct {
	// ID is the backend id of the round. Rounds added on the desk and not yet
	// published carry a locally minted id.
	ID          string `json:"id"`
	RoundNumber int    `json:"roundNumber"`
	RoundName   string `json:"roundName"`
	Description string `json:"description"`
	// Remote is false for rounds that only exist on the desk.
	Remote bool `json:"remote"`
}

type RoundState struct {
	EligibleStudents []Candidate `json:"eligibleStudents"`
}

// Usernames returns the usernames of the state in list order.
func (s RoundState) Usernames() []string {
	out := make([]string, 0, len(s.EligibleStudents))
	for _, c := range s.EligibleStudents {
		out = append(out, c.Username)
	}
	return out
}

// Job is the subset of the Hive job document the desk hydrates from.
type Job struct {
	ID     string     `json:"_id"`
	Title  string     `json:"title"`
	Rounds []JobRound `json:"rounds"`
}

type JobRound struct {
	ID          string `json:"_id"`
	RoundNumber int    `json:"roundNumber"`
	RoundName   string `json:"roundName"`
	Description string `json:"description"`
}

// RoundResult is one row of a round's published results on the backend.
type RoundResult struct {
	ID        string    `json:"_id"`
	JobID     string    `json:"jobId"`
	RoundName string    `json:"roundName"`
	Username  string    `json:"username"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// SyncRecord is the ledger row written for every publish attempt.
type SyncRecord struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	DeskID    string         `gorm:"index" json:"desk_id"`
	JobID     string         `gorm:"index;not null" json:"job_id"`
	RoundName string         `gorm:"not null" json:"round_name"`
	Status    string         `json:"status"`
	Submitted pq.StringArray `gorm:"type:text[]" json:"submitted"`
	Skipped   pq.StringArray `gorm:"type:text[]" json:"skipped"`
	Error     string         `gorm:"type:text" json:"error,omitempty"`
}
