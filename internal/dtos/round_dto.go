package dtos

type OpenDeskRequest struct {
	JobID string `json:"jobId" binding:"required"`
}

type AddRoundRequest struct {
	RoundName   string `json:"roundName" binding:"required"`
	Description string `json:"description"`
}

// AddCandidatesRequest takes either a list of usernames or comma separated
// text. Usernames wins when both are set.
type AddCandidatesRequest struct {
	Usernames []string `json:"usernames"`
	Text      string   `json:"text"`
}

type ImportRequest struct {
	ObjectKey string `json:"objectKey" binding:"required"`
}

type MoveRequest struct {
	FromRound    int      `json:"fromRound" binding:"required,min=1"`
	ToRound      int      `json:"toRound" binding:"required,min=1"`
	CandidateIDs []string `json:"candidateIds" binding:"required,min=1"`
}

type ToggleRequest struct {
	CandidateID string `json:"candidateId" binding:"required"`
}

type RoundRequest struct {
	Round int `json:"round" binding:"required,min=1"`
}

type MoveSelectedRequest struct {
	FromRound int `json:"fromRound" binding:"required,min=1"`
	ToRound   int `json:"toRound" binding:"required,min=1"`
}

type PublishRequest struct {
	Status string `json:"status"` // Defaults to "qualified" if empty
}
