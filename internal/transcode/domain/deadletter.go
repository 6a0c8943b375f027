package domain

import "time"

// DeadLetter poison message kept for manual inspection
type DeadLetter struct {
	ID               string    `json:"id"`
	MessageID        string    `json:"messageId"`
	Body             []byte    `json:"body"`
	Reason           string    `json:"reason"`
	Kind             string    `json:"kind"`
	ReceiveCount     int       `json:"receiveCount"`
	VideoName        string    `json:"videoName,omitempty"`
	TokenFingerprint string    `json:"tokenFingerprint,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
}

// OutcomeStatus terminal outcome of one delivery
type OutcomeStatus string

const (
	OutcomeCompleted    OutcomeStatus = "completed"
	OutcomeFailed       OutcomeStatus = "failed"
	OutcomeDeadLettered OutcomeStatus = "dead_lettered"
)

// JobOutcome notification published after each delivery settles
type JobOutcome struct {
	VideoName   string        `json:"videoName"`
	Owner       string        `json:"owner,omitempty"`
	Status      OutcomeStatus `json:"status"`
	DownloadURL string        `json:"downloadUrl,omitempty"`
	Error       string        `json:"error,omitempty"`
	Attempt     int           `json:"attempt"`
	Duration    string        `json:"duration,omitempty"`
	At          time.Time     `json:"at"`
}
