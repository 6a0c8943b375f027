package domain

// JobState job processing state machine
type JobState string

const (
	StateQueued            JobState = "queued"
	StateDownloading       JobState = "downloading"
	StateTranscoding       JobState = "transcoding"
	StateUploading         JobState = "uploading"
	StateRecordingMetadata JobState = "recording_metadata"
	StateSigningURL        JobState = "signing_url"
	StateCompleted         JobState = "completed"
	StateFailed            JobState = "failed"
)

// ProgressStatus status field of a progress frame
type ProgressStatus string

const (
	ProgressStarted    ProgressStatus = "started"
	ProgressProcessing ProgressStatus = "processing"
	ProgressCompleted  ProgressStatus = "completed"
	ProgressError      ProgressStatus = "error"
)

// ProgressEvent transient progress frame, never persisted
type ProgressEvent struct {
	JobName     string         `json:"-"`
	Status      ProgressStatus `json:"status"`
	Progress    float64        `json:"progress"`
	DownloadURL string         `json:"downloadUrl,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// Terminal completed or error
func (e ProgressEvent) Terminal() bool {
	return e.Status == ProgressCompleted || e.Status == ProgressError
}

// StartedEvent started(0)
func StartedEvent(jobName string) ProgressEvent {
	return ProgressEvent{JobName: jobName, Status: ProgressStarted}
}

// ProcessingEvent processing(p), p is clamped into [0,100]
func ProcessingEvent(jobName string, percent float64) ProgressEvent {
	switch {
	case percent < 0:
		percent = 0
	case percent > 100:
		percent = 100
	}
	return ProgressEvent{JobName: jobName, Status: ProgressProcessing, Progress: percent}
}

// CompletedEvent completed(100, url)
func CompletedEvent(jobName, downloadURL string) ProgressEvent {
	return ProgressEvent{JobName: jobName, Status: ProgressCompleted, Progress: 100, DownloadURL: downloadURL}
}

// ErrorEvent error(msg)
func ErrorEvent(jobName, msg string) ProgressEvent {
	return ProgressEvent{JobName: jobName, Status: ProgressError, Error: msg}
}
