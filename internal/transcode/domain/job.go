package domain

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	errprocess "transcoding_service/pkg/err"
)

const (
	// InputPrefix upload object prefix, producer owned
	InputPrefix = "uploads/"
	// OutputPrefix transcoded object prefix, pipeline owned
	OutputPrefix = "transcoded/"
	// OutputSuffix appended to the video name
	OutputSuffix = "-output.mp4"
	// OutputContentType of the transcoded object
	OutputContentType = "video/mp4"

	maxVideoNameLen = 200
)

// Job 轉碼工作訊息, queue 本身就是工作紀錄
type Job struct {
	SourceKey  string    `json:"s3Key"`
	VideoName  string    `json:"videoName"`
	Token      string    `json:"token"`
	Owner      string    `json:"owner,omitempty"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// InputKey uploads/<videoName><ext>
func InputKey(videoName, ext string) string {
	return InputPrefix + videoName + ext
}

// OutputFileName <videoName>-output.mp4
func OutputFileName(videoName string) string {
	return videoName + OutputSuffix
}

// OutputKey transcoded/<videoName>-output.mp4
func OutputKey(videoName string) string {
	return OutputPrefix + OutputFileName(videoName)
}

// SourceExt extension of the source object, ".mov" when absent
func (j Job) SourceExt() string {
	ext := strings.ToLower(filepath.Ext(j.SourceKey))
	if ext == "" {
		return ".mov"
	}
	return ext
}

// Encode message body
func (j Job) Encode() ([]byte, error) {
	return json.Marshal(j)
}

// Validate required fields, bad job is never retried
func (j Job) Validate() error {
	if strings.TrimSpace(j.SourceKey) == "" {
		return errprocess.New(errprocess.KindValidation, "domain.Job", "s3Key is required")
	}
	if err := ValidateVideoName(j.VideoName); err != nil {
		return err
	}
	return nil
}

// DecodeJob parse queue message body
func DecodeJob(body []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(body, &j); err != nil {
		return Job{}, errprocess.Wrap(errprocess.KindValidation, "domain.DecodeJob", err, "malformed job body")
	}
	if err := j.Validate(); err != nil {
		return Job{}, err
	}
	return j, nil
}

// ValidateVideoName video name becomes part of object keys and local paths
func ValidateVideoName(name string) error {
	switch {
	case name == "":
		return errprocess.New(errprocess.KindValidation, "domain.ValidateVideoName", "videoName is required")
	case len(name) > maxVideoNameLen:
		return errprocess.New(errprocess.KindValidation, "domain.ValidateVideoName", "videoName too long")
	case name == "." || name == ".." || strings.Contains(name, ".."):
		return errprocess.New(errprocess.KindValidation, "domain.ValidateVideoName", fmt.Sprintf("videoName[%s] invalid", name))
	case strings.ContainsAny(name, `/\"`):
		return errprocess.New(errprocess.KindValidation, "domain.ValidateVideoName", fmt.Sprintf("videoName[%s] invalid", name))
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return errprocess.New(errprocess.KindValidation, "domain.ValidateVideoName", "videoName has control characters")
		}
	}
	return nil
}

// VideoNameFromFile split an uploaded filename into video name and lower-case ext
func VideoNameFromFile(filename string) (string, string, error) {
	base := filepath.Base(strings.ReplaceAll(filename, `\`, "/"))
	ext := strings.ToLower(filepath.Ext(base))
	name := strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
	if err := ValidateVideoName(name); err != nil {
		return "", "", err
	}
	return name, ext, nil
}
