package api

import (
	"time"

	"github.com/OmGuptaIND/rekordr/engine"
)

type StartRecordingRequest struct {
	Mode       string `json:"mode,omitempty"`
	SkipWebcam bool   `json:"skip_webcam,omitempty"`
}

type StartRecordingResponse struct {
	Status string        `json:"status"`
	Id     string        `json:"id"`
	State  engine.Status `json:"state"`
}

type StopRecordingResponse struct {
	Status   string        `json:"status"`
	Id       string        `json:"id"`
	VideoId  string        `json:"video_id"`
	Url      string        `json:"url,omitempty"`
	MimeType string        `json:"mime_type"`
	Size     int64         `json:"size"`
	Chunks   int           `json:"chunks"`
	Duration time.Duration `json:"duration"`
	Forced   bool          `json:"forced"`
}

type RecordingResponse struct {
	Id     string        `json:"id"`
	Status engine.Status `json:"status"`
}

type ListRecordingsResponse struct {
	Recordings []RecordingResponse `json:"recordings"`
}

type VideoResponse struct {
	Id       string `json:"id"`
	Url      string `json:"url"`
	Key      string `json:"key"`
	MimeType string `json:"mime_type,omitempty"`
	Size     int64  `json:"size,omitempty"`
}
