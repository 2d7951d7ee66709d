package models

import "time"

// FileInfo represents metadata about a staged input file.
type FileInfo struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploadedAt"`
	Status     string    `json:"status"` // "staged", "processing", "archived", "error"
}
