// Package tasks defines the structure for events that are sent to Kafka.
package tasks

// ResourceStoredEvent represents a resource that finished the ingestion pipeline.
type ResourceStoredEvent struct {
	ResourceID       string `json:"resource_id"`
	OriginalFilename string `json:"original_filename"`
	Type             string `json:"type"`
	Path             string `json:"path"`
	Size             int64  `json:"size"`
	UserID           string `json:"user_id"`
}
