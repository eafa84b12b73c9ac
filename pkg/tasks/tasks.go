// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// ProjectIngestTask asks a worker to ingest a project's repository and pull its first commits.
type ProjectIngestTask struct {
	ProjectID string `json:"project_id"`
	UserID    string `json:"user_id"`
}
