package models

// TaskType selects the ingestion handler branch for a queued task.
type TaskType string

const (
	// TaskTypeFile ingests a document from a file on disk
	TaskTypeFile TaskType = "file"
	// TaskTypeText ingests inline content carried on the task itself
	TaskTypeText TaskType = "text"
	// TaskTypeDelete removes every chunk of a document from the vector store
	TaskTypeDelete TaskType = "delete"
	// TaskTypeBatch ingests a directory of files under one upload
	TaskTypeBatch TaskType = "batch"
)

// Task is the message-bus payload driving the ingestion pipeline. The JSON
// field names are the wire contract shared by both bus backends.
type Task struct {
	TaskType       TaskType       `json:"task_type"`
	DocumentUUID   string         `json:"document_uuid"`
	FilePath       string         `json:"file_path,omitempty"`
	Content        string         `json:"content,omitempty"`
	CollectionName string         `json:"collection_name,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Permission     Permission     `json:"permission"`
}
