package dto

// ChatStreamRequest starts one chat turn over SSE. Image carries base64
// data for the vision path; FileText carries text a client already
// extracted from an attachment.
type ChatStreamRequest struct {
	SessionID string `json:"session_id,omitempty"`
	Content   string `json:"content"`

	ImageBase64 string `json:"image_base64,omitempty"`
	FileText    string `json:"file_text,omitempty"`
	FileName    string `json:"file_name,omitempty"`
	FileType    string `json:"file_type,omitempty"`
	FileSize    int64  `json:"file_size,omitempty"`

	Location     string `json:"location,omitempty"`
	ShowThinking bool   `json:"show_thinking,omitempty"`

	SkipCache           bool   `json:"skip_cache,omitempty"`
	RegenerateMessageID string `json:"regenerate_message_id,omitempty"`
}
