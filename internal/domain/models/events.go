package models

// EventType names one server-sent event in the chat stream.
type EventType string

const (
	EventSessionCreated        EventType = "session_created"
	EventUserMessageSaved      EventType = "user_message_saved"
	EventThought               EventType = "thought"
	EventAction                EventType = "action"
	EventObservation           EventType = "observation"
	EventAnswerChunk           EventType = "answer_chunk"
	EventDocuments             EventType = "documents"
	EventImageAnalysisComplete EventType = "image_analysis_complete"
	EventAIMessageSaved        EventType = "ai_message_saved"
	EventDone                  EventType = "done"
	EventError                 EventType = "error"

	// Agent callback events. Not part of the client stream; the
	// orchestrator consumes or drops them.
	EventToolResult EventType = "tool_result"
	EventLLMChunk   EventType = "llm_chunk"
)

// StreamEvent is one typed event pushed to the client during a turn.
// Data marshals to the `data:` JSON line of the SSE frame.
type StreamEvent struct {
	Type EventType `json:"type"`
	Data any       `json:"data"`
}

func SessionCreatedEvent(sessionID, sessionName string) StreamEvent {
	return StreamEvent{Type: EventSessionCreated, Data: map[string]any{
		"session_id":   sessionID,
		"session_name": sessionName,
	}}
}

func UserMessageSavedEvent(uuid, content string) StreamEvent {
	return StreamEvent{Type: EventUserMessageSaved, Data: map[string]any{
		"uuid":    uuid,
		"content": content,
	}}
}

func ThoughtEvent(content string) StreamEvent {
	return StreamEvent{Type: EventThought, Data: map[string]any{"content": content}}
}

func ActionEvent(content string) StreamEvent {
	return StreamEvent{Type: EventAction, Data: map[string]any{"content": content}}
}

func ObservationEvent(content string) StreamEvent {
	return StreamEvent{Type: EventObservation, Data: map[string]any{"content": content}}
}

func AnswerChunkEvent(content string) StreamEvent {
	return StreamEvent{Type: EventAnswerChunk, Data: map[string]any{"content": content}}
}

func DocumentsEvent(docs []DocumentRef) StreamEvent {
	return StreamEvent{Type: EventDocuments, Data: map[string]any{"documents": docs}}
}

func ImageAnalysisCompleteEvent(combined, imageInfo, ocrText, visionDescription string) StreamEvent {
	return StreamEvent{Type: EventImageAnalysisComplete, Data: map[string]any{
		"combined_content":   combined,
		"image_info":         imageInfo,
		"ocr_text":           ocrText,
		"vision_description": visionDescription,
	}}
}

func AIMessageSavedEvent(uuid, content, thoughtChainID string) StreamEvent {
	return StreamEvent{Type: EventAIMessageSaved, Data: map[string]any{
		"uuid":             uuid,
		"content":          content,
		"thought_chain_id": thoughtChainID,
	}}
}

func DoneEvent(sessionID string) StreamEvent {
	return StreamEvent{Type: EventDone, Data: map[string]any{"session_id": sessionID}}
}

func ErrorEvent(message string) StreamEvent {
	return StreamEvent{Type: EventError, Data: map[string]any{"message": message}}
}

func ToolResultEvent(tool, content string) StreamEvent {
	return StreamEvent{Type: EventToolResult, Data: map[string]any{
		"tool":    tool,
		"content": content,
	}}
}

func LLMChunkEvent(content string) StreamEvent {
	return StreamEvent{Type: EventLLMChunk, Data: map[string]any{"content": content}}
}
