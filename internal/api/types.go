// File path: internal/api/types.go
package api

type chatRequest struct {
	Conversation string `json:"conversation"`
	Prompt       string `json:"prompt"`
	UseRAG       bool   `json:"use_rag"`
	Database     string `json:"database,omitempty"`
	Stream       bool   `json:"stream,omitempty"`
}

type resetRequest struct {
	Conversation string `json:"conversation"`
}

type createConversationRequest struct {
	Name string `json:"name"`
}

type ingestRequest struct {
	Paths []string `json:"paths"`
}
