// File path: internal/history/message.go
package history

import (
	"errors"
	"strings"
)

// Message is a single conversation turn. Messages are immutable once written;
// position within a conversation is the append order.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

var (
	ErrInvalidRole    = errors.New("history: invalid role")
	ErrEmptyContent   = errors.New("history: empty content")
	ErrMessageTooLong = errors.New("history: message exceeds token limit")
	ErrNotFound       = errors.New("history: conversation not found")
	ErrAlreadyExists  = errors.New("history: conversation already exists")
)

func validRole(role string) bool {
	switch role {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

func validateMessage(role, content string) error {
	if !validRole(role) {
		return ErrInvalidRole
	}
	if strings.TrimSpace(content) == "" {
		return ErrEmptyContent
	}
	return nil
}
