package a2a

import (
	"strings"

	"github.com/google/uuid"
)

// NewTextMessage creates a single-part text message with a fresh ID.
func NewTextMessage(role Role, text string) Message {
	return Message{
		ID:    uuid.NewString(),
		Role:  role,
		Parts: []Part{NewTextPart(text)},
	}
}

// NewUserMessage creates a user-authored text message.
func NewUserMessage(text string) Message {
	return NewTextMessage(RoleUser, text)
}

// NewAgentMessage creates an agent-authored text message.
func NewAgentMessage(text string) Message {
	return NewTextMessage(RoleAgent, text)
}

// ExtractText returns the first text part of a message, or "" if none.
func ExtractText(msg Message) string {
	for _, part := range msg.Parts {
		if part.Kind == PartKindText {
			return part.Text
		}
	}
	return ""
}

// ExtractAllText concatenates every text part of a message with newlines.
func ExtractAllText(msg Message) string {
	var texts []string
	for _, part := range msg.Parts {
		if part.Kind == PartKindText {
			texts = append(texts, part.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// HasTextContent reports whether a message carries any non-empty text part.
func HasTextContent(msg Message) bool {
	for _, part := range msg.Parts {
		if part.Kind == PartKindText && part.Text != "" {
			return true
		}
	}
	return false
}
