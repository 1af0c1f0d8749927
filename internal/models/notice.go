package models

import "time"

// NoticeKind classifies a user-visible notice
type NoticeKind string

const (
	NoticeSuccess NoticeKind = "success"
	NoticeError   NoticeKind = "error"
)

// Notice is a non-fatal message reported back to the operator
type Notice struct {
	Kind      NoticeKind `json:"type"`
	Text      string     `json:"text"`
	CreatedAt time.Time  `json:"created_at"`
}

// NewNotice creates a notice stamped with the current time
func NewNotice(kind NoticeKind, text string) *Notice {
	return &Notice{Kind: kind, Text: text, CreatedAt: time.Now()}
}
