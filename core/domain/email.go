package domain

import (
	"time"

	"github.com/google/uuid"
)

// Email is one ingested message. MessageID is the provider message ID and the
// idempotency key: re-ingestion of the same ID is a no-op, never a second row.
type Email struct {
	MessageID        string     `db:"message_id" json:"message_id"`
	AccountID        uuid.UUID  `db:"account_id" json:"account_id"`
	CategoryID       *uuid.UUID `db:"category_id" json:"category_id,omitempty"`
	ReceivedAt       time.Time  `db:"received_at" json:"received_at"`
	Subject          string     `db:"subject" json:"subject"`
	Sender           string     `db:"sender" json:"sender"`
	BodyText         string     `db:"body_text" json:"body_text"`
	Summary          *string    `db:"summary" json:"summary,omitempty"`
	SummaryCreatedAt *time.Time `db:"summary_created_at" json:"summary_created_at,omitempty"`
	CreatedAt        time.Time  `db:"created_at" json:"created_at"`
}

// ParsedMessage is the typed result of content extraction. Downstream
// components work from this, never from raw provider payloads.
type ParsedMessage struct {
	MessageID  string
	Subject    string
	Sender     string
	Body       string
	ReceivedAt time.Time
}

// RunState tracks where a sync run ended.
type RunState string

const (
	RunDone    RunState = "done"
	RunAborted RunState = "aborted"
)

// SyncReport is returned from every sync run. A run that aborts early still
// reports the work completed before the abort.
type SyncReport struct {
	AccountID     uuid.UUID `json:"account_id"`
	State         RunState  `json:"state"`
	Ingested      int       `json:"ingested"`
	Enriched      int       `json:"enriched"`
	Skipped       int       `json:"skipped"`
	Failed        int       `json:"failed"`
	AbortedReason string    `json:"aborted_reason,omitempty"`
	Duration      int64     `json:"duration_ms"`
}
