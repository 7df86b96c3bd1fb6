package models

import (
	"strings"
	"time"
)

// KnowledgeKind classifies a knowledge record.
type KnowledgeKind string

const (
	KindDecision   KnowledgeKind = "decision"
	KindProgress   KnowledgeKind = "progress"
	KindLesson     KnowledgeKind = "lesson"
	KindCheckpoint KnowledgeKind = "checkpoint"
	KindHeartbeat  KnowledgeKind = "heartbeat"
)

// AllKinds lists every knowledge kind in a stable order.
var AllKinds = []KnowledgeKind{KindDecision, KindProgress, KindLesson, KindCheckpoint, KindHeartbeat}

// kindFields lists the text fields of each kind in rendering order. The
// first field is the primary text used for related-record linking.
var kindFields = map[KnowledgeKind][]string{
	KindDecision:   {"statement", "context", "alternatives", "impact"},
	KindProgress:   {"milestone", "status", "notes"},
	KindLesson:     {"lesson", "context"},
	KindCheckpoint: {"summary"},
	KindHeartbeat:  {"note"},
}

// requiredFields lists the fields that must be non-blank per kind.
var requiredFields = map[KnowledgeKind][]string{
	KindDecision:   {"statement", "context"},
	KindProgress:   {"milestone", "status"},
	KindLesson:     {"lesson", "context"},
	KindCheckpoint: {"summary"},
	KindHeartbeat:  {"note"},
}

// ParseKind converts s (singular or plural, any case) into a KnowledgeKind.
func ParseKind(s string) (KnowledgeKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "decision", "decisions":
		return KindDecision, true
	case "progress":
		return KindProgress, true
	case "lesson", "lessons":
		return KindLesson, true
	case "checkpoint", "checkpoints":
		return KindCheckpoint, true
	case "heartbeat", "heartbeats":
		return KindHeartbeat, true
	}
	return "", false
}

// Fields returns the ordered text field names for the kind.
func (k KnowledgeKind) Fields() []string {
	return kindFields[k]
}

// RequiredFields returns the field names that must be present for the kind.
func (k KnowledgeKind) RequiredFields() []string {
	return requiredFields[k]
}

// IDPrefix returns the short prefix used in record ids.
func (k KnowledgeKind) IDPrefix() string {
	switch k {
	case KindDecision:
		return "dec"
	case KindProgress:
		return "prog"
	case KindLesson:
		return "lesson"
	case KindCheckpoint:
		return "ckpt"
	case KindHeartbeat:
		return "hb"
	}
	return "rec"
}

// KnowledgeRecord is an immutable, timestamped note attached to a project.
type KnowledgeRecord struct {
	ID        string            `json:"id" yaml:"id"`
	Project   string            `json:"project" yaml:"project"`
	Kind      KnowledgeKind     `json:"kind" yaml:"kind"`
	Fields    map[string]string `json:"fields" yaml:"fields"`
	Category  string            `json:"category" yaml:"category"`
	Tags      []string          `json:"tags,omitempty" yaml:"tags,omitempty"`
	SessionID string            `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	CreatedAt time.Time         `json:"created_at" yaml:"created_at"`
	Embedding []float64         `json:"embedding,omitempty" yaml:"-"`
}

// PrimaryText returns the kind's leading text field.
func (r KnowledgeRecord) PrimaryText() string {
	fields := r.Kind.Fields()
	if len(fields) == 0 {
		return ""
	}
	return r.Fields[fields[0]]
}

// Text joins every known text field of the record in kind order.
func (r KnowledgeRecord) Text() string {
	var parts []string
	for _, name := range r.Kind.Fields() {
		if v := strings.TrimSpace(r.Fields[name]); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

// ScoredRecord pairs a record with its similarity to a query.
type ScoredRecord struct {
	Record KnowledgeRecord `json:"record"`
	Score  float64         `json:"score"`
}

// DomainFinding is what a domain enricher reports about one record.
type DomainFinding struct {
	Enricher       string   `json:"enricher"`
	MatchedTerms   []string `json:"matched_terms"`
	Areas          []string `json:"areas,omitempty"`
	RiskLevel      string   `json:"risk_level,omitempty"`
	ReviewRequired bool     `json:"review_required,omitempty"`
}

// EnrichedRecord is a record with related records and domain tags attached.
type EnrichedRecord struct {
	Record  KnowledgeRecord          `json:"record"`
	Related []ScoredRecord           `json:"related"`
	Tags    []string                 `json:"tags,omitempty"`
	Domains map[string]DomainFinding `json:"domains,omitempty"`
}

// KnowledgeStats summarizes the contents of the knowledge log.
type KnowledgeStats struct {
	Total      int                   `json:"total"`
	ByKind     map[KnowledgeKind]int `json:"by_kind"`
	ByCategory map[string]int        `json:"by_category"`
	Oldest     *time.Time            `json:"oldest,omitempty"`
	Newest     *time.Time            `json:"newest,omitempty"`
}

// PreservationRecord rolls up what a session produced without duplicating
// record text.
type PreservationRecord struct {
	SessionID    string                `json:"session_id" yaml:"session_id"`
	Project      string                `json:"project" yaml:"project"`
	StartedAt    time.Time             `json:"started_at" yaml:"started_at"`
	EndedAt      time.Time             `json:"ended_at" yaml:"ended_at"`
	Duration     string                `json:"duration" yaml:"duration"`
	Counts       map[KnowledgeKind]int `json:"counts" yaml:"counts"`
	KeyRecordIDs []string              `json:"key_record_ids,omitempty" yaml:"key_record_ids,omitempty"`
	PreservedAt  time.Time             `json:"preserved_at" yaml:"preserved_at"`
}
