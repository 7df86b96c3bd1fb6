package core

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/valter-silva-au/devassist/pkg/models"
)

// DefaultSearchLimit is used when Search is called with a non-positive limit.
const DefaultSearchLimit = 10

// KnowledgeManager owns the append-only knowledge records of one project:
// recording, approximate search, enrichment, and session preservation.
type KnowledgeManager interface {
	// Record validates and durably appends a record before returning it.
	Record(kind models.KnowledgeKind, fields map[string]string, category string) (*models.KnowledgeRecord, error)

	// RecordFor is Record with the record attributed to a session.
	RecordFor(sessionID string, kind models.KnowledgeKind, fields map[string]string, category string) (*models.KnowledgeRecord, error)

	// Search scores every candidate record against query, sorts descending,
	// truncates to limit and drops scores below minSimilarity.
	Search(query, category string, limit int, minSimilarity float64) ([]models.ScoredRecord, error)

	// Enrich attaches the most similar other records and the findings of
	// every registered domain enricher.
	Enrich(rec models.KnowledgeRecord) (*models.EnrichedRecord, error)

	// ByIDs returns the records with the given ids in the order given.
	ByIDs(ids []string) ([]models.KnowledgeRecord, error)

	Stats() (*models.KnowledgeStats, error)

	// Preserve rolls up the records a session produced and persists the
	// roll-up in the preservation archive.
	Preserve(session models.Session, endedAt time.Time) (*models.PreservationRecord, error)

	// Preserved lists preservation records, newest first.
	Preserved() ([]models.PreservationRecord, error)

	// Enrichers returns the names of the registered domain enrichers.
	Enrichers() []string
}

// KnowledgeOptions configures a KnowledgeManager. Zero values select defaults.
type KnowledgeOptions struct {
	RelatedLimit int
	PreserveKeep int
	Enrichers    []DomainEnricher
	Clock        Clock
	Events       EventLogger
}

type knowledgeManager struct {
	log          KnowledgeLog
	archive      PreservationArchive
	project      string
	relatedLimit int
	preserveKeep int
	enrichers    []DomainEnricher
	clock        Clock
	events       EventLogger
}

// NewKnowledgeManager creates a KnowledgeManager for project backed by the
// given log and preservation archive. archive may be nil, in which case
// Preserve only computes the roll-up.
func NewKnowledgeManager(log KnowledgeLog, archive PreservationArchive, project string, opts KnowledgeOptions) KnowledgeManager {
	if opts.RelatedLimit <= 0 {
		opts.RelatedLimit = 3
	}
	if opts.PreserveKeep <= 0 {
		opts.PreserveKeep = 100
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock()
	}
	return &knowledgeManager{
		log:          log,
		archive:      archive,
		project:      project,
		relatedLimit: opts.RelatedLimit,
		preserveKeep: opts.PreserveKeep,
		enrichers:    opts.Enrichers,
		clock:        opts.Clock,
		events:       opts.Events,
	}
}

func (km *knowledgeManager) Record(kind models.KnowledgeKind, fields map[string]string, category string) (*models.KnowledgeRecord, error) {
	return km.RecordFor("", kind, fields, category)
}

func (km *knowledgeManager) RecordFor(sessionID string, kind models.KnowledgeKind, fields map[string]string, category string) (*models.KnowledgeRecord, error) {
	if err := validateRecord(kind, fields); err != nil {
		return nil, err
	}

	category = strings.TrimSpace(category)
	if category == "" {
		category = "general"
	}

	stored := make(map[string]string, len(fields))
	for k, v := range fields {
		stored[k] = v
	}

	rec := models.KnowledgeRecord{
		ID:        newRecordID(kind),
		Project:   km.project,
		Kind:      kind,
		Fields:    stored,
		Category:  category,
		SessionID: sessionID,
		CreatedAt: km.clock.Now().UTC(),
	}
	rec.Embedding = Embed(rec.Text())
	for _, e := range km.enrichers {
		if f, ok := e.Enrich(rec); ok {
			rec.Tags = mergeTags(rec.Tags, Tags(f))
		}
	}

	if err := km.log.Append(rec); err != nil {
		return nil, &StorageError{Op: "appending knowledge record", Err: err}
	}

	logEvent(km.events, "knowledge.recorded", map[string]any{
		"id":       rec.ID,
		"kind":     string(rec.Kind),
		"category": rec.Category,
		"session":  sessionID,
	})
	return &rec, nil
}

func (km *knowledgeManager) Search(query, category string, limit int, minSimilarity float64) ([]models.ScoredRecord, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	queryVec := Embed(query)

	type candidate struct {
		scored models.ScoredRecord
		cosine float64
	}
	var candidates []candidate
	for _, rec := range km.readAll("search") {
		if rec.Kind == models.KindHeartbeat || !km.matchesCategory(rec, category) {
			continue
		}
		candidates = append(candidates, candidate{
			scored: models.ScoredRecord{Record: rec, Score: Similarity(query, rec.Text())},
			cosine: Cosine(queryVec, rec.Embedding),
		})
	}

	// Equal scores fall back to embedding closeness, then to log order.
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].scored.Score != candidates[j].scored.Score {
			return candidates[i].scored.Score > candidates[j].scored.Score
		}
		return candidates[i].cosine > candidates[j].cosine
	})
	if len(candidates) > limit {
		candidates = candidates[:limit]
	}

	results := make([]models.ScoredRecord, 0, len(candidates))
	for _, c := range candidates {
		if c.scored.Score < minSimilarity {
			continue
		}
		results = append(results, c.scored)
	}
	return results, nil
}

func (km *knowledgeManager) Enrich(rec models.KnowledgeRecord) (*models.EnrichedRecord, error) {
	enriched := &models.EnrichedRecord{
		Record:  rec,
		Related: []models.ScoredRecord{},
		Tags:    mergeTags(nil, rec.Tags),
	}

	primary := rec.PrimaryText()
	var related []models.ScoredRecord
	for _, other := range km.readAll("enrich") {
		if other.ID == rec.ID || other.Kind == models.KindHeartbeat {
			continue
		}
		score := Similarity(primary, other.PrimaryText())
		if score <= 0 {
			continue
		}
		related = append(related, models.ScoredRecord{Record: other, Score: score})
	}
	sort.SliceStable(related, func(i, j int) bool {
		return related[i].Score > related[j].Score
	})
	if len(related) > km.relatedLimit {
		related = related[:km.relatedLimit]
	}
	if related != nil {
		enriched.Related = related
	}

	for _, e := range km.enrichers {
		f, ok := e.Enrich(rec)
		if !ok {
			continue
		}
		if enriched.Domains == nil {
			enriched.Domains = make(map[string]models.DomainFinding)
		}
		enriched.Domains[e.Name()] = f
		enriched.Tags = mergeTags(enriched.Tags, Tags(f))
	}
	return enriched, nil
}

func (km *knowledgeManager) ByIDs(ids []string) ([]models.KnowledgeRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	byID := make(map[string]models.KnowledgeRecord)
	for _, rec := range km.readAll("lookup") {
		byID[rec.ID] = rec
	}
	out := make([]models.KnowledgeRecord, 0, len(ids))
	for _, id := range ids {
		if rec, ok := byID[id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (km *knowledgeManager) Stats() (*models.KnowledgeStats, error) {
	stats := &models.KnowledgeStats{
		ByKind:     make(map[models.KnowledgeKind]int),
		ByCategory: make(map[string]int),
	}
	for _, rec := range km.readAll("stats") {
		stats.Total++
		stats.ByKind[rec.Kind]++
		stats.ByCategory[rec.Category]++
		t := rec.CreatedAt
		if stats.Oldest == nil || t.Before(*stats.Oldest) {
			stats.Oldest = &t
		}
		if stats.Newest == nil || t.After(*stats.Newest) {
			stats.Newest = &t
		}
	}
	return stats, nil
}

func (km *knowledgeManager) Preserve(session models.Session, endedAt time.Time) (*models.PreservationRecord, error) {
	records, _ := km.ByIDs(session.KnowledgeRefs)

	rec := &models.PreservationRecord{
		SessionID:   session.ID,
		Project:     session.Project,
		StartedAt:   session.StartedAt,
		EndedAt:     endedAt,
		Duration:    FormatDuration(endedAt.Sub(session.StartedAt)),
		Counts:      make(map[models.KnowledgeKind]int),
		PreservedAt: km.clock.Now().UTC(),
	}
	for _, r := range records {
		rec.Counts[r.Kind]++
		if r.Kind != models.KindHeartbeat {
			rec.KeyRecordIDs = append(rec.KeyRecordIDs, r.ID)
		}
	}

	if km.archive == nil {
		return rec, nil
	}
	if err := km.archive.Prepend(*rec, km.preserveKeep); err != nil {
		return rec, &StorageError{Op: "preserving session knowledge", Err: err}
	}
	return rec, nil
}

func (km *knowledgeManager) Preserved() ([]models.PreservationRecord, error) {
	if km.archive == nil {
		return nil, nil
	}
	recs, err := km.archive.List()
	if err != nil {
		return nil, fmt.Errorf("listing preserved sessions: %w", err)
	}
	return recs, nil
}

func (km *knowledgeManager) Enrichers() []string {
	names := make([]string, 0, len(km.enrichers))
	for _, e := range km.enrichers {
		names = append(names, e.Name())
	}
	return names
}

// readAll reads the log fresh. Read failures degrade to whatever could be
// decoded and are logged rather than returned.
func (km *knowledgeManager) readAll(op string) []models.KnowledgeRecord {
	recs, err := km.log.ReadAll()
	if err != nil {
		logEvent(km.events, "knowledge.read_degraded", map[string]any{
			"op":    op,
			"error": err.Error(),
			"kept":  len(recs),
		})
	}
	return recs
}

func (km *knowledgeManager) matchesCategory(rec models.KnowledgeRecord, category string) bool {
	c := strings.ToLower(strings.TrimSpace(category))
	if c == "" || c == "all" {
		return true
	}
	if strings.ToLower(rec.Category) == c {
		return true
	}
	if k, ok := models.ParseKind(c); ok && rec.Kind == k {
		return true
	}
	for _, t := range rec.Tags {
		if strings.ToLower(t) == c {
			return true
		}
	}
	for _, e := range km.enrichers {
		if e.Name() != c {
			continue
		}
		if _, ok := e.Enrich(rec); ok {
			return true
		}
	}
	return false
}

func validateRecord(kind models.KnowledgeKind, fields map[string]string) error {
	if len(kind.Fields()) == 0 {
		return &ValidationError{Kind: kind, Reason: "unknown kind"}
	}
	for _, name := range kind.RequiredFields() {
		if strings.TrimSpace(fields[name]) == "" {
			return &ValidationError{Kind: kind, Field: name, Reason: "must not be empty"}
		}
	}
	return nil
}

func newRecordID(kind models.KnowledgeKind) string {
	id, err := uuid.NewV7()
	if err != nil {
		return kind.IDPrefix() + "-" + uuid.NewString()
	}
	return kind.IDPrefix() + "-" + id.String()
}

// mergeTags appends add to tags, dropping duplicates and keeping the result
// sorted.
func mergeTags(tags, add []string) []string {
	seen := make(map[string]struct{}, len(tags)+len(add))
	var out []string
	for _, t := range append(append([]string{}, tags...), add...) {
		if _, ok := seen[t]; ok || t == "" {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
