package core

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/valter-silva-au/devassist/pkg/models"
)

// maxHighlights caps the highlights section of a session summary.
const maxHighlights = 5

// fallbackHighlight is used when a session produced no checkpoints.
const fallbackHighlight = "Development session completed"

// nextSteps is the placeholder closing every session report.
var nextSteps = []string{"Continue implementation", "Review changes", "Test functionality"}

// BuildSummary turns a session and the records created during it into a
// summary and its rendered report. It has no side effects.
func BuildSummary(session models.Session, records []models.KnowledgeRecord, now time.Time) models.SessionSummary {
	ordered := make([]models.KnowledgeRecord, len(records))
	copy(ordered, records)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.Before(ordered[j].CreatedAt)
	})

	duration := now.Sub(session.StartedAt)
	if duration < 0 {
		duration = 0
	}

	counts := make(map[models.KnowledgeKind]int, len(models.AllKinds))
	for _, k := range models.AllKinds {
		counts[k] = 0
	}
	var checkpoints []string
	for _, r := range ordered {
		counts[r.Kind]++
		if r.Kind == models.KindCheckpoint {
			checkpoints = append(checkpoints, r.PrimaryText())
		}
	}

	highlights := checkpoints
	if len(highlights) > maxHighlights {
		highlights = highlights[len(highlights)-maxHighlights:]
	}
	if len(highlights) == 0 {
		highlights = []string{fallbackHighlight}
	} else {
		highlights = append([]string(nil), highlights...)
	}

	branch := session.GitBranch
	if branch == "" {
		branch = "main"
	}

	s := models.SessionSummary{
		SessionID:   session.ID,
		Project:     session.Project,
		Branch:      branch,
		Description: session.Description,
		StartedAt:   session.StartedAt,
		EndedAt:     now,
		Duration:    duration,
		Counts:      counts,
		Highlights:  highlights,
		Checkpoints: checkpoints,
	}
	s.Report = renderReport(s, len(ordered))
	return s
}

func renderReport(s models.SessionSummary, total int) string {
	var b strings.Builder

	fmt.Fprintf(&b, "### Session %s\n\n", s.SessionID)
	fmt.Fprintf(&b, "**Project:** %s\n", s.Project)
	fmt.Fprintf(&b, "**Date:** %s\n", s.EndedAt.UTC().Format("2006-01-02 15:04 UTC"))
	fmt.Fprintf(&b, "**Duration:** %s\n", FormatDuration(s.Duration))
	fmt.Fprintf(&b, "**Branch:** %s\n", s.Branch)
	if s.Description != "" {
		fmt.Fprintf(&b, "**Description:** %s\n", s.Description)
	}

	b.WriteString("\n#### Statistics\n")
	fmt.Fprintf(&b, "- Checkpoints: %d\n", s.Counts[models.KindCheckpoint])
	fmt.Fprintf(&b, "- Decisions: %d\n", s.Counts[models.KindDecision])
	fmt.Fprintf(&b, "- Progress updates: %d\n", s.Counts[models.KindProgress])
	fmt.Fprintf(&b, "- Lessons: %d\n", s.Counts[models.KindLesson])
	fmt.Fprintf(&b, "- Heartbeats: %d\n", s.Counts[models.KindHeartbeat])
	fmt.Fprintf(&b, "- Knowledge items: %d\n", total)

	b.WriteString("\n#### Highlights\n")
	for _, h := range s.Highlights {
		fmt.Fprintf(&b, "✓ %s\n", h)
	}

	if len(s.Checkpoints) > 0 {
		b.WriteString("\n#### Checkpoints\n")
		for i, c := range s.Checkpoints {
			fmt.Fprintf(&b, "%d. %s\n", i+1, c)
		}
	}

	b.WriteString("\n#### Next Steps\n")
	for _, step := range nextSteps {
		fmt.Fprintf(&b, "- %s\n", step)
	}

	return b.String()
}

// FormatDuration renders d as "Xh Ym", or "Ym" under one hour.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	hours := int(d / time.Hour)
	minutes := int((d % time.Hour) / time.Minute)
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}

// FormatBytes renders n with a binary B/KB/MB/GB unit and at most two decimals.
func FormatBytes(n int64) string {
	if n <= 0 {
		return "0 B"
	}
	units := []string{"B", "KB", "MB", "GB"}
	i := int(math.Floor(math.Log(float64(n)) / math.Log(1024)))
	if i >= len(units) {
		i = len(units) - 1
	}
	v := float64(n) / math.Pow(1024, float64(i))
	v = math.Round(v*100) / 100
	return strconv.FormatFloat(v, 'f', -1, 64) + " " + units[i]
}
