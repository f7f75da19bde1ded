// Package normalize maps vendor-shaped candidate records onto the canonical
// alert model. Each source adapter supplies a Vocabulary that collapses its
// native severity/status/category tokens to the canonical enums; unknown
// tokens fall back to the vocabulary's defaults rather than leaking through
// unmapped.
package normalize

import (
	"errors"
	"fmt"
	"time"

	"github.com/linnemanlabs/aegis/internal/alert"
	"github.com/linnemanlabs/aegis/internal/prioritize"
)

// ErrMalformed indicates a candidate is missing fields required for
// canonical identity. The caller skips the candidate and counts an error.
var ErrMalformed = errors.New("malformed candidate")

// Raw is a source adapter's output prior to normalization. Severity, Status
// and Category hold the vendor's native tokens; sub-records are already in
// canonical shape since they carry no vocabulary.
type Raw struct {
	NativeID    string
	Title       string
	Description string
	Severity    string
	Status      string
	Category    string

	Asset         *alert.Asset
	Vulnerability *alert.Vulnerability
	Threat        *alert.Threat
	Detection     *alert.Detection
	Remediation   *alert.Remediation
	Tags          []string

	FirstSeen time.Time
	LastSeen  time.Time
}

// Vocabulary is a source's token tables. Lookups are exact-match; defaults
// apply to unknown or absent tokens.
type Vocabulary struct {
	Source          alert.Source
	Severities      map[string]alert.Severity
	DefaultSeverity alert.Severity
	Categories      map[string]alert.Category
	DefaultCategory alert.Category
	Statuses        map[string]alert.Status
}

// Normalizer converts raw candidates for a single source.
type Normalizer struct {
	vocab Vocabulary
	now   func() time.Time
}

// New creates a Normalizer for the given vocabulary.
func New(vocab Vocabulary) *Normalizer {
	return &Normalizer{vocab: vocab, now: time.Now}
}

// Normalize maps a raw candidate to a canonical alert with a baseline
// deterministic priority. Returns ErrMalformed when the candidate has no
// native ID or no title.
func (n *Normalizer) Normalize(raw *Raw) (*alert.Alert, error) {
	if raw.NativeID == "" {
		return nil, fmt.Errorf("%w: missing native id", ErrMalformed)
	}
	if raw.Title == "" {
		return nil, fmt.Errorf("%w: missing title for %q", ErrMalformed, raw.NativeID)
	}

	now := n.now()

	a := &alert.Alert{
		ExternalID:    string(n.vocab.Source) + "_" + raw.NativeID,
		Source:        n.vocab.Source,
		Title:         raw.Title,
		Description:   raw.Description,
		Severity:      n.severity(raw.Severity),
		Status:        n.status(raw.Status),
		Category:      n.category(raw.Category),
		Asset:         raw.Asset,
		Vulnerability: raw.Vulnerability,
		Threat:        raw.Threat,
		Detection:     raw.Detection,
		Remediation:   raw.Remediation,
		Tags:          raw.Tags,
	}

	a.CreatedAt = raw.FirstSeen
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = raw.LastSeen
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}

	a.Priority = prioritize.Score(a, now)
	return a, nil
}

func (n *Normalizer) severity(token string) alert.Severity {
	if s, ok := n.vocab.Severities[token]; ok {
		return s
	}
	if n.vocab.DefaultSeverity.Valid() {
		return n.vocab.DefaultSeverity
	}
	return alert.SeverityMedium
}

func (n *Normalizer) category(token string) alert.Category {
	if c, ok := n.vocab.Categories[token]; ok {
		return c
	}
	return n.vocab.DefaultCategory
}

func (n *Normalizer) status(token string) alert.Status {
	if s, ok := n.vocab.Statuses[token]; ok {
		return s
	}
	return alert.StatusOpen
}
