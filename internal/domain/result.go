package domain

import "strings"

// FeatureScore is the comparison outcome of one feature.
type FeatureScore struct {
	Match   bool    `json:"match"`
	Score   float64 `json:"score"`
	Details string  `json:"details"`
}

// ScoredFeature is a FeatureScore plus the pipeline-internal facts the later stages need.
type ScoredFeature struct {
	Feature Feature
	FeatureScore
	// Deviation is the feature-specific distance from the reference (shape: relative
	// geometric distance, size: class steps). Zero for features without a scale.
	Deviation float64
	Region    *Region
}

// Severity ranks a discrepancy.
type Severity string

const (
	SeverityHigh   Severity = "high"
	SeverityMedium Severity = "medium"
	SeverityLow    Severity = "low"
)

// Rank orders severities, high first.
func (s Severity) Rank() int {
	switch s {
	case SeverityHigh:
		return 0
	case SeverityMedium:
		return 1
	case SeverityLow:
		return 2
	}
	return 3
}

// ParseSeverity converts a configuration value, case-insensitively.
func ParseSeverity(value string) (Severity, bool) {
	switch s := Severity(strings.ToLower(strings.TrimSpace(value))); s {
	case SeverityHigh, SeverityMedium, SeverityLow:
		return s, true
	}
	return "", false
}

// Discrepancy is a reported mismatch against the authentic reference.
type Discrepancy struct {
	Feature     Feature  `json:"-"`
	Type        string   `json:"type"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Location    *Region  `json:"location,omitempty"`
}

// FeatureScores holds the six per-feature scores of a result.
type FeatureScores struct {
	Color     FeatureScore `json:"color"`
	Shape     FeatureScore `json:"shape"`
	Size      FeatureScore `json:"size"`
	Text      FeatureScore `json:"text"`
	QRCode    FeatureScore `json:"qrCode"`
	Packaging FeatureScore `json:"packaging"`
}

// Get returns the score of one feature.
func (s FeatureScores) Get(f Feature) FeatureScore {
	switch f {
	case FeatureColor:
		return s.Color
	case FeatureShape:
		return s.Shape
	case FeatureSize:
		return s.Size
	case FeatureText:
		return s.Text
	case FeatureQRCode:
		return s.QRCode
	case FeaturePackaging:
		return s.Packaging
	}
	return FeatureScore{}
}

// Set stores the score of one feature.
func (s *FeatureScores) Set(f Feature, score FeatureScore) {
	switch f {
	case FeatureColor:
		s.Color = score
	case FeatureShape:
		s.Shape = score
	case FeatureSize:
		s.Size = score
	case FeatureText:
		s.Text = score
	case FeatureQRCode:
		s.QRCode = score
	case FeaturePackaging:
		s.Packaging = score
	}
}

// NewFeatureScores collects scored features into the result shape.
func NewFeatureScores(scored []ScoredFeature) FeatureScores {
	var out FeatureScores
	for _, sf := range scored {
		out.Set(sf.Feature, sf.FeatureScore)
	}
	return out
}

// MatchedMedicine identifies the reference an image was matched to.
type MatchedMedicine struct {
	ID             string   `json:"id"`
	Name           string   `json:"name"`
	Manufacturer   string   `json:"manufacturer"`
	BatchNumber    string   `json:"batchNumber"`
	Certifications []string `json:"certifications,omitempty"`
}

// NewMatchedMedicine builds the public view of a reference.
func NewMatchedMedicine(ref *ReferenceMedicine) *MatchedMedicine {
	if ref == nil {
		return nil
	}
	m := &MatchedMedicine{
		ID:           ref.ID,
		Name:         ref.Name,
		Manufacturer: ref.Manufacturer,
		BatchNumber:  ref.BatchNumber,
	}
	if len(ref.Certifications) > 0 {
		m.Certifications = append([]string(nil), ref.Certifications...)
	}
	return m
}

// AnalysisResult is the verdict of one analysis run.
type AnalysisResult struct {
	Authentic       bool             `json:"authentic"`
	Confidence      int              `json:"confidence"`
	Features        FeatureScores    `json:"features"`
	Discrepancies   []Discrepancy    `json:"discrepancies"`
	Recommendations []string         `json:"recommendations"`
	MatchedMedicine *MatchedMedicine `json:"matchedMedicine,omitempty"`
}

// HasHighSeverity reports whether any discrepancy is high severity.
func HasHighSeverity(discrepancies []Discrepancy) bool {
	for _, d := range discrepancies {
		if d.Severity == SeverityHigh {
			return true
		}
	}
	return false
}
