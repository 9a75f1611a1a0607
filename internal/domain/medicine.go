package domain

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Shape classes known to the reference catalog.
const (
	ShapeRound   = "round"
	ShapeOval    = "oval"
	ShapeCapsule = "capsule"
)

// Packaging quality classes.
const (
	PackagingHigh   = "high"
	PackagingMedium = "medium"
	PackagingLow    = "low"
)

// FeatureProfile is the canonical appearance of an authentic medicine.
type FeatureProfile struct {
	Color            string `json:"color" mapstructure:"color"`
	Shape            string `json:"shape" mapstructure:"shape"`
	Size             string `json:"size" mapstructure:"size"`
	TextPresent      bool   `json:"textPresent" mapstructure:"text_present"`
	QRCodePresent    bool   `json:"qrCodePresent" mapstructure:"qr_code_present"`
	PackagingQuality string `json:"packagingQuality" mapstructure:"packaging_quality"`
}

// ReferenceMedicine is one known-authentic entry of the reference database.
type ReferenceMedicine struct {
	ID             string         `json:"id" mapstructure:"id"`
	Name           string         `json:"name" mapstructure:"name"`
	Manufacturer   string         `json:"manufacturer" mapstructure:"manufacturer"`
	BatchNumber    string         `json:"batchNumber" mapstructure:"batch_number"`
	Features       FeatureProfile `json:"features" mapstructure:"features"`
	Certifications []string       `json:"certifications,omitempty" mapstructure:"certifications"`
}

// Colors returns the named colors of the profile. "pink/white" yields two entries.
func (p FeatureProfile) Colors() []string {
	parts := strings.Split(strings.ToLower(p.Color), "/")
	colors := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			colors = append(colors, part)
		}
	}
	return colors
}

// Validate checks that every class name of the profile is known.
func (p FeatureProfile) Validate() error {
	colors := p.Colors()
	if len(colors) == 0 {
		return fmt.Errorf("color is required")
	}
	for _, c := range colors {
		if ColorBinIndex(c) < 0 {
			return fmt.Errorf("unknown color %q", c)
		}
	}
	switch p.Shape {
	case ShapeRound, ShapeOval, ShapeCapsule:
	default:
		return fmt.Errorf("unknown shape %q", p.Shape)
	}
	if _, ok := ParseSizeClass(p.Size); !ok {
		return fmt.Errorf("unknown size class %q", p.Size)
	}
	switch p.PackagingQuality {
	case PackagingHigh, PackagingMedium, PackagingLow:
	default:
		return fmt.Errorf("unknown packaging quality %q", p.PackagingQuality)
	}
	return nil
}

// Validate checks identity fields and the feature profile.
func (m ReferenceMedicine) Validate() error {
	if strings.TrimSpace(m.ID) == "" {
		return fmt.Errorf("reference medicine id is required")
	}
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("reference medicine %s: name is required", m.ID)
	}
	if err := m.Features.Validate(); err != nil {
		return fmt.Errorf("reference medicine %s: %w", m.ID, err)
	}
	return nil
}

// payloadKeys are the query parameters registry links carry the product code in.
var payloadKeys = []string{"code", "batch", "lot", "id", "product"}

// PayloadTokens extracts the product codes a decoded QR payload names. A bare payload is
// one token. A URL contributes the values of its known code parameters and its last
// path segment; every other part of a link is ignored.
func PayloadTokens(payload string) []string {
	payload = strings.TrimSpace(payload)
	if payload == "" {
		return nil
	}
	u, err := url.Parse(payload)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return []string{payload}
	}

	var tokens []string
	query := u.Query()
	for _, key := range payloadKeys {
		for _, v := range query[key] {
			if v = strings.TrimSpace(v); v != "" {
				tokens = append(tokens, v)
			}
		}
	}
	if segment := path.Base(strings.TrimRight(u.Path, "/")); segment != "" && segment != "." && segment != "/" {
		tokens = append(tokens, segment)
	}
	return tokens
}

// ResolvesPayload reports whether a decoded QR payload points at this medicine: one of
// its tokens equals the batch number or the registry id, ignoring case.
func (m ReferenceMedicine) ResolvesPayload(payload string) bool {
	for _, token := range PayloadTokens(payload) {
		if m.BatchNumber != "" && strings.EqualFold(token, m.BatchNumber) {
			return true
		}
		if strings.EqualFold(token, m.ID) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so callers can never alias catalog slices.
func (m ReferenceMedicine) Clone() ReferenceMedicine {
	out := m
	if m.Certifications != nil {
		out.Certifications = append([]string(nil), m.Certifications...)
	}
	return out
}
