package knowledge

import (
	"fmt"
	"strconv"
	"strings"
)

// Origin describes how an item entered the store.
type Origin string

const (
	// OriginSystem marks items recorded directly by the platform.
	OriginSystem Origin = "system"

	// OriginMigratedRule marks items migrated from static rule text.
	OriginMigratedRule Origin = "migrated_rule"

	// OriginGoldenStandard marks canonical mandate items produced by
	// clustering.
	OriginGoldenStandard Origin = "golden_standard"
)

// DefaultConfidence is the neutral confidence assigned to new items, on the
// stored 0-100 scale.
const DefaultConfidence = 50

// SourceDescriptor is the typed form of the item source-description string.
//
// The wire form is a compact space-separated key:value token string, e.g.
//
//	category:Security tier:mandate origin:migrated_rule confidence:80 anti_pattern:true cluster:aa11bb22
//
// The descriptor is encoded and parsed only at the store boundary; internal
// code works with this struct.
type SourceDescriptor struct {
	// Category is a keyword-derived label, "General" when nothing matches.
	Category string `json:"category,omitempty"`

	// Tier mirrors the item tier at recording time.
	Tier Tier `json:"tier,omitempty"`

	// Origin records provenance.
	Origin Origin `json:"origin,omitempty"`

	// Confidence is the stored 0-100 reliability value.
	Confidence int `json:"confidence"`

	// AntiPattern marks knowledge describing what to avoid.
	AntiPattern bool `json:"anti_pattern,omitempty"`

	// ClusterID is the short identifier of the canonical cluster the item
	// belongs to, when clustering has assigned one.
	ClusterID string `json:"cluster_id,omitempty"`
}

// Validate checks descriptor bounds.
func (d SourceDescriptor) Validate() error {
	if d.Confidence < 0 || d.Confidence > 100 {
		return fmt.Errorf("%w: confidence %d outside 0-100", ErrInvalidItem, d.Confidence)
	}
	return nil
}

// NormalizedConfidence returns the confidence mapped onto [0, 1].
func (d SourceDescriptor) NormalizedConfidence() float64 {
	c := d.Confidence
	if c < 0 {
		c = 0
	}
	if c > 100 {
		c = 100
	}
	return float64(c) / 100.0
}

// Encode renders the descriptor as its wire token string. Zero-valued
// optional fields are omitted; token order is fixed so encodings compare
// stably.
func (d SourceDescriptor) Encode() string {
	tokens := make([]string, 0, 6)
	if d.Category != "" {
		tokens = append(tokens, "category:"+sanitizeToken(d.Category))
	}
	if d.Tier != "" {
		tokens = append(tokens, "tier:"+string(d.Tier))
	}
	if d.Origin != "" {
		tokens = append(tokens, "origin:"+string(d.Origin))
	}
	tokens = append(tokens, "confidence:"+strconv.Itoa(d.Confidence))
	if d.AntiPattern {
		tokens = append(tokens, "anti_pattern:true")
	}
	if d.ClusterID != "" {
		tokens = append(tokens, "cluster:"+sanitizeToken(d.ClusterID))
	}
	return strings.Join(tokens, " ")
}

// ParseSourceDescriptor decodes a wire token string. Unknown keys and
// malformed tokens are skipped rather than failing the whole parse, since
// descriptors travel through stores this code does not control.
func ParseSourceDescriptor(s string) SourceDescriptor {
	var d SourceDescriptor
	for _, token := range strings.Fields(s) {
		key, value, ok := strings.Cut(token, ":")
		if !ok || value == "" {
			continue
		}
		switch key {
		case "category":
			d.Category = value
		case "tier":
			d.Tier = Tier(value)
		case "origin":
			d.Origin = Origin(value)
		case "confidence":
			if n, err := strconv.Atoi(value); err == nil && n >= 0 && n <= 100 {
				d.Confidence = n
			}
		case "anti_pattern":
			d.AntiPattern = value == "true"
		case "cluster":
			d.ClusterID = value
		}
	}
	return d
}

// sanitizeToken strips whitespace and colons so a value cannot break the
// token framing.
func sanitizeToken(v string) string {
	v = strings.TrimSpace(v)
	v = strings.ReplaceAll(v, ":", "_")
	fields := strings.Fields(v)
	if len(fields) == 0 {
		return ""
	}
	return strings.Join(fields, "_")
}
