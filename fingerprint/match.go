package fingerprint

import (
	"strings"
	"unicode/utf8"
)

// Weights sets the contribution of each matching signal.
type Weights struct {
	Identifier float64 `yaml:"identifier" json:"identifier"`
	Type       float64 `yaml:"type" json:"type"`
	Text       float64 `yaml:"text" json:"text"`
	Attributes float64 `yaml:"attributes" json:"attributes"`
}

// DefaultWeights returns the stock signal weights.
func DefaultWeights() Weights {
	return Weights{Identifier: 0.40, Type: 0.20, Text: 0.25, Attributes: 0.15}
}

// orDefault returns DefaultWeights when w carries no positive weight.
func (w Weights) orDefault() Weights {
	if w.Identifier <= 0 && w.Type <= 0 && w.Text <= 0 && w.Attributes <= 0 {
		return DefaultWeights()
	}
	return Weights{
		Identifier: max(w.Identifier, 0),
		Type:       max(w.Type, 0),
		Text:       max(w.Text, 0),
		Attributes: max(w.Attributes, 0),
	}
}

// Confidence scores how likely a and b describe the same element, in [0,1].
//
// Each signal scores in [0,1] and is weighted. A signal absent on one side
// scores zero; a signal absent on both sides is left out of the
// normalisation so that Confidence(f, f) is 1 for every f.
func Confidence(a, b Fingerprint, w Weights) float64 {
	w = w.orDefault()
	var num, den float64

	add := func(weight, score float64) {
		num += weight * score
		den += weight
	}

	if a.ElementID != "" || b.ElementID != "" {
		add(w.Identifier, boolScore(a.ElementID != "" && a.ElementID == b.ElementID))
	}

	if a.ElementType != "" || b.ElementType != "" {
		add(w.Type, boolScore(a.ElementType != "" && strings.EqualFold(a.ElementType, b.ElementType)))
	}

	ta, tb := normalizeText(a.ElementText), normalizeText(b.ElementText)
	if ta != "" || tb != "" {
		add(w.Text, textScore(ta, tb))
	}

	if len(a.Attributes) > 0 || len(b.Attributes) > 0 {
		add(w.Attributes, jaccard(a.Attributes, b.Attributes))
	}

	if den == 0 {
		// Two signal-less fingerprints are indistinguishable.
		return 1
	}
	return clamp01(num / den)
}

func boolScore(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}

// textScore gives full credit for equal text and partial credit, the ratio
// of lengths, when one text contains the other.
func textScore(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	short, long := a, b
	if utf8.RuneCountInString(short) > utf8.RuneCountInString(long) {
		short, long = long, short
	}
	if !strings.Contains(long, short) {
		return 0
	}
	return float64(utf8.RuneCountInString(short)) / float64(utf8.RuneCountInString(long))
}

// jaccard compares attribute sets as key=value pairs.
func jaccard(a, b map[string]string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for k, va := range a {
		if vb, ok := b[k]; ok && vb == va {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// normalizeText lower-cases and collapses whitespace.
func normalizeText(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
