package fingerprint

import (
	"html"
	"slices"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"github.com/hazyhaar/flowkeeper/idgen"
)

// ElementDescriptor is a raw element as reported by the crawler driver.
type ElementDescriptor struct {
	// ID is an optional caller-assigned fingerprint ID.
	ID         string            `json:"id,omitempty"`
	PageID     string            `json:"page_id,omitempty"`
	Tag        string            `json:"tag"`
	Role       string            `json:"role,omitempty"`
	ElementID  string            `json:"element_id,omitempty"`
	Name       string            `json:"name,omitempty"`
	Text       string            `json:"text,omitempty"`
	// InnerHTML is used for the text when Text is empty.
	InnerHTML  string            `json:"inner_html,omitempty"`
	Selector   string            `json:"selector,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// stableAttributes are the attributes that survive cosmetic markup changes
// often enough to be worth matching on.
var stableAttributes = []string{
	"aria-label", "class", "data-testid", "href", "name", "placeholder", "role", "type",
}

// textPolicy strips all markup. bluemonday policies are safe for concurrent
// use once built.
var textPolicy = bluemonday.StrictPolicy()

// Build turns a raw descriptor into a fingerprint seen at now.
//
// Without a caller-assigned ID the fingerprint ID is derived from the page
// and the markup id (or the selector, type and text when there is no markup
// id), so re-crawling the same element updates the same fingerprint.
func Build(d ElementDescriptor, now time.Time) Fingerprint {
	f := Fingerprint{
		ElementID:   strings.TrimSpace(d.ElementID),
		ElementType: elementType(d),
		ElementText: elementText(d),
		Attributes:  stableAttrs(d),
		LastSeen:    now,
		PageID:      d.PageID,
		Selector:    d.Selector,
	}
	switch {
	case d.ID != "":
		f.ID = d.ID
	case f.ElementID != "":
		f.ID = idgen.Derive("fp_", d.PageID, "#"+f.ElementID)
	default:
		f.ID = idgen.Derive("fp_", d.PageID, d.Selector, f.ElementType, f.ElementText)
	}
	return f
}

// CleanText collapses whitespace in visible text. s is taken as plain text:
// angle brackets and entities are kept as written.
func CleanText(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// StripMarkup turns an HTML fragment into its visible text.
func StripMarkup(fragment string) string {
	if fragment == "" {
		return ""
	}
	return CleanText(html.UnescapeString(textPolicy.Sanitize(fragment)))
}

func elementText(d ElementDescriptor) string {
	if t := CleanText(d.Text); t != "" {
		return t
	}
	return StripMarkup(d.InnerHTML)
}

func elementType(d ElementDescriptor) string {
	if r := strings.TrimSpace(d.Role); r != "" {
		return strings.ToLower(r)
	}
	if r := strings.TrimSpace(d.Attributes["role"]); r != "" {
		return strings.ToLower(r)
	}
	return strings.ToLower(strings.TrimSpace(d.Tag))
}

func stableAttrs(d ElementDescriptor) map[string]string {
	out := make(map[string]string)
	for _, k := range stableAttributes {
		v := strings.TrimSpace(d.Attributes[k])
		if v == "" {
			continue
		}
		if k == "class" {
			v = normalizeClass(v)
		}
		out[k] = v
	}
	if _, ok := out["name"]; !ok && d.Name != "" {
		out["name"] = d.Name
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// normalizeClass sorts and dedups class tokens so reordering is not a change.
func normalizeClass(v string) string {
	tokens := strings.Fields(v)
	slices.Sort(tokens)
	return strings.Join(slices.Compact(tokens), " ")
}
