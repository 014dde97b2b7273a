// Package hidepolicy provides a rule-based HidePolicy driven by a user's
// stored filters.
package hidepolicy

import (
	"strings"

	"github.com/dalemusser/respondentpro/internal/domain/models"
)

// Fields searched for keywords, in order.
var textFields = []string{"name", "title", "description", "publicTitle", "publicInternalName"}

// Fields that may carry a project's category or topics.
var categoryFields = []string{"category", "categories", "topics"}

// KeywordPolicy hides a project when any of these hold:
//   - a filter keyword occurs in one of its text fields (case-insensitive)
//   - one of its categories is in the user's hidden categories
//   - it reports an incentive below the user's minimum
type KeywordPolicy struct{}

// ShouldHide implements respondent.HidePolicy.
func (KeywordPolicy) ShouldHide(p models.Project, f models.UserFilters) bool {
	if f.MinIncentive > 0 {
		if v, ok := p.Number("incentive"); ok && v < f.MinIncentive {
			return true
		}
	}

	if len(f.Keywords) > 0 {
		var text strings.Builder
		for _, field := range textFields {
			text.WriteString(strings.ToLower(p.String(field)))
			text.WriteByte('\n')
		}
		haystack := text.String()
		for _, kw := range f.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw != "" && strings.Contains(haystack, kw) {
				return true
			}
		}
	}

	if len(f.Categories) > 0 {
		hidden := make(map[string]struct{}, len(f.Categories))
		for _, c := range f.Categories {
			hidden[strings.ToLower(strings.TrimSpace(c))] = struct{}{}
		}
		for _, c := range categories(p) {
			if _, ok := hidden[strings.ToLower(c)]; ok {
				return true
			}
		}
	}
	return false
}

// categories collects category names from string, list or {name: ...} values.
func categories(p models.Project) []string {
	var out []string
	for _, field := range categoryFields {
		switch v := p[field].(type) {
		case string:
			out = append(out, v)
		case []interface{}:
			for _, e := range v {
				switch c := e.(type) {
				case string:
					out = append(out, c)
				case map[string]interface{}:
					if name, ok := c["name"].(string); ok {
						out = append(out, name)
					}
				}
			}
		}
	}
	return out
}
