package campaign

import (
	"regexp"
	"strings"

	"github.com/taskflow/mailcenter/internal/models"
)

// variable pattern for template substitution: {{variable_name}}
var varPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// mergeVariables builds the effective variable set for a recipient.
// Later operands win on key collision: global defaults, then the
// recipient's explicit overrides, then the identity fields. The same
// merge is used at send time and for preview.
func mergeVariables(globals map[string]string, r *models.Recipient) map[string]string {
	merged := make(map[string]string, len(globals)+len(r.Variables)+2)
	for k, v := range globals {
		merged[k] = v
	}
	for k, v := range r.Variables {
		merged[k] = v
	}
	merged["fullName"] = r.Name
	merged["email"] = r.Email
	return merged
}

// substitute replaces every {{name}} placeholder with its value from
// vars. Placeholders that resolve to nothing get the fallback produced
// by missing, so the two rendering modes (send payload vs. preview)
// share one pass.
func substitute(s string, vars map[string]string, missing func(name string) string) string {
	if s == "" {
		return s
	}
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		name := strings.TrimSpace(match[2 : len(match)-2])
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		return missing(name)
	})
}
