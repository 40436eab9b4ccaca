package campaign

import "github.com/taskflow/mailcenter/internal/models"

// Preview holds the rendered subject and body for one recipient.
type Preview struct {
	Subject string `json:"subject"`
	HTML    string `json:"html"`
}

// RenderPreview substitutes the recipient's effective variables into the
// template subject and body, for display only. Variables that are unset
// or empty render as a visible [name] marker rather than disappearing,
// so a reviewer can spot gaps before sending. The real send-time
// interpolation happens in the mail provider.
func RenderPreview(tmpl *models.Template, globals map[string]string, r *models.Recipient) Preview {
	vars := mergeVariables(globals, r)
	missing := func(name string) string { return "[" + name + "]" }
	return Preview{
		Subject: substitute(tmpl.Subject, vars, missing),
		HTML:    substitute(tmpl.HTML, vars, missing),
	}
}
