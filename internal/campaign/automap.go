package campaign

import "github.com/taskflow/mailcenter/internal/models"

// Context supplies the system values available to every campaign.
type Context struct {
	WorkspaceName string
	AppURL        string
	CurrentDate   string
}

// AutoVariables derives default variable values for a recipient from its
// known fields and the workspace context. Only names declared by the
// template are emitted; a template without declared variables yields an
// empty map. The function is pure, so it also backs "reset to
// auto-mapping".
func AutoVariables(r *models.Recipient, tmpl *models.Template, ctx Context) map[string]string {
	out := make(map[string]string)
	if tmpl == nil || len(tmpl.Variables) == 0 {
		return out
	}

	candidates := map[string]string{
		"fullName":       r.Name,
		"name":           r.Name,
		"candidateName":  r.Name,
		"email":          r.Email,
		"recipientEmail": r.Email,
		"department":     r.Department,
		"role":           r.Role,
		"jobTitle":       r.Role,
		"currentDate":    ctx.CurrentDate,
		"workspaceName":  ctx.WorkspaceName,
		"appUrl":         ctx.AppURL,
	}

	for _, v := range tmpl.Variables {
		if value, ok := candidates[v.Name]; ok {
			out[v.Name] = value
		}
	}
	return out
}
