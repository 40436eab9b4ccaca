package campaign

import "strings"

// variableSpec lists the variables a template code expects.
type variableSpec struct {
	required []string
	optional []string
}

// Registry maps template codes to their required and optional variables
// and validates a variable set before a send.
type Registry struct {
	specs map[string]variableSpec
}

// NewRegistry returns a registry preloaded with the built-in HR template
// codes. Lookup is case-insensitive on the code.
func NewRegistry() *Registry {
	return &Registry{specs: map[string]variableSpec{
		"OFFER_LETTER": {
			required: []string{"candidateName", "jobTitle", "workspaceName"},
			optional: []string{"startDate", "salary", "appUrl"},
		},
		"INTERVIEW_INVITE": {
			required: []string{"candidateName", "jobTitle", "currentDate"},
			optional: []string{"interviewerName", "location", "appUrl"},
		},
		"LEAVE_APPROVED": {
			required: []string{"fullName", "currentDate"},
			optional: []string{"department", "workspaceName"},
		},
		"LEAVE_REJECTED": {
			required: []string{"fullName", "currentDate"},
			optional: []string{"department", "workspaceName"},
		},
		"ATTENDANCE_REMINDER": {
			required: []string{"fullName"},
			optional: []string{"department", "currentDate", "appUrl"},
		},
		"WELCOME": {
			required: []string{"fullName", "workspaceName", "appUrl"},
			optional: []string{"role", "department"},
		},
	}}
}

// RequiredVariables returns the required variable names for a template
// code, or an empty list for an unknown code.
func (r *Registry) RequiredVariables(code string) []string {
	spec, ok := r.specs[normalizeCode(code)]
	if !ok {
		return []string{}
	}
	out := make([]string, len(spec.required))
	copy(out, spec.required)
	return out
}

// OptionalVariables returns the optional variable names for a template
// code, or an empty list for an unknown code.
func (r *Registry) OptionalVariables(code string) []string {
	spec, ok := r.specs[normalizeCode(code)]
	if !ok {
		return []string{}
	}
	out := make([]string, len(spec.optional))
	copy(out, spec.optional)
	return out
}

// ValidationResult reports whether a variable set satisfies a template
// code's requirements.
type ValidationResult struct {
	IsValid bool     `json:"is_valid"`
	Missing []string `json:"missing,omitempty"`
}

// Validate reports the required variables absent from the keys of
// provided. A key mapped to an empty string still counts as provided;
// callers must not rely on Validate to catch blank values.
func (r *Registry) Validate(code string, provided map[string]string) ValidationResult {
	missing := []string{}
	for _, name := range r.RequiredVariables(code) {
		if _, ok := provided[name]; !ok {
			missing = append(missing, name)
		}
	}
	return ValidationResult{IsValid: len(missing) == 0, Missing: missing}
}

func normalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
