package apiclient

import "agdt/internal/errs"

// Field pairs a response field name with whether it was present.
type Field struct {
	Name    string
	Present bool
}

// RequireFields returns a MalformedResponseError naming the first absent
// field.
func RequireFields(service, operation string, fields ...Field) error {
	for _, f := range fields {
		if !f.Present {
			return &errs.MalformedResponseError{Service: service, Operation: operation, Field: f.Name}
		}
	}
	return nil
}
