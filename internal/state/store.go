// Package state implements the key/value document that drives the next
// agdt command. Keys are dotted (jira.issue_key) and values are JSON scalars.
package state

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"agdt/internal/errs"
)

var (
	keyPattern    = regexp.MustCompile(`^[a-z0-9_]+(\.[a-z0-9_]+)*$`)
	numberLiteral = regexp.MustCompile(`^-?(0|[1-9][0-9]*)(\.[0-9]+)?$`)
)

// Values is the decoded state document.
type Values map[string]any

// Clone returns a shallow copy; values are scalars so this is a full copy.
func (v Values) Clone() Values {
	out := make(Values, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

// Keys returns the keys in sorted order.
func (v Values) Keys() []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String returns the value for key formatted as text.
func (v Values) String(key string) (string, bool) {
	val, ok := v[key]
	if !ok || val == nil {
		return "", false
	}
	return FormatValue(val), true
}

// Int returns the value for key as an int.
func (v Values) Int(key string) (int, bool) {
	val, ok := v[key]
	if !ok {
		return 0, false
	}
	switch n := val.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		i, err := strconv.Atoi(n.String())
		return i, err == nil
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	default:
		return 0, false
	}
}

// WithPrefix returns the entries under prefix + ".", keyed by the rest.
func (v Values) WithPrefix(prefix string) Values {
	out := Values{}
	p := prefix + "."
	for k, val := range v {
		if strings.HasPrefix(k, p) {
			out[strings.TrimPrefix(k, p)] = val
		}
	}
	return out
}

// Missing returns the keys that are unset or empty strings.
func (v Values) Missing(keys ...string) []string {
	var missing []string
	for _, k := range keys {
		s, ok := v.String(k)
		if !ok || strings.TrimSpace(s) == "" {
			missing = append(missing, k)
		}
	}
	return missing
}

// FormatValue renders a scalar the way agdt state get prints it.
func FormatValue(val any) string {
	switch x := val.(type) {
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case nil:
		return ""
	default:
		return fmt.Sprint(x)
	}
}

// ParseTyped interprets raw as a JSON scalar, falling back to a string.
// Only canonical literals are typed so the value reads back exactly as
// written: "007", "+5", ".5", " 12" and "NaN" stay strings.
func ParseTyped(raw string) any {
	switch raw {
	case "true":
		return true
	case "false":
		return false
	}
	if !numberLiteral.MatchString(raw) {
		return raw
	}
	return json.Number(raw)
}

// ValidateKey checks the dotted key syntax.
func ValidateKey(key string) error {
	if !keyPattern.MatchString(key) {
		return fmt.Errorf("invalid state key %q: use lowercase dotted segments like jira.issue_key", key)
	}
	return nil
}

func validateValue(key string, val any) error {
	switch val.(type) {
	case string, bool, json.Number, float64, float32, int, int32, int64, uint, uint32, uint64:
		return nil
	default:
		return fmt.Errorf("state value for %s must be a scalar, got %T", key, val)
	}
}

// Store is the state API handed to command handlers.
type Store struct {
	repo Repository
}

// NewStore wraps a repository.
func NewStore(repo Repository) *Store {
	return &Store{repo: repo}
}

// Set stores value under key.
func (s *Store) Set(ctx context.Context, key string, value any) error {
	return s.SetMany(ctx, Values{key: value})
}

// SetMany stores several values in one locked write.
func (s *Store) SetMany(ctx context.Context, values Values) error {
	for k, v := range values {
		if err := ValidateKey(k); err != nil {
			return err
		}
		if err := validateValue(k, v); err != nil {
			return err
		}
	}
	return s.repo.Update(ctx, func(cur Values) error {
		for k, v := range values {
			cur[k] = v
		}
		return nil
	})
}

// Get returns the value for key.
func (s *Store) Get(ctx context.Context, key string) (any, bool, error) {
	values, err := s.repo.Load(ctx)
	if err != nil {
		return nil, false, err
	}
	v, ok := values[key]
	return v, ok, nil
}

// Clear removes key and reports whether it was present.
func (s *Store) Clear(ctx context.Context, key string) (bool, error) {
	var existed bool
	err := s.repo.Update(ctx, func(cur Values) error {
		_, existed = cur[key]
		delete(cur, key)
		return nil
	})
	return existed, err
}

// ClearPrefix removes every key under prefix + "." and returns how many.
func (s *Store) ClearPrefix(ctx context.Context, prefix string) (int, error) {
	var n int
	err := s.repo.Update(ctx, func(cur Values) error {
		p := prefix + "."
		for k := range cur {
			if strings.HasPrefix(k, p) {
				delete(cur, k)
				n++
			}
		}
		return nil
	})
	return n, err
}

// ClearAll empties the document.
func (s *Store) ClearAll(ctx context.Context) error {
	return s.repo.Update(ctx, func(cur Values) error {
		for k := range cur {
			delete(cur, k)
		}
		return nil
	})
}

// Dump returns the full mapping.
func (s *Store) Dump(ctx context.Context) (Values, error) {
	return s.repo.Load(ctx)
}

// Update exposes a locked read-modify-write to callers that change several
// related keys together (the workflow sequencer).
func (s *Store) Update(ctx context.Context, fn func(Values) error) error {
	return s.repo.Update(ctx, fn)
}

// Require returns the current values, or *errs.MissingRequiredStateError
// naming every key in keys that is unset.
func (s *Store) Require(ctx context.Context, keys ...string) (Values, error) {
	values, err := s.repo.Load(ctx)
	if err != nil {
		return nil, err
	}
	if missing := values.Missing(keys...); len(missing) > 0 {
		return values, &errs.MissingRequiredStateError{Keys: missing}
	}
	return values, nil
}
