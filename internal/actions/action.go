// Package actions holds the commands that call external services. Each
// action declares the state keys it needs and runs as a background task.
package actions

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"agdt/internal/errs"
	"agdt/internal/state"
	"agdt/internal/tasks"
)

// Input is what an action sees while it runs.
type Input struct {
	TaskID string
	Values state.Values
	Log    *zap.Logger
}

// String returns the trimmed value of key, or "".
func (in Input) String(key string) string {
	s, _ := in.Values.String(key)
	return strings.TrimSpace(s)
}

// Int parses key as an integer.
func (in Input) Int(key string) (int, error) {
	raw := in.String(key)
	n, err := strconv.Atoi(strings.TrimPrefix(raw, "#"))
	if err != nil {
		return 0, fmt.Errorf("state key %s must be an integer, got %q", key, raw)
	}
	return n, nil
}

// List splits a comma separated value, dropping empty items.
func (in Input) List(key string) []string {
	var out []string
	for _, item := range strings.Split(in.String(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Action is one named background command.
type Action struct {
	Name     string
	Service  string
	Summary  string
	Requires []string
	Optional []string
	Run      func(ctx context.Context, env *Env, in Input) (any, error)
}

// Registry indexes actions by name.
type Registry struct {
	actions map[string]*Action
}

func NewRegistry(actions ...*Action) *Registry {
	r := &Registry{actions: make(map[string]*Action, len(actions))}
	for _, a := range actions {
		r.actions[a.Name] = a
	}
	return r
}

// Default returns the registry of every built-in action.
func Default() *Registry {
	var all []*Action
	all = append(all, jiraActions()...)
	all = append(all, azdoActions()...)
	all = append(all, githubActions()...)
	all = append(all, sddActions()...)
	return NewRegistry(all...)
}

func (r *Registry) Get(name string) (*Action, error) {
	a, ok := r.actions[name]
	if !ok {
		return nil, fmt.Errorf("unknown action %q", name)
	}
	return a, nil
}

// List returns the actions sorted by name.
func (r *Registry) List() []*Action {
	out := make([]*Action, 0, len(r.actions))
	for _, a := range r.actions {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Overrides parses key=value task arguments into state values that apply to
// a single run without being persisted.
func Overrides(args []string) (state.Values, error) {
	out := state.Values{}
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return nil, fmt.Errorf("invalid argument %q: want key=value", arg)
		}
		if err := state.ValidateKey(key); err != nil {
			return nil, err
		}
		out[key] = state.ParseTyped(value)
	}
	return out, nil
}

func (r *Registry) input(ctx context.Context, store *state.Store, a *Action, args []string) (state.Values, error) {
	overrides, err := Overrides(args)
	if err != nil {
		return nil, err
	}
	values, err := store.Dump(ctx)
	if err != nil {
		return nil, err
	}
	for k, v := range overrides {
		values[k] = v
	}
	var missing []string
	for _, k := range a.Requires {
		if s, ok := values.String(k); !ok || strings.TrimSpace(s) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		return values, &errs.MissingRequiredStateError{Keys: missing}
	}
	return values, nil
}

// Check validates a job before it is queued: the action exists and every
// required key is set.
func (r *Registry) Check(ctx context.Context, store *state.Store, job tasks.Job) error {
	a, err := r.Get(job.Command)
	if err != nil {
		return err
	}
	_, err = r.input(ctx, store, a, job.Args)
	return err
}

// Resolver adapts the registry to the task runner.
func (r *Registry) Resolver(env *Env) tasks.Resolver {
	return resolver{registry: r, env: env}
}

type resolver struct {
	registry *Registry
	env      *Env
}

func (rs resolver) Resolve(command string) (tasks.Handler, error) {
	a, err := rs.registry.Get(command)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context, rc tasks.RunContext) (any, error) {
		values, err := rs.registry.input(ctx, rs.env.Store, a, rc.Args)
		if err != nil {
			return nil, err
		}
		log := rc.Log
		if log == nil {
			log = rs.env.logger()
		}
		log.Info("running action", zap.String("action", a.Name), zap.String("service", a.Service))
		return a.Run(ctx, rs.env, Input{TaskID: rc.TaskID, Values: values, Log: log})
	}, nil
}
