package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"agdt/internal/domain"
	"agdt/internal/errs"
	"agdt/internal/events"
	"agdt/internal/ledger"
	"agdt/internal/prompt"
	"agdt/internal/state"
)

// State keys holding the active instance.
const (
	keyPrefix    = "workflow."
	keyID        = "workflow.id"
	keyName      = "workflow.name"
	keyStep      = "workflow.step"
	keyEntityID  = "workflow.entity_id"
	keyStartedAt = "workflow.started_at"
	keyUpdatedAt = "workflow.updated_at"
)

var (
	ErrNoActiveWorkflow = errors.New("no active workflow: start one with agdt workflow start <name>")
	ErrWorkflowActive   = errors.New("a workflow is already active: finish it, or clear it with agdt workflow clear")
)

// Instance is the active run of a workflow.
type Instance struct {
	ID        string         `json:"id"`
	Workflow  string         `json:"workflow"`
	Step      Step           `json:"step"`
	EntityID  string         `json:"entity_id,omitempty"`
	Counters  map[string]int `json:"counters"`
	StartedAt string         `json:"started_at"`
	UpdatedAt string         `json:"updated_at"`
}

// Values returns the instance as state keys.
func (i Instance) Values() state.Values {
	v := state.Values{
		keyID:        i.ID,
		keyName:      i.Workflow,
		keyStep:      string(i.Step),
		keyStartedAt: i.StartedAt,
		keyUpdatedAt: i.UpdatedAt,
	}
	if i.EntityID != "" {
		v[keyEntityID] = i.EntityID
	}
	for name, n := range i.Counters {
		v[keyPrefix+name] = n
	}
	return v
}

func instanceFrom(values state.Values) (Instance, bool, error) {
	name, ok := values.String(keyName)
	if !ok || name == "" {
		return Instance{}, false, nil
	}
	def, err := Lookup(name)
	if err != nil {
		return Instance{}, false, err
	}
	inst := Instance{Workflow: name, Counters: map[string]int{}}
	inst.ID, _ = values.String(keyID)
	step, _ := values.String(keyStep)
	inst.Step = Step(step)
	inst.EntityID, _ = values.String(keyEntityID)
	inst.StartedAt, _ = values.String(keyStartedAt)
	inst.UpdatedAt, _ = values.String(keyUpdatedAt)
	for _, c := range def.Counters {
		n, _ := values.Int(keyPrefix + c)
		inst.Counters[c] = n
	}
	if !def.HasStep(inst.Step) {
		return inst, true, fmt.Errorf("workflow state is corrupt: %s has no step %q (run agdt workflow clear)", name, inst.Step)
	}
	return inst, true, nil
}

// Sequencer drives workflow instances stored in the state store.
type Sequencer struct {
	Store   *state.Store
	Prompts *prompt.Renderer
	Ledger  *ledger.Ledger
	Log     *zap.Logger
	Now     func() time.Time
}

func (s *Sequencer) now() string {
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return now().UTC().Format(time.RFC3339)
}

func (s *Sequencer) log() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

func (s *Sequencer) record(ctx context.Context, inst Instance, from Step, evtType string) {
	err := s.Ledger.WorkflowTransitioned(ctx, domain.WorkflowTransition{
		InstanceID: inst.ID,
		Workflow:   inst.Workflow,
		FromStep:   string(from),
		ToStep:     string(inst.Step),
		EntityID:   inst.EntityID,
	}, evtType)
	if err != nil {
		s.log().Warn("record workflow transition", zap.String("workflow", inst.Workflow), zap.Error(err))
	}
}

// Start creates an instance of name at its initiate step. With force an
// active instance is replaced.
func (s *Sequencer) Start(ctx context.Context, name, entityID string, force bool) (Instance, error) {
	def, err := Lookup(name)
	if err != nil {
		return Instance{}, err
	}
	now := s.now()
	inst := Instance{
		ID:        uuid.NewString(),
		Workflow:  def.Name,
		Step:      Initiate,
		EntityID:  entityID,
		Counters:  map[string]int{},
		StartedAt: now,
		UpdatedAt: now,
	}
	for _, c := range def.Counters {
		inst.Counters[c] = 0
	}
	err = s.Store.Update(ctx, func(values state.Values) error {
		if _, active, _ := instanceFrom(values); active && !force {
			return ErrWorkflowActive
		}
		clearInstance(values)
		for k, v := range inst.Values() {
			values[k] = v
		}
		if def.EntityKey != "" && entityID != "" {
			values[def.EntityKey] = entityID
		}
		return nil
	})
	if err != nil {
		return Instance{}, err
	}
	s.record(ctx, inst, "", events.WorkflowStarted)
	return inst, nil
}

// Current returns the active instance, if any.
func (s *Sequencer) Current(ctx context.Context) (Instance, bool, error) {
	values, err := s.Store.Dump(ctx)
	if err != nil {
		return Instance{}, false, err
	}
	return instanceFrom(values)
}

// Advance moves the active instance to target. increments names counters
// to bump by one. Reaching complete clears the instance; the returned
// Instance still describes the completed run.
func (s *Sequencer) Advance(ctx context.Context, target Step, increments []string) (Instance, error) {
	var (
		inst Instance
		from Step
	)
	err := s.Store.Update(ctx, func(values state.Values) error {
		current, active, err := instanceFrom(values)
		if err != nil {
			return err
		}
		if !active {
			return ErrNoActiveWorkflow
		}
		def, _ := Lookup(current.Workflow)
		if !def.CanAdvance(current.Step, target) {
			allowed := make([]string, 0, len(def.Allowed(current.Step)))
			for _, a := range def.Allowed(current.Step) {
				allowed = append(allowed, string(a))
			}
			return &errs.InvalidTransitionError{
				Workflow: def.Name,
				From:     string(current.Step),
				To:       string(target),
				Allowed:  allowed,
			}
		}
		for _, name := range increments {
			if !def.hasCounter(name) {
				return fmt.Errorf("workflow %s has no counter %q", def.Name, name)
			}
		}
		if c, ok := def.LeaveCounters[current.Step]; ok {
			current.Counters[c]++
		}
		for _, name := range increments {
			current.Counters[name]++
		}
		from = current.Step
		current.Step = target
		current.UpdatedAt = s.now()
		inst = current

		clearInstance(values)
		if target != Complete {
			for k, v := range inst.Values() {
				values[k] = v
			}
		}
		return nil
	})
	if err != nil {
		return Instance{}, err
	}
	evtType := events.WorkflowAdvanced
	if target == Complete {
		evtType = events.WorkflowCompleted
	}
	s.record(ctx, inst, from, evtType)
	return inst, nil
}

// Clear drops the active instance. It reports whether one existed.
func (s *Sequencer) Clear(ctx context.Context) (bool, error) {
	var (
		inst    Instance
		existed bool
	)
	err := s.Store.Update(ctx, func(values state.Values) error {
		inst, existed, _ = instanceFrom(values)
		if _, ok := values[keyName]; ok {
			existed = true
		}
		clearInstance(values)
		return nil
	})
	if err != nil || !existed {
		return existed, err
	}
	if err := s.Ledger.Record(ctx, events.WorkflowCleared, "workflow", inst.ID, events.EventPayload{
		"workflow": inst.Workflow,
		"step":     string(inst.Step),
	}); err != nil {
		s.log().Warn("record workflow clear", zap.Error(err))
	}
	return true, nil
}

// Prompt renders the prompt of the active instance's current step.
func (s *Sequencer) Prompt(ctx context.Context) (prompt.Rendered, error) {
	inst, active, err := s.Current(ctx)
	if err != nil {
		return prompt.Rendered{}, err
	}
	if !active {
		return prompt.Rendered{}, ErrNoActiveWorkflow
	}
	return s.Render(ctx, inst)
}

// Render renders inst's step prompt against the current state overlaid
// with the instance's own values.
func (s *Sequencer) Render(ctx context.Context, inst Instance) (prompt.Rendered, error) {
	def, err := Lookup(inst.Workflow)
	if err != nil {
		return prompt.Rendered{}, err
	}
	values, err := s.Store.Dump(ctx)
	if err != nil {
		return prompt.Rendered{}, err
	}
	pctx := prompt.ContextFromState(values)
	for k, v := range inst.Values() {
		pctx[k] = v
	}
	return s.Prompts.Render(def.PromptID(inst.Step), pctx)
}

// History returns the recorded transitions of an instance.
func (s *Sequencer) History(ctx context.Context, instanceID string) ([]domain.WorkflowTransition, error) {
	if s.Ledger == nil {
		return nil, nil
	}
	return s.Ledger.Repo.WorkflowHistory(ctx, instanceID)
}

func clearInstance(values state.Values) {
	for k := range values {
		if strings.HasPrefix(k, keyPrefix) {
			delete(values, k)
		}
	}
}
