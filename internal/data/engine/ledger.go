package engine

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/trialstore/internal/data/codec"
	"github.com/yungbote/trialstore/internal/data/docstore"
	"github.com/yungbote/trialstore/internal/domain/optimization"
	"github.com/yungbote/trialstore/internal/domain/storage"
)

func trialFilter(trialID int64) docstore.Filter {
	return docstore.Filter{codec.FieldTrialID: trialID}
}

func mustStateCode(s optimization.TrialState) int64 {
	code, err := codec.EncodeState(s)
	if err != nil {
		panic(fmt.Sprintf("engine: no code for state %v", s))
	}
	return code
}

var activeStateCodes = func() []any {
	codes, err := codec.StateCodes(optimization.ActiveStates)
	if err != nil {
		panic(err)
	}
	return codes
}()

// CreateTrial adds a trial to a study. Without a template the trial starts
// RUNNING; with one, the template's fields and final state are written in a
// single insert. The trial number is the study's trial count at insertion,
// guarded by the unique (study_id, number) index.
func (s *Storage) CreateTrial(ctx context.Context, studyID int64, template *optimization.Trial) (int64, error) {
	const op = "CreateTrial"
	var id int64
	err := s.observe(ctx, op, func(ctx context.Context) error {
		study, err := s.loadStudy(ctx, op, studyID)
		if err != nil {
			return err
		}
		b := newTrialBuilder(template, s.now())
		if err := b.validate(study.Directions); err != nil {
			return invalidArgument(op, "template: %v", err)
		}
		id, err = s.alloc.Insert(ctx, op, codec.CollectionTrial, codec.FieldTrialID,
			func(ctx context.Context, candidate int64) (docstore.Document, error) {
				number, err := s.store.Count(ctx, codec.CollectionTrial, studyFilter(studyID))
				if err != nil {
					return nil, err
				}
				return codec.EncodeTrial(b.build(candidate, studyID, number))
			}, nil)
		if err != nil {
			return err
		}
		s.log.Debug("Trial created", "study_id", studyID, "trial_id", id, "state", b.trial.State.String())
		return nil
	}, attribute.Int64("study_id", studyID))
	return id, err
}

// loadTrial fetches a trial whose study still exists; an orphaned trial is
// reported as not found.
func (s *Storage) loadTrial(ctx context.Context, op string, trialID int64) (docstore.Document, *optimization.Trial, error) {
	doc, err := s.store.FindOne(ctx, codec.CollectionTrial, trialFilter(trialID))
	if errors.Is(err, docstore.ErrNoDocument) {
		return nil, nil, notFound(op, "trial %d not found", trialID)
	}
	if err != nil {
		return nil, nil, err
	}
	t, err := codec.DecodeTrial(doc)
	if err != nil {
		return nil, nil, err
	}
	if err := s.requireStudy(ctx, op, t.StudyID); err != nil {
		if storage.IsCode(err, storage.CodeNotFound) {
			return nil, nil, notFound(op, "trial %d not found", trialID)
		}
		return nil, nil, err
	}
	return doc, t, nil
}

// updateActive applies u to a trial while it is RUNNING or WAITING. The
// state guard is part of the update filter, so a trial that finishes
// concurrently is never modified afterwards.
func (s *Storage) updateActive(ctx context.Context, op string, trialID int64, u docstore.Update) error {
	_, t, err := s.loadTrial(ctx, op, trialID)
	if err != nil {
		return err
	}
	if t.State.IsFinished() {
		return trialFinished(op, trialID, t.State)
	}
	filter := trialFilter(trialID)
	filter[codec.FieldState] = docstore.In(activeStateCodes...)
	matched, err := s.store.UpdateOne(ctx, codec.CollectionTrial, filter, u)
	if err != nil {
		return err
	}
	if matched {
		return nil
	}
	s.hooks.IncConflict(op)
	_, t, err = s.loadTrial(ctx, op, trialID)
	if err != nil {
		return err
	}
	if t.State.IsFinished() {
		return trialFinished(op, trialID, t.State)
	}
	return storage.Errorf(storage.CodeTransient, op, "trial %d changed during update", trialID)
}

// SetTrialParam records a sampled parameter in its internal representation.
func (s *Storage) SetTrialParam(ctx context.Context, trialID int64, name string, internal float64, dist optimization.Distribution) error {
	const op = "SetTrialParam"
	return s.observe(ctx, op, func(ctx context.Context) error {
		if dist == nil {
			return invalidArgument(op, "param %q has no distribution", name)
		}
		if !dist.Contains(internal) {
			return invalidArgument(op, "param %q: internal value %v is outside %s", name, internal, dist.Kind())
		}
		desc, err := codec.EncodeDistribution(dist)
		if err != nil {
			return err
		}
		return s.updateActive(ctx, op, trialID, docstore.Update{Set: map[string]any{
			codec.ParamPath(name):        codec.EncodeFloat(internal),
			codec.DistributionPath(name): desc,
		}})
	}, attribute.Int64("trial_id", trialID), attribute.String("param", name))
}

// SetTrialStateValues moves a trial through its state machine:
//
//	RUNNING -> COMPLETE | PRUNED | FAIL   (stamps datetime_complete)
//	RUNNING -> RUNNING                    (no-op, returns false)
//	WAITING -> RUNNING                    (stamps datetime_start)
//
// The write is a compare-and-set on the observed state; of several workers
// claiming the same WAITING trial exactly one gets true.
func (s *Storage) SetTrialStateValues(ctx context.Context, trialID int64, state optimization.TrialState, values []float64) (bool, error) {
	const op = "SetTrialStateValues"
	var changed bool
	err := s.observe(ctx, op, func(ctx context.Context) error {
		if !state.Valid() {
			return invalidArgument(op, "unknown trial state %d", int(state))
		}
		for attempt := 0; attempt < s.maxAttempts; attempt++ {
			_, t, err := s.loadTrial(ctx, op, trialID)
			if err != nil {
				return err
			}
			if t.State.IsFinished() {
				return trialFinished(op, trialID, t.State)
			}
			if state == optimization.TrialRunning && t.State == optimization.TrialRunning {
				changed = false
				return nil
			}
			if !transitionAllowed(t.State, state) {
				return invalidArgument(op, "trial %d cannot move from %s to %s", trialID, t.State, state)
			}
			u, err := s.stateUpdate(ctx, op, t, state, values)
			if err != nil {
				return err
			}
			filter := trialFilter(trialID)
			filter[codec.FieldState] = mustStateCode(t.State)
			matched, err := s.store.UpdateOne(ctx, codec.CollectionTrial, filter, u)
			if err != nil {
				return err
			}
			if matched {
				changed = true
				return nil
			}
			// Lost to a concurrent transition; re-read and re-decide.
			s.hooks.IncConflict(op)
			s.log.Debug("State transition raced; re-evaluating", "trial_id", trialID, "from", t.State.String(), "to", state.String())
		}
		return storage.Errorf(storage.CodeTransient, op, "trial %d state kept changing", trialID)
	}, attribute.Int64("trial_id", trialID), attribute.String("state", state.String()))
	return changed, err
}

func transitionAllowed(from, to optimization.TrialState) bool {
	switch from {
	case optimization.TrialRunning:
		return to.IsFinished()
	case optimization.TrialWaiting:
		return to == optimization.TrialRunning
	default:
		return false
	}
}

func (s *Storage) stateUpdate(ctx context.Context, op string, t *optimization.Trial, state optimization.TrialState, values []float64) (docstore.Update, error) {
	u := docstore.Update{Set: map[string]any{codec.FieldState: mustStateCode(state)}}
	now := s.now()
	if t.State == optimization.TrialWaiting && state == optimization.TrialRunning {
		u.Set[codec.FieldDatetimeStart] = codec.EncodeTime(now)
	}
	if state.IsFinished() {
		u.Set[codec.FieldDatetimeComplete] = codec.EncodeTime(now)
	}
	if values == nil {
		return u, nil
	}
	study, err := s.loadStudy(ctx, op, t.StudyID)
	if err != nil {
		return docstore.Update{}, err
	}
	if !optimization.AllNotSet(study.Directions) && len(values) != len(study.Directions) {
		return docstore.Update{}, invalidArgument(op, "got %d values for %d objectives", len(values), len(study.Directions))
	}
	switch len(values) {
	case 0:
		u.Unset = []string{codec.FieldValue, codec.FieldValues}
	case 1:
		u.Set[codec.FieldValue] = codec.EncodeFloat(values[0])
		u.Unset = []string{codec.FieldValues}
	default:
		u.Set[codec.FieldValues] = codec.EncodeFloats(values)
		u.Unset = []string{codec.FieldValue}
	}
	return u, nil
}

func (s *Storage) SetTrialIntermediateValue(ctx context.Context, trialID int64, step int64, value float64) error {
	const op = "SetTrialIntermediateValue"
	return s.observe(ctx, op, func(ctx context.Context) error {
		return s.updateActive(ctx, op, trialID, docstore.Update{Set: map[string]any{
			codec.IntermediateValuePath(step): codec.EncodeFloat(value),
		}})
	}, attribute.Int64("trial_id", trialID), attribute.Int64("step", step))
}

func (s *Storage) SetTrialUserAttr(ctx context.Context, trialID int64, key string, value any) error {
	return s.setTrialAttr(ctx, "SetTrialUserAttr", trialID, key, codec.UserAttrPath(key), value)
}

func (s *Storage) SetTrialSystemAttr(ctx context.Context, trialID int64, key string, value any) error {
	return s.setTrialAttr(ctx, "SetTrialSystemAttr", trialID, key, codec.SystemAttrPath(key), value)
}

func (s *Storage) setTrialAttr(ctx context.Context, op string, trialID int64, key, path string, value any) error {
	return s.observe(ctx, op, func(ctx context.Context) error {
		if key == "" {
			return invalidArgument(op, "attribute key must not be empty")
		}
		encoded, err := codec.EncodeValue(path, value)
		if err != nil {
			return err
		}
		return s.updateActive(ctx, op, trialID, docstore.Update{Set: map[string]any{path: encoded}})
	}, attribute.Int64("trial_id", trialID))
}

func (s *Storage) GetTrial(ctx context.Context, trialID int64) (*optimization.Trial, error) {
	var out *optimization.Trial
	err := s.observe(ctx, "GetTrial", func(ctx context.Context) error {
		_, t, err := s.loadTrial(ctx, "GetTrial", trialID)
		out = t
		return err
	}, attribute.Int64("trial_id", trialID))
	return out, err
}

func stateFilter(studyID int64, states []optimization.TrialState) (docstore.Filter, error) {
	f := studyFilter(studyID)
	if len(states) == 0 {
		return f, nil
	}
	codes, err := codec.StateCodes(states)
	if err != nil {
		return nil, err
	}
	f[codec.FieldState] = docstore.In(codes...)
	return f, nil
}

// findTrials returns a study's trials ordered by number, optionally filtered
// by state.
func (s *Storage) findTrials(ctx context.Context, studyID int64, states []optimization.TrialState) ([]*optimization.Trial, error) {
	f, err := stateFilter(studyID, states)
	if err != nil {
		return nil, err
	}
	docs, err := s.store.Find(ctx, codec.CollectionTrial, f, docstore.FindOptions{
		Sort: []docstore.SortKey{{Field: codec.FieldNumber, Order: docstore.Ascending}},
	})
	if err != nil {
		return nil, err
	}
	out := make([]*optimization.Trial, 0, len(docs))
	for _, doc := range docs {
		t, err := codec.DecodeTrial(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Storage) GetAllTrials(ctx context.Context, studyID int64, states []optimization.TrialState) ([]*optimization.Trial, error) {
	const op = "GetAllTrials"
	var out []*optimization.Trial
	err := s.observe(ctx, op, func(ctx context.Context) error {
		if err := s.requireStudy(ctx, op, studyID); err != nil {
			return err
		}
		var err error
		out, err = s.findTrials(ctx, studyID, states)
		return err
	}, attribute.Int64("study_id", studyID))
	return out, err
}

func (s *Storage) GetNTrials(ctx context.Context, studyID int64, states []optimization.TrialState) (int64, error) {
	const op = "GetNTrials"
	var n int64
	err := s.observe(ctx, op, func(ctx context.Context) error {
		if err := s.requireStudy(ctx, op, studyID); err != nil {
			return err
		}
		f, err := stateFilter(studyID, states)
		if err != nil {
			return err
		}
		n, err = s.store.Count(ctx, codec.CollectionTrial, f)
		return err
	}, attribute.Int64("study_id", studyID))
	return n, err
}

// GetBestTrial returns the best COMPLETE trial of a single-objective study.
func (s *Storage) GetBestTrial(ctx context.Context, studyID int64) (*optimization.Trial, error) {
	const op = "GetBestTrial"
	var out *optimization.Trial
	err := s.observe(ctx, op, func(ctx context.Context) error {
		study, err := s.loadStudy(ctx, op, studyID)
		if err != nil {
			return err
		}
		if len(study.Directions) > 1 {
			return invalidArgument(op, "study %d is multi-objective; it has no single best trial", studyID)
		}
		trials, err := s.findTrials(ctx, studyID, []optimization.TrialState{optimization.TrialComplete})
		if err != nil {
			return err
		}
		out = bestTrial(trials, study.Directions[0])
		if out == nil {
			return notFound(op, "study %d has no completed trials", studyID)
		}
		return nil
	}, attribute.Int64("study_id", studyID))
	return out, err
}

func (s *Storage) GetTrialIDFromStudyIDTrialNumber(ctx context.Context, studyID, number int64) (int64, error) {
	const op = "GetTrialIDFromStudyIDTrialNumber"
	var id int64
	err := s.observe(ctx, op, func(ctx context.Context) error {
		if err := s.requireStudy(ctx, op, studyID); err != nil {
			return err
		}
		doc, err := s.store.FindOne(ctx, codec.CollectionTrial, docstore.Filter{
			codec.FieldStudyID: studyID,
			codec.FieldNumber:  number,
		})
		if errors.Is(err, docstore.ErrNoDocument) {
			return notFound(op, "study %d has no trial number %d", studyID, number)
		}
		if err != nil {
			return err
		}
		var ok bool
		if id, ok = codec.DecodeInt(doc[codec.FieldTrialID]); !ok {
			return storage.Errorf(storage.CodeCorruptData, op, "trial number %d of study %d has no integer trial_id", number, studyID)
		}
		return nil
	}, attribute.Int64("study_id", studyID), attribute.Int64("number", number))
	return id, err
}

func (s *Storage) GetTrialNumberFromID(ctx context.Context, trialID int64) (int64, error) {
	const op = "GetTrialNumberFromID"
	var number int64
	err := s.observe(ctx, op, func(ctx context.Context) error {
		var err error
		number, err = s.cache.LoadInt(ctx, trialNumberKey(trialID), func(ctx context.Context) (int64, error) {
			_, t, err := s.loadTrial(ctx, op, trialID)
			if err != nil {
				return 0, err
			}
			return t.Number, nil
		})
		if err != nil {
			return err
		}
		_, err = s.liveStudyOfTrial(ctx, op, trialID)
		return err
	}, attribute.Int64("trial_id", trialID))
	return number, err
}

// GetTrialParam returns the internal representation of a parameter.
func (s *Storage) GetTrialParam(ctx context.Context, trialID int64, name string) (float64, error) {
	const op = "GetTrialParam"
	var value float64
	err := s.observe(ctx, op, func(ctx context.Context) error {
		doc, _, err := s.loadTrial(ctx, op, trialID)
		if err != nil {
			return err
		}
		params, _ := doc[codec.FieldParams].(map[string]any)
		raw, ok := params[codec.EscapeKey(name)]
		if !ok {
			return notFound(op, "trial %d has no param %q", trialID, name)
		}
		value, err = codec.DecodeFloat(codec.FieldParams, raw)
		return err
	}, attribute.Int64("trial_id", trialID), attribute.String("param", name))
	return value, err
}
