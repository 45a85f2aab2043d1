package engine

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/yungbote/trialstore/internal/data/codec"
	"github.com/yungbote/trialstore/internal/data/docstore"
	"github.com/yungbote/trialstore/internal/domain/optimization"
	"github.com/yungbote/trialstore/internal/domain/storage"
)

func studyFilter(studyID int64) docstore.Filter {
	return docstore.Filter{codec.FieldStudyID: studyID}
}

// CreateStudy registers a study. An empty name gets a generated one.
func (s *Storage) CreateStudy(ctx context.Context, name string) (int64, error) {
	const op = "CreateStudy"
	var id int64
	err := s.observe(ctx, op, func(ctx context.Context) error {
		if name == "" {
			name = optimization.DefaultStudyNamePrefix + uuid.NewString()
		}
		taken, err := s.studyNameTaken(ctx, name)
		if err != nil {
			return err
		}
		if taken {
			return storage.Errorf(storage.CodeAlreadyExists, op, "study name %q already exists", name)
		}
		id, err = s.alloc.Insert(ctx, op, codec.CollectionStudy, codec.FieldStudyID,
			func(_ context.Context, candidate int64) (docstore.Document, error) {
				return codec.EncodeStudy(&optimization.Study{ID: candidate, Name: name})
			},
			func(ctx context.Context) error {
				// The duplicate was either the name (final) or the ID (retry).
				taken, err := s.studyNameTaken(ctx, name)
				if err != nil {
					return err
				}
				if taken {
					return storage.Errorf(storage.CodeAlreadyExists, op, "study name %q already exists", name)
				}
				return nil
			})
		if err != nil {
			return err
		}
		s.log.Info("Study created", "study_id", id, "study_name", name)
		return nil
	}, attribute.String("study_name", name))
	return id, err
}

func (s *Storage) studyNameTaken(ctx context.Context, name string) (bool, error) {
	n, err := s.store.Count(ctx, codec.CollectionStudy, docstore.Filter{codec.FieldStudyName: name})
	return n > 0, err
}

// DeleteStudy removes a study and its trials. Deletion spans documents and is
// not atomic: the study document goes first, so a crash leaves only orphaned
// trials, which every lookup treats as absent. IDs the study held are
// retired so that they are never allocated again.
func (s *Storage) DeleteStudy(ctx context.Context, studyID int64) error {
	const op = "DeleteStudy"
	return s.observe(ctx, op, func(ctx context.Context) error {
		study, err := s.loadStudy(ctx, op, studyID)
		if err != nil {
			return err
		}
		if err := s.alloc.Retire(ctx, codec.CollectionStudy, studyID); err != nil {
			return err
		}
		if _, err := s.store.DeleteMany(ctx, codec.CollectionStudy, studyFilter(studyID)); err != nil {
			return err
		}
		keys := []string{studyNameKey(studyID)}

		// Trials are removed by explicit ID so that each removed ID is
		// retired first. A trial created concurrently with the deletion is
		// picked up by the next round.
		removed := 0
		for {
			docs, err := s.store.Find(ctx, codec.CollectionTrial, studyFilter(studyID), docstore.FindOptions{})
			if err != nil {
				return err
			}
			if len(docs) == 0 {
				break
			}
			ids := make([]any, 0, len(docs))
			highest := int64(-1)
			for _, d := range docs {
				id, ok := codec.DecodeInt(d[codec.FieldTrialID])
				if !ok {
					continue
				}
				ids = append(ids, id)
				keys = append(keys, trialStudyKey(id), trialNumberKey(id))
				highest = max(highest, id)
			}
			if len(ids) == 0 {
				break
			}
			if err := s.alloc.Retire(ctx, codec.CollectionTrial, highest); err != nil {
				return err
			}
			n, err := s.store.DeleteMany(ctx, codec.CollectionTrial, docstore.Filter{codec.FieldTrialID: docstore.In(ids...)})
			if err != nil {
				return err
			}
			removed += int(n)
		}
		s.cache.Invalidate(ctx, keys...)
		s.log.Info("Study deleted", "study_id", studyID, "study_name", study.Name, "trials_removed", removed)
		return nil
	}, attribute.Int64("study_id", studyID))
}

func (s *Storage) loadStudyDoc(ctx context.Context, op string, studyID int64) (docstore.Document, error) {
	doc, err := s.store.FindOne(ctx, codec.CollectionStudy, studyFilter(studyID))
	if errors.Is(err, docstore.ErrNoDocument) {
		return nil, notFound(op, "study %d not found", studyID)
	}
	return doc, err
}

func (s *Storage) loadStudy(ctx context.Context, op string, studyID int64) (*optimization.Study, error) {
	doc, err := s.loadStudyDoc(ctx, op, studyID)
	if err != nil {
		return nil, err
	}
	return codec.DecodeStudy(doc)
}

func (s *Storage) requireStudy(ctx context.Context, op string, studyID int64) error {
	n, err := s.store.Count(ctx, codec.CollectionStudy, studyFilter(studyID))
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound(op, "study %d not found", studyID)
	}
	return nil
}

// SetStudyDirections records the optimization sense of each objective.
// Meaningfully set directions may not be replaced by their exact
// element-wise opposite; anything else overwrites.
func (s *Storage) SetStudyDirections(ctx context.Context, studyID int64, directions []optimization.StudyDirection) error {
	const op = "SetStudyDirections"
	return s.observe(ctx, op, func(ctx context.Context) error {
		if len(directions) == 0 || optimization.AllNotSet(directions) {
			return invalidArgument(op, "directions must contain at least one MINIMIZE or MAXIMIZE, got %v", directions)
		}
		encoded, err := codec.EncodeDirections(directions)
		if err != nil {
			return err
		}
		for attempt := 0; attempt < s.maxAttempts; attempt++ {
			doc, err := s.loadStudyDoc(ctx, op, studyID)
			if err != nil {
				return err
			}
			stored, err := codec.DecodeDirections(doc[codec.FieldDirections])
			if err != nil {
				return err
			}
			if !optimization.AllNotSet(stored) && optimization.IsOpposite(stored, directions) {
				return storage.Errorf(storage.CodeConflict, op, "cannot flip directions of study %d from %v to %v", studyID, stored, directions)
			}
			// Compare-and-set on the directions that were validated against.
			filter := studyFilter(studyID)
			filter[codec.FieldDirections] = doc[codec.FieldDirections]
			matched, err := s.store.UpdateOne(ctx, codec.CollectionStudy, filter, docstore.Update{
				Set: map[string]any{codec.FieldDirections: encoded},
			})
			if err != nil {
				return err
			}
			if matched {
				return nil
			}
			s.hooks.IncConflict(op)
		}
		return storage.Errorf(storage.CodeTransient, op, "directions of study %d kept changing", studyID)
	}, attribute.Int64("study_id", studyID))
}

func (s *Storage) SetStudyUserAttr(ctx context.Context, studyID int64, key string, value any) error {
	return s.setStudyAttr(ctx, "SetStudyUserAttr", studyID, key, codec.UserAttrPath(key), value)
}

func (s *Storage) SetStudySystemAttr(ctx context.Context, studyID int64, key string, value any) error {
	return s.setStudyAttr(ctx, "SetStudySystemAttr", studyID, key, codec.SystemAttrPath(key), value)
}

func (s *Storage) setStudyAttr(ctx context.Context, op string, studyID int64, key, path string, value any) error {
	return s.observe(ctx, op, func(ctx context.Context) error {
		if key == "" {
			return invalidArgument(op, "attribute key must not be empty")
		}
		encoded, err := codec.EncodeValue(path, value)
		if err != nil {
			return err
		}
		matched, err := s.store.UpdateOne(ctx, codec.CollectionStudy, studyFilter(studyID), docstore.Update{
			Set: map[string]any{path: encoded},
		})
		if err != nil {
			return err
		}
		if !matched {
			return notFound(op, "study %d not found", studyID)
		}
		return nil
	}, attribute.Int64("study_id", studyID))
}

// GetStudyIDFromName always reads the store: a name is reusable once its
// study is deleted, so the mapping is not cacheable.
func (s *Storage) GetStudyIDFromName(ctx context.Context, name string) (int64, error) {
	const op = "GetStudyIDFromName"
	var id int64
	err := s.observe(ctx, op, func(ctx context.Context) error {
		doc, err := s.store.FindOne(ctx, codec.CollectionStudy, docstore.Filter{codec.FieldStudyName: name})
		if errors.Is(err, docstore.ErrNoDocument) {
			return notFound(op, "study %q not found", name)
		}
		if err != nil {
			return err
		}
		study, err := codec.DecodeStudy(doc)
		if err != nil {
			return err
		}
		id = study.ID
		return nil
	})
	return id, err
}

func (s *Storage) GetStudyNameFromID(ctx context.Context, studyID int64) (string, error) {
	const op = "GetStudyNameFromID"
	var name string
	err := s.observe(ctx, op, func(ctx context.Context) error {
		var err error
		name, err = s.cache.LoadString(ctx, studyNameKey(studyID), func(ctx context.Context) (string, error) {
			study, err := s.loadStudy(ctx, op, studyID)
			if err != nil {
				return "", err
			}
			return study.Name, nil
		})
		if err != nil {
			return err
		}
		// A cached entry may outlive its study.
		return s.requireStudy(ctx, op, studyID)
	})
	return name, err
}

func (s *Storage) GetStudyIDFromTrialID(ctx context.Context, trialID int64) (int64, error) {
	const op = "GetStudyIDFromTrialID"
	var id int64
	err := s.observe(ctx, op, func(ctx context.Context) error {
		var err error
		id, err = s.liveStudyOfTrial(ctx, op, trialID)
		return err
	})
	return id, err
}

// liveStudyOfTrial resolves a trial's study through the cache and confirms
// the study still exists. Study IDs are never reused, so a live study means
// the cached mapping is current.
func (s *Storage) liveStudyOfTrial(ctx context.Context, op string, trialID int64) (int64, error) {
	studyID, err := s.cache.LoadInt(ctx, trialStudyKey(trialID), func(ctx context.Context) (int64, error) {
		_, t, err := s.loadTrial(ctx, op, trialID)
		if err != nil {
			return 0, err
		}
		return t.StudyID, nil
	})
	if err != nil {
		return 0, err
	}
	if err := s.requireStudy(ctx, op, studyID); err != nil {
		if storage.IsCode(err, storage.CodeNotFound) {
			return 0, notFound(op, "trial %d not found", trialID)
		}
		return 0, err
	}
	return studyID, nil
}

func (s *Storage) GetStudyDirections(ctx context.Context, studyID int64) ([]optimization.StudyDirection, error) {
	const op = "GetStudyDirections"
	var out []optimization.StudyDirection
	err := s.observe(ctx, op, func(ctx context.Context) error {
		study, err := s.loadStudy(ctx, op, studyID)
		if err != nil {
			return err
		}
		out = study.Directions
		return nil
	})
	return out, err
}

func (s *Storage) GetStudyUserAttrs(ctx context.Context, studyID int64) (map[string]any, error) {
	const op = "GetStudyUserAttrs"
	var out map[string]any
	err := s.observe(ctx, op, func(ctx context.Context) error {
		study, err := s.loadStudy(ctx, op, studyID)
		if err != nil {
			return err
		}
		out = study.UserAttrs
		return nil
	})
	return out, err
}

func (s *Storage) GetStudySystemAttrs(ctx context.Context, studyID int64) (map[string]any, error) {
	const op = "GetStudySystemAttrs"
	var out map[string]any
	err := s.observe(ctx, op, func(ctx context.Context) error {
		study, err := s.loadStudy(ctx, op, studyID)
		if err != nil {
			return err
		}
		out = study.SystemAttrs
		return nil
	})
	return out, err
}

// GetAllStudySummaries lists every study ordered by ID.
func (s *Storage) GetAllStudySummaries(ctx context.Context, includeBestTrial bool) ([]optimization.StudySummary, error) {
	const op = "GetAllStudySummaries"
	var out []optimization.StudySummary
	err := s.observe(ctx, op, func(ctx context.Context) error {
		docs, err := s.store.Find(ctx, codec.CollectionStudy, docstore.Filter{}, docstore.FindOptions{
			Sort: []docstore.SortKey{{Field: codec.FieldStudyID, Order: docstore.Ascending}},
		})
		if err != nil {
			return err
		}
		out = make([]optimization.StudySummary, 0, len(docs))
		for _, doc := range docs {
			study, err := codec.DecodeStudy(doc)
			if err != nil {
				return err
			}
			trials, err := s.findTrials(ctx, study.ID, nil)
			if err != nil {
				return err
			}
			summary := optimization.StudySummary{
				StudyID:     study.ID,
				StudyName:   study.Name,
				Directions:  study.Directions,
				UserAttrs:   study.UserAttrs,
				SystemAttrs: study.SystemAttrs,
				NTrials:     int64(len(trials)),
			}
			for _, t := range trials {
				if t.DatetimeStart != nil && (summary.DatetimeStart == nil || t.DatetimeStart.Before(*summary.DatetimeStart)) {
					start := *t.DatetimeStart
					summary.DatetimeStart = &start
				}
			}
			if includeBestTrial && !summary.IsMultiObjective() {
				summary.BestTrial = bestTrial(trials, study.Directions[0])
			}
			out = append(out, summary)
		}
		return nil
	})
	return out, err
}
