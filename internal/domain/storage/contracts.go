package storage

import (
	"context"

	"github.com/yungbote/trialstore/internal/domain/optimization"
)

// Storage is the full surface the optimization driver uses. Every method is
// a required capability; implementations have no "not implemented" paths.
type Storage interface {
	CreateStudy(ctx context.Context, name string) (int64, error)
	DeleteStudy(ctx context.Context, studyID int64) error
	SetStudyUserAttr(ctx context.Context, studyID int64, key string, value any) error
	SetStudySystemAttr(ctx context.Context, studyID int64, key string, value any) error
	SetStudyDirections(ctx context.Context, studyID int64, directions []optimization.StudyDirection) error

	GetStudyIDFromName(ctx context.Context, name string) (int64, error)
	GetStudyIDFromTrialID(ctx context.Context, trialID int64) (int64, error)
	GetStudyNameFromID(ctx context.Context, studyID int64) (string, error)
	GetStudyDirections(ctx context.Context, studyID int64) ([]optimization.StudyDirection, error)
	GetStudyUserAttrs(ctx context.Context, studyID int64) (map[string]any, error)
	GetStudySystemAttrs(ctx context.Context, studyID int64) (map[string]any, error)
	GetAllStudySummaries(ctx context.Context, includeBestTrial bool) ([]optimization.StudySummary, error)

	CreateTrial(ctx context.Context, studyID int64, template *optimization.Trial) (int64, error)
	SetTrialParam(ctx context.Context, trialID int64, name string, internal float64, dist optimization.Distribution) error
	SetTrialStateValues(ctx context.Context, trialID int64, state optimization.TrialState, values []float64) (bool, error)
	SetTrialIntermediateValue(ctx context.Context, trialID int64, step int64, value float64) error
	SetTrialUserAttr(ctx context.Context, trialID int64, key string, value any) error
	SetTrialSystemAttr(ctx context.Context, trialID int64, key string, value any) error

	GetTrial(ctx context.Context, trialID int64) (*optimization.Trial, error)
	GetAllTrials(ctx context.Context, studyID int64, states []optimization.TrialState) ([]*optimization.Trial, error)
	GetNTrials(ctx context.Context, studyID int64, states []optimization.TrialState) (int64, error)
	GetBestTrial(ctx context.Context, studyID int64) (*optimization.Trial, error)
	GetTrialIDFromStudyIDTrialNumber(ctx context.Context, studyID, number int64) (int64, error)
	GetTrialNumberFromID(ctx context.Context, trialID int64) (int64, error)
	GetTrialParam(ctx context.Context, trialID int64, name string) (float64, error)
}
