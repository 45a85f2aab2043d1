package engine

import (
	"github.com/yungbote/trialstore/internal/data/codec"
	"github.com/yungbote/trialstore/internal/data/docstore"
)

// DefaultIndexes are the store-level constraints the engine relies on. The
// unique ones turn allocation races into duplicate-key errors.
func DefaultIndexes() []docstore.Index {
	return []docstore.Index{
		{Collection: codec.CollectionStudy, Fields: []string{codec.FieldStudyID}, Unique: true},
		{Collection: codec.CollectionStudy, Fields: []string{codec.FieldStudyName}, Unique: true},
		{Collection: codec.CollectionTrial, Fields: []string{codec.FieldTrialID}, Unique: true},
		{Collection: codec.CollectionTrial, Fields: []string{codec.FieldStudyID, codec.FieldNumber}, Unique: true},
		{Collection: codec.CollectionTrial, Fields: []string{codec.FieldStudyID}},
		{Collection: codec.CollectionRetired, Fields: []string{codec.FieldRetiredCollection}},
	}
}
