package codec

import (
	"github.com/yungbote/trialstore/internal/data/docstore"
	"github.com/yungbote/trialstore/internal/domain/optimization"
)

// EncodeStudy renders a study document. Unset directions and empty attrs are
// omitted.
func EncodeStudy(s *optimization.Study) (docstore.Document, error) {
	doc := docstore.Document{
		FieldStudyID:   s.ID,
		FieldStudyName: s.Name,
	}
	if len(s.Directions) > 0 && !optimization.AllNotSet(s.Directions) {
		ds, err := EncodeDirections(s.Directions)
		if err != nil {
			return nil, err
		}
		doc[FieldDirections] = ds
	}
	if err := putAttrs(doc, FieldUserAttrs, s.UserAttrs); err != nil {
		return nil, err
	}
	if err := putAttrs(doc, FieldSystemAttrs, s.SystemAttrs); err != nil {
		return nil, err
	}
	return doc, nil
}

func DecodeStudy(doc docstore.Document) (*optimization.Study, error) {
	id, ok := DecodeInt(doc[FieldStudyID])
	if !ok {
		return nil, corrupt(FieldStudyID, "missing or non-integer study_id %v", doc[FieldStudyID])
	}
	name, ok := doc[FieldStudyName].(string)
	if !ok {
		return nil, corrupt(FieldStudyName, "study %d has no name", id)
	}
	directions, err := DecodeDirections(doc[FieldDirections])
	if err != nil {
		return nil, err
	}
	user, err := DecodeAttrs(FieldUserAttrs, doc[FieldUserAttrs])
	if err != nil {
		return nil, err
	}
	system, err := DecodeAttrs(FieldSystemAttrs, doc[FieldSystemAttrs])
	if err != nil {
		return nil, err
	}
	return &optimization.Study{
		ID:          id,
		Name:        name,
		Directions:  directions,
		UserAttrs:   user,
		SystemAttrs: system,
	}, nil
}

func putAttrs(doc docstore.Document, field string, attrs map[string]any) error {
	enc, err := EncodeAttrs(field, attrs)
	if err != nil {
		return err
	}
	if enc != nil {
		doc[field] = enc
	}
	return nil
}
