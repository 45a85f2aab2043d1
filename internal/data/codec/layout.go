// Package codec maps optimization records to and from store documents.
//
// Enumerations are stored as small integer codes, timestamps as float epoch
// seconds, parameters as internal floats paired with a distribution
// descriptor. Optional fields are omitted rather than written as null.
package codec

// Collections.
const (
	CollectionStudy   = "study"
	CollectionTrial   = "trial"
	CollectionRetired = "retired_id"
)

// Study fields.
const (
	FieldStudyID     = "study_id"
	FieldStudyName   = "study_name"
	FieldDirections  = "directions"
	FieldUserAttrs   = "user_attrs"
	FieldSystemAttrs = "system_attrs"
)

// Trial fields; trials also carry FieldStudyID and the attr fields.
const (
	FieldTrialID            = "trial_id"
	FieldNumber             = "number"
	FieldState              = "state"
	FieldValue              = "value"
	FieldValues             = "values"
	FieldParams             = "params"
	FieldDistributions      = "distributions"
	FieldIntermediateValues = "intermediate_values"
	FieldDatetimeStart      = "datetime_start"
	FieldDatetimeComplete   = "datetime_complete"
)

// Retired-ID marker fields. FieldRetiredCollection names the collection
// whose ID field the marker floors.
const (
	FieldRetiredCollection = "collection"
	FieldRetiredID         = "id"
)

func ParamPath(name string) string        { return FieldParams + "." + EscapeKey(name) }
func DistributionPath(name string) string { return FieldDistributions + "." + EscapeKey(name) }
func UserAttrPath(key string) string      { return FieldUserAttrs + "." + EscapeKey(key) }
func SystemAttrPath(key string) string    { return FieldSystemAttrs + "." + EscapeKey(key) }

func IntermediateValuePath(step int64) string {
	return FieldIntermediateValues + "." + stepKey(step)
}
