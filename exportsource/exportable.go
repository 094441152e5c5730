package exportsource

import (
	"errors"

	jsoniter "github.com/json-iterator/go"
)

var ErrInvalidPayloadJSON = errors.New("payload json is not valid")
var ErrEmptyObjectType = errors.New("object type must not be empty")

// Exportables is an alias type for a slice of Exportable
type Exportables = []Exportable

// Exportable is a DTO (data transfer object) produced by a PagedSource for one exported record.
//
// It is built on scalars to be completely agnostic of the entity implementations in the client code.
// The composite aggregator never inspects it, it only counts and concatenates.
//
// While its properties are exported, it should only be constructed with the supplied factory method BuildExportable.
type Exportable struct {
	ObjectType  string
	ObjectID    string
	PayloadJSON []byte
}

// BuildExportable is a factory method for Exportable.
//
// Returns an error if objectType is empty or payloadJSON is not valid JSON.
func BuildExportable(objectType string, objectID string, payloadJSON []byte) (Exportable, error) {
	if objectType == "" {
		return Exportable{}, ErrEmptyObjectType
	}

	if !jsoniter.ConfigFastest.Valid(payloadJSON) {
		return Exportable{}, ErrInvalidPayloadJSON
	}

	return Exportable{
		ObjectType:  objectType,
		ObjectID:    objectID,
		PayloadJSON: payloadJSON,
	}, nil
}

// BuildExportableFromValue marshals value with json-iterator and builds an Exportable from it.
func BuildExportableFromValue(objectType string, objectID string, value any) (Exportable, error) {
	payloadJSON, err := jsoniter.ConfigFastest.Marshal(value)
	if err != nil {
		return Exportable{}, errors.Join(ErrMarshalingPayloadFailed, err)
	}

	return BuildExportable(objectType, objectID, payloadJSON)
}
