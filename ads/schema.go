package ads

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const adRequestParamsSchema = `{
  "type": "object",
  "properties": {
    "adId": {"type": "string", "minLength": 1},
    "adType": {"type": "integer"},
    "adCount": {"type": "integer", "minimum": 1},
    "adWidth": {"type": "integer", "minimum": 0},
    "adHeight": {"type": "integer", "minimum": 0},
    "adSearchKeyword": {"type": "string"}
  },
  "required": ["adId"]
}`

const adOptionsSchema = `{
  "type": "object",
  "properties": {
    "tagForChildProtection": {"type": "integer"},
    "adContentClassification": {"type": "string"},
    "nonPersonalizedAd": {"type": "integer"}
  }
}`

const adDisplayOptionsSchema = `{
  "type": "object",
  "properties": {
    "customData": {"type": "string"},
    "userId": {"type": "string"},
    "useMobileDataReminder": {"type": "boolean"},
    "mute": {"type": "boolean"},
    "audioFocusType": {"type": "integer"}
  }
}`

const advertisementSchema = `{
  "type": "object",
  "properties": {
    "adType": {"type": "integer"},
    "uniqueId": {"type": "string", "minLength": 1},
    "rewarded": {"type": "boolean"},
    "shown": {"type": "boolean"},
    "clicked": {"type": "boolean"}
  },
  "required": ["adType", "uniqueId"]
}`

var (
	requestParamsValidator  = mustSchema(adRequestParamsSchema)
	optionsValidator        = mustSchema(adOptionsSchema)
	displayOptionsValidator = mustSchema(adDisplayOptionsSchema)
	advertisementValidator  = mustSchema(advertisementSchema)
)

func mustSchema(src string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic(fmt.Sprintf("ads: invalid built-in schema: %v", err))
	}
	return schema
}

// validate checks value against schema, reporting failures as a parameter
// error naming what was checked.
func validate(schema *gojsonschema.Schema, name string, value interface{}) error {
	result, err := schema.Validate(gojsonschema.NewGoLoader(value))
	if err != nil {
		return ErrParam(fmt.Sprintf("Invalid input parameter, %s cannot be validated: %v", name, err))
	}
	if result.Valid() {
		return nil
	}
	details := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		details = append(details, desc.String())
	}
	return ErrParam(fmt.Sprintf("Invalid input parameter, %s: %s", name, strings.Join(details, "; ")))
}
