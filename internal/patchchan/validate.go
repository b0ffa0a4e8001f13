package patchchan

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"taskstream/internal/domain"
)

// patchSchema constrains an incoming batch to a well-formed RFC 6902
// operation array before it is decoded and applied.
const patchSchema = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["op", "path"],
		"properties": {
			"op": {"enum": ["add", "remove", "replace", "move", "copy", "test"]},
			"path": {"type": "string"},
			"from": {"type": "string"}
		}
	}
}`

var compiledPatchSchema = mustCompilePatchSchema()

func mustCompilePatchSchema() *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("patch.json", strings.NewReader(patchSchema)); err != nil {
		panic(fmt.Sprintf("add patch schema resource: %v", err))
	}
	return compiler.MustCompile("patch.json")
}

// ValidateBatch checks that raw is a structurally valid patch batch.
// Returns a domain.ErrBadPatch-wrapped error otherwise.
func ValidateBatch(raw json.RawMessage) error {
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return domain.NewDomainError("patchchan.ValidateBatch", domain.ErrBadPatch, err.Error())
	}
	if err := compiledPatchSchema.Validate(v); err != nil {
		return domain.NewDomainError("patchchan.ValidateBatch", domain.ErrBadPatch, err.Error())
	}
	return nil
}
