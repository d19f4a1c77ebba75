package submission

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed reply.schema.json
var replySchemaJSON string

const replySchemaURL = "https://mari-voice.local/schemas/webhook-reply.json"

func compileReplySchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(replySchemaURL, strings.NewReader(replySchemaJSON)); err != nil {
		return nil, fmt.Errorf("add reply schema resource: %w", err)
	}
	schema, err := compiler.Compile(replySchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile reply schema: %w", err)
	}
	return schema, nil
}

// decodeReply parses a JSON reply document. Only malformed JSON is an error.
func decodeReply(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("malformed json: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("malformed json: trailing data")
	}
	return doc, nil
}

// replyShapeMismatch reports how doc deviates from the documented reply
// shapes, or nil. Deviating replies still go through the strategies.
func replyShapeMismatch(schema *jsonschema.Schema, doc any) error {
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("reply shape: %w", err)
	}
	return nil
}
