package selfeval

import (
	"github.com/invopop/jsonschema"
)

// Payload is the object the Stage-A model is asked to produce
type Payload struct {
	Answer         string   `json:"answer" jsonschema:"required,description=Complete answer to the user's question"`
	Confidence     float64  `json:"confidence" jsonschema:"required,minimum=0,maximum=1,description=Self-reported confidence in the answer"`
	ShouldEscalate bool     `json:"should_escalate" jsonschema:"required,description=Whether a more capable model should answer instead"`
	Reasons        []string `json:"reasons" jsonschema:"maxItems=5,description=Short reasons supporting the escalation recommendation"`
}

// Schema returns the JSON Schema of the Stage-A payload
func Schema() *jsonschema.Schema {
	r := &jsonschema.Reflector{
		DoNotReference:             true,
		ExpandedStruct:             true,
		RequiredFromJSONSchemaTags: true,
	}
	s := r.Reflect(&Payload{})
	s.Title = "Stage A self-evaluation"
	return s
}
