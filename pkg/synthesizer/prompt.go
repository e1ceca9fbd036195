package synthesizer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kkkaaai/blockforge/pkg/models"
)

const creationSystemPrompt = `You write a single Python function named execute(inputs, context) that
returns a dict of outputs matching the declared output schema. Respond
with nothing but a JSON object: {"source_code": "<python source>"}.
Do not import modules outside the allowed set. Never touch the
filesystem or network unless explicitly permitted.`

// buildPrompt assembles the creation prompt from spec.md §4.C step 1:
// the request plus environment facts (allowed/banned modules), and,
// on retry, the prior failure appended as compact error context.
func (s *Synthesizer) buildPrompt(req models.SynthesisRequest, failure string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Purpose: %s\n", req.Purpose)
	fmt.Fprintf(&b, "Inputs: %s\n", strings.Join(req.Inputs, ", "))
	fmt.Fprintf(&b, "Outputs: %s\n", strings.Join(req.Outputs, ", "))

	inputSchema, _ := json.Marshal(req.InputSchema)
	outputSchema, _ := json.Marshal(req.OutputSchema)
	fmt.Fprintf(&b, "input_schema: %s\n", inputSchema)
	fmt.Fprintf(&b, "output_schema: %s\n", outputSchema)

	if req.TestInput != nil {
		testInput, _ := json.Marshal(req.TestInput)
		fmt.Fprintf(&b, "test_input: %s\n", testInput)
	}
	if req.ExpectedOutput != nil {
		expectedOutput, _ := json.Marshal(req.ExpectedOutput)
		fmt.Fprintf(&b, "expected_output: %s\n", expectedOutput)
	}
	if len(req.AllowedModules) > 0 {
		fmt.Fprintf(&b, "allowed_modules: %s\n", strings.Join(req.AllowedModules, ", "))
	}
	if len(req.BannedModules) > 0 {
		fmt.Fprintf(&b, "banned_modules: %s\n", strings.Join(req.BannedModules, ", "))
	}

	if failure != "" {
		fmt.Fprintf(&b, "\nThe previous attempt failed:\n%s\nFix the implementation and try again.\n", failure)
	}

	return b.String()
}
