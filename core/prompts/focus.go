package prompts

// FocusDecompositionTemplate turns a long-horizon goal into a bounded,
// ordered plan the execution side can chew through one step at a time.
const FocusDecompositionTemplate = `Break the following goal down into concrete, sequential steps.

GOAL: {{.Goal}}

Rules:
1. Produce at most {{.MaxSteps}} steps.
2. Each step must be a single, self-contained task that can be executed on its own.
3. Order the steps so that each one builds on the results of the previous ones.
4. Do not add steps for reporting or summarizing, the final step's result is the answer.

Respond ONLY with JSON in this format:
{
    "steps": [
        {"id": 1, "description": "first step"},
        {"id": 2, "description": "second step"}
    ]
}`

// FocusData feeds FocusDecompositionTemplate.
type FocusData struct {
	Goal     string
	MaxSteps int
}
