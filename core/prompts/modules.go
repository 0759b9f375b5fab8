package prompts

// InsightSolveTemplate asks for a worked solution to a background problem.
const InsightSolveTemplate = `You are a deep-analysis module. Solve the following complex problem.

## Problem:
{{.Problem}}

{{if .Context}}## Context:
{{.Context}}

{{end}}## Instructions:
1. Analyze the problem thoroughly
2. Consider different approaches
3. Pick the best one
4. Explain the solution briefly and clearly

## Solution:`

// InsightData feeds InsightSolveTemplate.
type InsightData struct {
	Problem string
	Context string
}

// PredictionTemplate asks the model to guess the next input from recent
// history. The reply must use the three labeled lines so it can be parsed.
const PredictionTemplate = `Analyze the input history and predict the next input.

History:
{{.History}}

{{if .Context}}Additional context: {{.Context}}

{{end}}Answer in this format:
Prediction: [the predicted input]
Confidence: [0.0-1.0]
Reasoning: [short explanation]`

// PredictionData feeds PredictionTemplate.
type PredictionData struct {
	History string
	Context string
}
