package prompts

// CompressionTemplate asks the model to fold an older stretch of dialog into
// a short summary that can stand in for it.
const CompressionTemplate = `Compress the following conversation history while keeping the key information:
- Important facts and decisions
- Key questions asked by the user
- Results of actions that were performed
- Context required to continue the conversation

Reply with a short summary, in the same language the conversation is written in.

CONVERSATION:
{{.History}}

SUMMARY:`

// CompressData feeds CompressionTemplate.
type CompressData struct {
	History string
}
