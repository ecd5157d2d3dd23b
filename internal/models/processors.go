package models

// Core pipeline processor names keyed into Session.ProcessorsData.
const (
	ProcessorTranscription  = "TRANSCRIPTION"
	ProcessorCategorization = "CATEGORIZATION"
	ProcessorSummarization  = "SUMMARIZATION"
	ProcessorFinalization   = "FINALIZATION"

	// Session-declared processors appended after custom prompts.
	ProcessorFinalCustomPrompt = "FINAL_CUSTOM_PROMPT"
	ProcessorCreateTasks       = "CREATE_TASKS"
)

// CoreProcessors returns the stage list stamped onto a new session
// document. The worker never reads it back; it is part of the stored
// session shape consumed by the bot and frontend, which gate their UI
// on it. Finalization itself gates on session_processors only.
func CoreProcessors() []string {
	return []string{
		ProcessorTranscription,
		ProcessorCategorization,
		ProcessorFinalization,
	}
}

// SessionProcessors builds the declared processor list for a new
// session: the configured custom prompts plus the fixed tail.
func SessionProcessors(customProcessors []string) []string {
	out := make([]string, 0, len(customProcessors)+2)
	out = append(out, customProcessors...)
	out = append(out, ProcessorFinalCustomPrompt, ProcessorCreateTasks)
	return out
}
