package queue

// Queue names. One consumer pool per queue, each with its own
// concurrency ceiling.
const (
	QueueCommon         = "voicedesk--common"
	QueueVoice          = "voicedesk--voice"
	QueueProcessors     = "voicedesk--processors"
	QueuePostprocessors = "voicedesk--postprocessors"
	QueueEvents         = "voicedesk--events"
	QueueNotifies       = "voicedesk--notifies"
)

// Job names, grouped by queue.
const (
	JobProcessing           = "PROCESSING"
	JobCleanupEmptySessions = "CLEANUP_EMPTY_SESSIONS"
	JobDoneMultiprompt      = "DONE_MULTIPROMPT"

	JobTranscribe = "TRANSCRIBE"

	JobCategorize = "CATEGORIZE"
	JobSummarize  = "SUMMARIZE"

	JobAllCustomPrompts  = "ALL_CUSTOM_PROMPTS"
	JobOneCustomPrompt   = "ONE_CUSTOM_PROMPT"
	JobFinalCustomPrompt = "FINAL_CUSTOM_PROMPT"
	JobAudioMerging      = "AUDIO_MERGING"
	JobCreateTasks       = "CREATE_TASKS"
	JobLinkAttachments   = "LINK_ATTACHMENTS"

	JobSendToSocket = "SEND_TO_SOCKET"

	JobSessionDone             = "SESSION_DONE"
	JobSessionReadyToSummarize = "SESSION_READY_TO_SUMMARIZE"
)

// Default consumer concurrency per queue. Expensive work runs narrow,
// event dispatch runs wider.
const (
	DefaultCommonConcurrency         = 2
	DefaultVoiceConcurrency          = 2
	DefaultProcessorsConcurrency     = 1
	DefaultPostprocessorsConcurrency = 1
	DefaultEventsConcurrency         = 2
	DefaultNotifiesConcurrency       = 1
)
