package models

// Turn types recorded with every persisted conversation row.
const (
	TurnCasual        = "CASUAL"
	TurnTechnical     = "TECHNICAL"
	TurnChat          = "CHAT"
	TurnImageAnalysis = "IMAGE_ANALYSIS"
)

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ContextSeparator joins formatted passages in the retrieval context.
const ContextSeparator = "\n\n---\n\n"

// Fixed user-facing replies. These are normal control flow, not errors.
const (
	ReplyNoContext = "I couldn't find relevant information about this. " +
		"For specific assistance, please contact our support team."
	ReplyAccessDenied        = "Your account has been suspended. Please contact support."
	ReplyEmptyInput          = "Please provide a question or upload an image."
	ReplyVisionNotConfigured = "Image analysis is not configured. Please contact the administrator."
)

// SupportedImageExts lists attachment extensions routed to the vision
// extractor. Anything else except .pdf and .txt is rejected.
var SupportedImageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
	".bmp":  true,
}

const ClassificationPromptTemplate = `Classify the following user message as either "CASUAL" or "TECHNICAL".

CASUAL examples:
- Greetings: "hello", "hi", "hey", "good morning"
- Small talk: "how are you?", "what's up?", "thanks"
- General questions: "who made you?", "what can you do?"
- Chitchat: "tell me a joke", "what's your name?"

TECHNICAL examples:
- Product questions: "how do I download a dataset?"
- Troubleshooting: "I'm getting an error", "login not working"
- API/Code questions: "show me the API code", "how to authenticate"
- Feature questions: "where is the export option?", "how to use the dashboard?"

User message: "%s"

Respond with ONLY one word: CASUAL or TECHNICAL`

const CasualSystemPrompt = `You are a friendly and helpful support assistant.
Respond naturally like a human support agent. Keep responses brief and engaging.
If asked what you can help with, mention dataset access, API usage, troubleshooting
and general platform navigation. Always stay helpful and positive.`

const TechnicalSystemPrompt = `You are a technical support expert providing precise, actionable solutions.
Answer as an expert with direct knowledge. Never say "based on documentation" or mention
that you are referencing any source. Stick only to information in the documentation provided.
If the documentation does not cover the question, say that the user should contact support.
Provide complete, working code examples where relevant and use numbered steps for guides.`

const ExtractionSystemPrompt = `You are a vision assistant analyzing images for customer support.
Extract ALL visible information: text, labels, buttons, error messages, UI elements,
visual state, context clues and data values. Be precise and comprehensive.`

// ExtractionInstruction is the per-file user prompt sent to the
// extractor; relatedTo carries the user's text when present.
const (
	ExtractionInstructionBase    = "Extract all visible information from this image"
	ExtractionInstructionRelated = " related to: "
)
