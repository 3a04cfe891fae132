package convert

import (
	"github.com/MrWong99/murmur/pkg/provider/llm"
)

// DefaultSystemPrompt frames the assistant's role when none is configured.
const DefaultSystemPrompt = "You are a helpful voice assistant. The user speaks a question and may " +
	"provide some text from their clipboard as context. Answer in plain spoken " +
	"sentences without markdown, lists or code blocks."

// BuildPrompt returns the completion request for one generation task. The
// user message has the layout
//
//	CONTEXTS:
//	<context>
//
//	QUESTION:
//	<question>
func BuildPrompt(systemPrompt, context, question string) llm.CompletionRequest {
	return llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: "CONTEXTS:\n" + context + "\n\nQUESTION:\n" + question,
		}},
	}
}
