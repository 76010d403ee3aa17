package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/sashabaranov/go-openai"

	"github.com/aichat/relay/internal/logger"
)

// Turn is one role-tagged utterance exchanged with the generator.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	TurnRoleUser      = "user"
	TurnRoleAssistant = "assistant"
)

// Reply is the outcome of a generation request. Fallback is true when the
// generator was unavailable or failed and Text holds the deterministic
// fallback instead; the caller always gets a non-empty Text either way.
type Reply struct {
	Text     string
	Fallback bool
}

// languageNames maps a language hint to the language name used in prompts.
var languageNames = map[string]string{
	"bm": "Bambara (Bamanankan)",
	"ff": "Fulfulde",
	"sw": "Swahili",
	"yo": "Yoruba",
	"ha": "Hausa",
	"ig": "Igbo",
	"am": "Amharic",
	"zu": "Zulu",
	"xh": "Xhosa",
	"en": "English",
	"fr": "French",
	"ar": "Arabic",
	"es": "Spanish",
	"pt": "Portuguese",
	"zh": "Chinese",
	"hi": "Hindi",
	"ja": "Japanese",
	"ko": "Korean",
	"de": "German",
	"ru": "Russian",
}

func languageName(code string) string {
	if name, ok := languageNames[code]; ok {
		return name
	}
	return "English"
}

// Generator produces replies from a Client, degrading to a deterministic
// fallback whenever the client is absent or fails.
type Generator struct {
	client Client
	model  string
}

// NewGenerator creates a generator. client may be nil, in which case every
// request takes the fallback path.
func NewGenerator(client Client, model string) *Generator {
	return &Generator{client: client, model: model}
}

func chatSystemPrompt(lang string) string {
	name := languageName(lang)
	return fmt.Sprintf(`You are a helpful AI assistant. The user is communicating with you in %[1]s.
Please respond in the same language (%[1]s) that the user is using.

Important guidelines:
- Always respond in %[1]s, not English
- Be respectful of the user's language and culture
- If you don't understand something, ask for clarification in %[1]s
- Keep your response concise and natural
- Use appropriate tone for the language and culture`, name)
}

func voiceSystemPrompt(lang string) string {
	name := languageName(lang)
	return fmt.Sprintf(`You are a helpful voice assistant speaking in %[1]s.
Keep responses brief (1-3 sentences) and natural for voice conversation. Respond ONLY in %[1]s.`, name)
}

func buildMessages(system, prompt string, history []Turn, lang string) []openai.ChatCompletionMessage {
	msgs := make([]openai.ChatCompletionMessage, 0, len(history)+2)
	msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: system})
	for _, t := range history {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: t.Role, Content: t.Content})
	}
	msgs = append(msgs, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: fmt.Sprintf("[%s] %s", languageName(lang), prompt),
	})
	return msgs
}

// Complete produces a single finished reply for the text pipeline.
func (g *Generator) Complete(ctx context.Context, prompt string, history []Turn, lang string) Reply {
	if g.client == nil {
		logger.L.Warn("generator unavailable, using fallback reply")
		return Reply{Text: fallbackReply(prompt), Fallback: true}
	}

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    buildMessages(chatSystemPrompt(lang), prompt, history, lang),
		Temperature: 0.7,
		MaxTokens:   1000,
	})
	if err != nil {
		logger.L.Error("completion failed, using fallback reply", "error", err)
		return Reply{Text: fallbackReply(prompt), Fallback: true}
	}
	if len(resp.Choices) == 0 {
		return Reply{Text: fallbackReply(prompt), Fallback: true}
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return Reply{Text: fallbackReply(prompt), Fallback: true}
	}
	return Reply{Text: text}
}

// Stream produces a reply as a sequence of fragments for the voice pipeline.
// onFragment is called once per fragment in arrival order and reports whether
// the fragment was forwarded; returning false stops the stream and excludes
// that fragment. The returned Reply carries the concatenation of all
// forwarded fragments.
func (g *Generator) Stream(ctx context.Context, prompt string, history []Turn, lang string, onFragment func(string) bool) Reply {
	if g.client == nil {
		text := fallbackReply(prompt)
		onFragment(text)
		return Reply{Text: text, Fallback: true}
	}

	stream, err := g.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:       g.model,
		Messages:    buildMessages(voiceSystemPrompt(lang), prompt, history, lang),
		Temperature: 0.8,
		MaxTokens:   150,
		Stream:      true,
	})
	if err != nil {
		logger.L.Error("stream open failed, using fallback reply", "error", err)
		text := fallbackReply(prompt)
		onFragment(text)
		return Reply{Text: text, Fallback: true}
	}
	defer stream.Close()

	var sb strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			logger.L.Error("stream receive failed", "error", err)
			if sb.Len() == 0 {
				text := fallbackReply(prompt)
				onFragment(text)
				return Reply{Text: text, Fallback: true}
			}
			// Keep what was already forwarded.
			break
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		fragment := chunk.Choices[0].Delta.Content
		if fragment == "" {
			continue
		}
		// Forward first: the concatenation must cover exactly the
		// fragments the client was sent.
		if !onFragment(fragment) {
			break
		}
		sb.WriteString(fragment)
	}

	if sb.Len() == 0 {
		text := fallbackReply(prompt)
		onFragment(text)
		return Reply{Text: text, Fallback: true}
	}
	return Reply{Text: sb.String()}
}

// fallbackReply is the deterministic reply used whenever generation is
// unavailable or fails.
func fallbackReply(prompt string) string {
	message := strings.ToLower(prompt)
	switch {
	case strings.Contains(message, "hello"), strings.Contains(message, "hi"), strings.Contains(message, "bonjour"):
		return "Hello! How can I help you?"
	case strings.Contains(message, "help"):
		return "I'm here to help. What do you need?"
	case strings.Contains(message, "thank"):
		return "You're welcome!"
	case strings.Contains(message, "bye"), strings.Contains(message, "goodbye"):
		return "Goodbye! Have a great day!"
	default:
		return "I understand you're trying to communicate. Let me help you. Could you clarify your question?"
	}
}
