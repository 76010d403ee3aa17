package llm

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/require"
)

type mockClient struct {
	completeFunc func(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	streamFunc   func(ctx context.Context, req openai.ChatCompletionRequest) (ChatStream, error)
}

func (m *mockClient) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return m.completeFunc(ctx, req)
}

func (m *mockClient) CreateChatCompletionStream(ctx context.Context, req openai.ChatCompletionRequest) (ChatStream, error) {
	return m.streamFunc(ctx, req)
}

// mockStream yields its fragments in order, then errs (io.EOF by default).
type mockStream struct {
	fragments []string
	err       error
	closed    bool
}

func (m *mockStream) Recv() (openai.ChatCompletionStreamResponse, error) {
	if len(m.fragments) == 0 {
		if m.err != nil {
			return openai.ChatCompletionStreamResponse{}, m.err
		}
		return openai.ChatCompletionStreamResponse{}, io.EOF
	}
	f := m.fragments[0]
	m.fragments = m.fragments[1:]
	return openai.ChatCompletionStreamResponse{
		Choices: []openai.ChatCompletionStreamChoice{{Delta: openai.ChatCompletionStreamChoiceDelta{Content: f}}},
	}, nil
}

func (m *mockStream) Close() error {
	m.closed = true
	return nil
}

func TestComplete_UsesLanguageHint(t *testing.T) {
	var captured openai.ChatCompletionRequest
	g := NewGenerator(&mockClient{
		completeFunc: func(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
			captured = req
			return openai.ChatCompletionResponse{
				Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "Bonjour!"}}},
			}, nil
		},
	}, "gpt-3.5-turbo")

	reply := g.Complete(context.Background(), "salut", nil, "fr")
	require.False(t, reply.Fallback)
	require.Equal(t, "Bonjour!", reply.Text)
	require.Contains(t, captured.Messages[0].Content, "French")
	require.Contains(t, captured.Messages[len(captured.Messages)-1].Content, "[French] salut")
}

func TestComplete_HistoryPrecedesPrompt(t *testing.T) {
	var captured openai.ChatCompletionRequest
	g := NewGenerator(&mockClient{
		completeFunc: func(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
			captured = req
			return openai.ChatCompletionResponse{
				Choices: []openai.ChatCompletionChoice{{Message: openai.ChatCompletionMessage{Content: "ok"}}},
			}, nil
		},
	}, "gpt-3.5-turbo")

	history := []Turn{
		{Role: TurnRoleUser, Content: "one"},
		{Role: TurnRoleAssistant, Content: "two"},
	}
	g.Complete(context.Background(), "three", history, "en")
	require.Len(t, captured.Messages, 4) // system + 2 history + prompt
	require.Equal(t, "one", captured.Messages[1].Content)
	require.Equal(t, "two", captured.Messages[2].Content)
}

func TestComplete_FallbackOnError(t *testing.T) {
	g := NewGenerator(&mockClient{
		completeFunc: func(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
			return openai.ChatCompletionResponse{}, errors.New("boom")
		},
	}, "gpt-3.5-turbo")

	reply := g.Complete(context.Background(), "hello there", nil, "en")
	require.True(t, reply.Fallback)
	require.NotEmpty(t, reply.Text)
	require.Equal(t, "Hello! How can I help you?", reply.Text)
}

func TestComplete_NilClientFallsBack(t *testing.T) {
	g := NewGenerator(nil, "gpt-3.5-turbo")
	reply := g.Complete(context.Background(), "thank you", nil, "en")
	require.True(t, reply.Fallback)
	require.Equal(t, "You're welcome!", reply.Text)
}

func TestStream_ForwardsFragmentsInOrder(t *testing.T) {
	g := NewGenerator(&mockClient{
		streamFunc: func(ctx context.Context, req openai.ChatCompletionRequest) (ChatStream, error) {
			return &mockStream{fragments: []string{"Hel", "lo ", "world"}}, nil
		},
	}, "gpt-3.5-turbo")

	var got []string
	reply := g.Stream(context.Background(), "hi", nil, "en", func(f string) bool {
		got = append(got, f)
		return true
	})
	require.False(t, reply.Fallback)
	require.Equal(t, []string{"Hel", "lo ", "world"}, got)
	require.Equal(t, "Hello world", reply.Text)
}

func TestStream_StopsAtFragmentBoundary(t *testing.T) {
	g := NewGenerator(&mockClient{
		streamFunc: func(ctx context.Context, req openai.ChatCompletionRequest) (ChatStream, error) {
			return &mockStream{fragments: []string{"one", "two", "three"}}, nil
		},
	}, "gpt-3.5-turbo")

	var got []string
	reply := g.Stream(context.Background(), "hi", nil, "en", func(f string) bool {
		if len(got) == 2 {
			return false
		}
		got = append(got, f)
		return true
	})
	require.Equal(t, []string{"one", "two"}, got)
	require.Equal(t, "onetwo", reply.Text)
}

func TestStream_FallbackWhenOpenFails(t *testing.T) {
	g := NewGenerator(&mockClient{
		streamFunc: func(ctx context.Context, req openai.ChatCompletionRequest) (ChatStream, error) {
			return nil, errors.New("unavailable")
		},
	}, "gpt-3.5-turbo")

	var got []string
	reply := g.Stream(context.Background(), "goodbye", nil, "en", func(f string) bool {
		got = append(got, f)
		return true
	})
	require.True(t, reply.Fallback)
	require.Len(t, got, 1)
	require.Equal(t, "Goodbye! Have a great day!", reply.Text)
}

func TestStream_MidStreamErrorKeepsForwarded(t *testing.T) {
	g := NewGenerator(&mockClient{
		streamFunc: func(ctx context.Context, req openai.ChatCompletionRequest) (ChatStream, error) {
			return &mockStream{fragments: []string{"partial "}, err: errors.New("cut off")}, nil
		},
	}, "gpt-3.5-turbo")

	var got []string
	reply := g.Stream(context.Background(), "hi", nil, "en", func(f string) bool {
		got = append(got, f)
		return true
	})
	require.False(t, reply.Fallback)
	require.Equal(t, []string{"partial "}, got)
	require.Equal(t, "partial ", reply.Text)
}

func TestStream_VoicePromptMentionsLanguage(t *testing.T) {
	var captured openai.ChatCompletionRequest
	g := NewGenerator(&mockClient{
		streamFunc: func(ctx context.Context, req openai.ChatCompletionRequest) (ChatStream, error) {
			captured = req
			return &mockStream{fragments: []string{"oui"}}, nil
		},
	}, "gpt-3.5-turbo")

	g.Stream(context.Background(), "salut", nil, "fr", func(string) bool { return true })
	require.Contains(t, captured.Messages[0].Content, "French")
	require.True(t, captured.Stream)
}
