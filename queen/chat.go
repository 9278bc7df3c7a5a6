package queen

import (
	"context"
	"fmt"
	"strings"

	"github.com/c360studio/hivemind/board"
	"github.com/c360studio/hivemind/llm"
	"github.com/c360studio/hivemind/security"
)

// maxChatTurns bounds the per-user conversation history. One turn is a
// user/assistant exchange; older turns fall off the front.
const maxChatTurns = 10

type chatTurn struct {
	User      string
	Assistant string
}

type conversation struct {
	turns []chatTurn
}

func (c *conversation) push(turn chatTurn) {
	c.turns = append(c.turns, turn)
	if len(c.turns) > maxChatTurns {
		c.turns = c.turns[len(c.turns)-maxChatTurns:]
	}
}

// Chat runs a multi-turn exchange with the language model. The inbound
// message passes Gates 1-3, the reply passes Gate 4, and the prompt is
// prefixed with a per-invocation system context assembled from board
// knowledge and current system health.
func (q *Queen) Chat(ctx context.Context, userID, message string) (string, error) {
	if userID == "" || strings.TrimSpace(message) == "" {
		return "", &Error{Kind: KindInvalidInput, Message: "user id and message are required"}
	}
	if q.llm == nil {
		return "", &Error{Kind: KindBackendUnavailable, Message: "no language model configured"}
	}

	verdict := q.pipeline.Evaluate(ctx, userID, message, security.EndpointStandard)
	switch verdict.Decision {
	case security.DecisionBlock:
		return "", &Error{Kind: KindBlocked, Message: "blocked"}
	case security.DecisionQuarantine:
		return "", &Error{Kind: KindQuarantined, Message: "message held for review"}
	}

	q.mu.Lock()
	conv := q.chats[userID]
	if conv == nil {
		conv = &conversation{}
		q.chats[userID] = conv
	}
	history := make([]chatTurn, len(conv.turns))
	copy(history, conv.turns)
	q.mu.Unlock()

	prompt := buildChatPrompt(history, verdict.SanitizedText)
	reply, err := q.llm.Generate(ctx, prompt, llm.GenerateOptions{
		System: q.systemContext(ctx),
	})
	if err != nil {
		return "", &Error{Kind: KindBackendUnavailable, Message: "language model call failed: " + err.Error()}
	}

	filtered := q.filterOutbound(reply)

	q.mu.Lock()
	conv.push(chatTurn{User: verdict.SanitizedText, Assistant: filtered})
	q.mu.Unlock()

	return filtered, nil
}

// ChatHistory returns a copy of the user's recent turns.
func (q *Queen) ChatHistory(userID string) []chatTurn {
	q.mu.Lock()
	defer q.mu.Unlock()
	conv := q.chats[userID]
	if conv == nil {
		return nil
	}
	out := make([]chatTurn, len(conv.turns))
	copy(out, conv.turns)
	return out
}

func buildChatPrompt(history []chatTurn, message string) string {
	var b strings.Builder
	for _, turn := range history {
		fmt.Fprintf(&b, "User: %s\nQueen: %s\n", turn.User, turn.Assistant)
	}
	fmt.Fprintf(&b, "User: %s\nQueen:", message)
	return b.String()
}

// systemContext assembles the per-invocation system prompt: durable project
// knowledge from the board plus current system health. Board failures
// degrade to health-only context.
func (q *Queen) systemContext(ctx context.Context) string {
	var b strings.Builder
	b.WriteString("You are the hive supervisor coordinating a colony of specialist workers. ")
	b.WriteString("Answer operator questions from the knowledge and health below.\n\n")

	health := q.bus.Health(ctx)
	report := q.registry.HealthCheck()
	fmt.Fprintf(&b, "System health: bus healthy=%t backend=%s, workers healthy=%t.\n",
		health.Healthy, health.Backend, report.AllHealthy)

	posts, err := q.board.QueryPosts(ctx, board.Query{MinPriority: 1, Limit: 5})
	if err != nil || len(posts) == 0 {
		return b.String()
	}
	b.WriteString("\nRecent knowledge:\n")
	for _, post := range posts {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", post.Category, post.Title, truncateContent(post.Content, 200))
	}
	return b.String()
}

func truncateContent(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
