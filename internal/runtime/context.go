package runtime

import (
	"strings"
)

const (
	// tokens per word is 1.3, kept as a ratio so estimates stay exact integers
	tokensPerWordNum = 13
	tokensPerWordDen = 10
	charsPerWord     = 5
	// below this many tokens a truncated message is not worth sending
	minUsefulTokens = 20
)

// EstimateTokens returns ceil(words * 1.3), words split on whitespace.
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	return (words*tokensPerWordNum + tokensPerWordDen - 1) / tokensPerWordDen
}

func EstimateTotalTokens(messages []Message) int {
	total := 0
	for _, m := range messages {
		total += EstimateTokens(m.Content)
	}
	return total
}

var relevanceKeywords = map[AgentKind][]string{
	KindUI: {
		"component", "create", "add", "make", "build", "navbar", "button",
		"form", "card", "modal", "table", "sidebar", "hero", "ui",
	},
	KindAnalysis: {"analysis", "analyze", "explain", "code", "review"},
}

// RelevantFor reports whether msg belongs in the context of an agent kind.
// User messages are always relevant and the general agent sees everything.
func RelevantFor(msg Message, kind AgentKind) bool {
	if msg.Role == RoleUser {
		return true
	}
	keywords, ok := relevanceKeywords[kind]
	if !ok {
		return true
	}
	lower := strings.ToLower(msg.Content)
	if containsAny(lower, keywords) {
		return true
	}
	if kind == KindAnalysis {
		for _, a := range msg.Attachments {
			if a.Kind == AttachmentCode || a.Kind == AttachmentImage {
				return true
			}
		}
	}
	return false
}

// ContextReducer trims chat history to what one agent needs within its budget.
type ContextReducer struct{}

// Reduce keeps the newest relevant messages whose estimates fit maxTokens.
// The first message that does not fit is truncated when enough budget is left.
// The result is in chronological order and history is never modified.
func (ContextReducer) Reduce(history []Message, kind AgentKind, maxTokens int) []Message {
	relevant := make([]Message, 0, len(history))
	for _, m := range history {
		if RelevantFor(m, kind) {
			relevant = append(relevant, m)
		}
	}

	picked := make([]Message, 0, len(relevant))
	total := 0
	for i := len(relevant) - 1; i >= 0; i-- {
		m := relevant[i]
		cost := EstimateTokens(m.Content)
		if total+cost <= maxTokens {
			picked = append(picked, m)
			total += cost
			continue
		}
		if compressed, ok := compressMessage(m, maxTokens-total); ok {
			picked = append(picked, compressed)
		}
		break
	}

	for i, j := 0, len(picked)-1; i < j; i, j = i+1, j-1 {
		picked[i], picked[j] = picked[j], picked[i]
	}
	return picked
}

func compressMessage(m Message, remaining int) (Message, bool) {
	if remaining < minUsefulTokens {
		return Message{}, false
	}
	maxChars := remaining * tokensPerWordDen / tokensPerWordNum * charsPerWord
	runes := []rune(m.Content)
	if len(runes) <= maxChars {
		return m, true
	}
	m.Content = string(runes[:maxChars-3]) + "..."
	return m, true
}
