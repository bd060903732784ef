package learnctx

import "github.com/nidhogg/nuka-tutor/internal/knowledge"

// EstimateTokens is a rough token count: about four characters per token.
func EstimateTokens(s string) int {
	n := len(s)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

// RecentMessages returns at most the last limit messages, dropping the
// oldest of those until the total fits within budget tokens. The newest
// message is always kept. A non-positive budget disables the token check.
func RecentMessages(msgs []knowledge.Message, limit, budget int) []knowledge.Message {
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	if budget <= 0 {
		return append([]knowledge.Message(nil), msgs...)
	}

	total := 0
	for _, m := range msgs {
		total += EstimateTokens(m.Content)
	}
	start := 0
	for total > budget && start < len(msgs)-1 {
		total -= EstimateTokens(msgs[start].Content)
		start++
	}
	return append([]knowledge.Message(nil), msgs[start:]...)
}
