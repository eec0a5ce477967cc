package resolver

import "strings"

// markdownReplacer escapes the characters that break the chat platform's
// legacy markdown dialect.
var markdownReplacer = strings.NewReplacer(
	"_", "\\_",
	"*", "\\*",
	"`", "\\`",
	"[", "\\[",
)

// EscapeMarkdown makes a symbol safe to embed in an alert message.
func EscapeMarkdown(s string) string {
	return markdownReplacer.Replace(s)
}
