package trinity

import (
	"regexp"
	"strings"
)

// Intent is the detected purpose of the original user prompt. The translator
// applies intent-specific scrubbing before text is returned to the caller.
type Intent string

// Recognized intents.
const (
	IntentQuestion Intent = "question"
	IntentCommand  Intent = "command"
	IntentChat     Intent = "chat"
)

var commandVerbs = []string{
	"run", "execute", "build", "create", "delete", "deploy", "generate",
	"install", "update", "write", "fix", "refactor",
}

// DetectIntent classifies a prompt with a small heuristic tag set.
func DetectIntent(prompt string) Intent {
	normalized := strings.ToLower(strings.TrimSpace(prompt))
	if normalized == "" {
		return IntentChat
	}
	if strings.HasSuffix(normalized, "?") ||
		strings.HasPrefix(normalized, "what") ||
		strings.HasPrefix(normalized, "why") ||
		strings.HasPrefix(normalized, "how") ||
		strings.HasPrefix(normalized, "when") ||
		strings.HasPrefix(normalized, "where") ||
		strings.HasPrefix(normalized, "who") {
		return IntentQuestion
	}
	firstWord := strings.Fields(normalized)[0]
	for _, verb := range commandVerbs {
		if firstWord == verb {
			return IntentCommand
		}
	}
	return IntentChat
}

// Scrubbing patterns. Each rule only ever removes characters; Translate
// relies on that to iterate them to a fixed point.
var (
	// Bracketed system/audit tags at line starts: "[SYSTEM] ...", "[AUDIT] ...".
	systemTagRe = regexp.MustCompile(`(?m)^\[(?:SYSTEM|AUDIT|INTERNAL|TELEMETRY)\][^\n]*\n?`)

	// Inline routing-stage artifacts: "INTAKE:model", "REASONING>", etc.
	routingTagRe = regexp.MustCompile(`(?m)^(?:INTAKE|REASONING|REFLECTION|FINAL)(?::[^\s]+)?>\s?`)

	// Internal marker spans.
	internalSpanRe = regexp.MustCompile(`<<INTERNAL[^>]*>>`)

	// Three or more consecutive newlines collapse to two.
	blankRunRe = regexp.MustCompile(`\n{3,}`)
)

// Translator strips system and audit artifacts from raw final text.
type Translator struct{}

// NewTranslator creates the mid-layer translator.
func NewTranslator() *Translator { return &Translator{} }

// Acknowledgement filler dropped from command responses.
var ackPrefixes = []string{"Understood. ", "Acknowledged. "}

// Translate applies intent-aware scrubbing to a fixed point, so it is
// idempotent: Translate(intent, Translate(intent, x)) == Translate(intent, x).
// One rule can expose material for another (stripping an acknowledgement can
// move a bracketed tag to a line start), so a single pass is not enough.
// Every rule only removes characters, so the iteration terminates.
//
// The "--- CRITICAL REVIEW ---" reflection marker is user-facing content and
// is deliberately preserved.
func (t *Translator) Translate(intent Intent, text string) string {
	out := text
	for {
		next := scrubOnce(intent, out)
		if next == out {
			return out
		}
		out = next
	}
}

func scrubOnce(intent Intent, text string) string {
	out := systemTagRe.ReplaceAllString(text, "")
	out = routingTagRe.ReplaceAllString(out, "")
	out = internalSpanRe.ReplaceAllString(out, "")
	out = blankRunRe.ReplaceAllString(out, "\n\n")
	out = strings.TrimSpace(out)

	if intent == IntentCommand {
		for _, prefix := range ackPrefixes {
			out = strings.TrimPrefix(out, prefix)
		}
	}
	return out
}
