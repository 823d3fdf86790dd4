package trinity

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectIntent(t *testing.T) {
	cases := map[string]Intent{
		"what is a goroutine":          IntentQuestion,
		"Is this safe?":                IntentQuestion,
		"run the migration":            IntentCommand,
		"deploy the new build please":  IntentCommand,
		"thanks, that was helpful":     IntentChat,
		"":                             IntentChat,
		"how do I configure the pool?": IntentQuestion,
	}
	for prompt, want := range cases {
		assert.Equal(t, want, DetectIntent(prompt), "prompt: %q", prompt)
	}
}

func TestTranslateScrubsArtifacts(t *testing.T) {
	tr := NewTranslator()

	raw := "[SYSTEM] routing via tier=critical\n" +
		"[AUDIT] clear=2.1\n" +
		"The answer is 42. <<INTERNAL span=reasoning>>\n\n\n\n" +
		"More detail here."
	out := tr.Translate(IntentQuestion, raw)

	assert.NotContains(t, out, "[SYSTEM]")
	assert.NotContains(t, out, "[AUDIT]")
	assert.NotContains(t, out, "<<INTERNAL")
	assert.Contains(t, out, "The answer is 42.")
	assert.Contains(t, out, "More detail here.")
	assert.NotContains(t, out, "\n\n\n")
}

func TestTranslateIdempotent(t *testing.T) {
	tr := NewTranslator()
	inputs := []string{
		"[SYSTEM] hidden\nplain answer",
		"plain answer with no artifacts",
		"REASONING> stripped prefix\ncontent",
		"a\n\n\n\n\nb",
		"\nUnderstood. done",
		"Understood. Understood. done",
		"Understood. [SYSTEM] tagged\ndone",
		"Acknowledged. Understood. done",
	}
	for _, intent := range []Intent{IntentQuestion, IntentCommand, IntentChat} {
		for _, in := range inputs {
			once := tr.Translate(intent, in)
			assert.Equal(t, once, tr.Translate(intent, once),
				"translate must be idempotent for intent %s input %q", intent, in)
		}
	}
}

func TestTranslateStripsAcknowledgementFiller(t *testing.T) {
	tr := NewTranslator()

	assert.Equal(t, "done", tr.Translate(IntentCommand, "\nUnderstood. done"))
	assert.Equal(t, "done", tr.Translate(IntentCommand, "Understood. Understood. done"))
	assert.Equal(t, "done", tr.Translate(IntentCommand, "Acknowledged. done"))

	// Only command responses drop the filler.
	assert.Equal(t, "Understood. done", tr.Translate(IntentChat, "Understood. done"))
}

func TestTranslatePreservesReviewMarker(t *testing.T) {
	tr := NewTranslator()
	raw := "Draft answer.\n\n" + reviewMarker + "\nThe draft underestimates lock contention."
	out := tr.Translate(IntentQuestion, raw)
	assert.Contains(t, out, reviewMarker)
}
