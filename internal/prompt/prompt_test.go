package prompt

import (
	"strings"
	"testing"
)

// echoDecoder stands in for a runtime that echoes the prompt and appends a continuation.
func echoDecoder(prompt, suffix string) string { return prompt + suffix }

func TestTemplate_EmptyMessage(t *testing.T) {
	got := Template("")
	want := "### Constraints:\n" +
		"- Respond in 2–3 sentences maximum\n" +
		"- Be concise and calm\n" +
		"- Give only the essential advice\n" +
		"- Offer your help\n" +
		"- Be honest \n" +
		"- Don't lie to be nice\n" +
		"\n### Instruction:\n" +
		"\n\n### Response:\n"
	if got != want {
		t.Fatalf("Template(\"\") =\n%q\nwant\n%q", got, want)
	}
	if !strings.HasSuffix(strings.TrimRight(got, "\n"), Marker) {
		t.Fatalf("template does not end with marker: %q", got)
	}
}

func TestTemplate_ContainsMessageVerbatim(t *testing.T) {
	msgs := []string{
		"I feel anxious today",
		"  leading and trailing  ",
		"multi\nline\n\nmessage",
		"unicode: ça va? 😟",
		Marker + " injected",
	}
	for _, m := range msgs {
		out := Template(m)
		if !strings.Contains(out, m) {
			t.Fatalf("template for %q does not contain message", m)
		}
		if !strings.HasPrefix(out, "### Constraints:\n") {
			t.Fatalf("template for %q lost constraints block", m)
		}
	}
}

func TestTemplate_Deterministic(t *testing.T) {
	if Template("same") != Template("same") {
		t.Fatalf("template is not deterministic")
	}
}

func TestExtract_AfterTemplateEcho(t *testing.T) {
	msgs := []string{"", "I feel anxious today", "why?\n\nreally"}
	for _, m := range msgs {
		decoded := echoDecoder(Template(m), "  Take a slow breath.  \n")
		if got := Extract(decoded); got != "Take a slow breath." {
			t.Fatalf("Extract(echo(%q)) = %q", m, got)
		}
	}
}

func TestExtract_NoMarkerTrims(t *testing.T) {
	if got := Extract("  hello  "); got != "hello" {
		t.Fatalf("got %q", got)
	}
	if got := Extract(""); got != "" {
		t.Fatalf("got %q", got)
	}
}

func TestExtract_LastMarkerWins(t *testing.T) {
	in := "a " + Marker + " first " + Marker + "\n second \n"
	if got := Extract(in); got != "second" {
		t.Fatalf("got %q", got)
	}
	// A marker inside the user message shifts nothing: the template's own
	// marker still comes last.
	decoded := echoDecoder(Template("say "+Marker+" twice"), "ok")
	if got := Extract(decoded); got != "ok" {
		t.Fatalf("got %q", got)
	}
}

func TestExtract_MarkerOnly(t *testing.T) {
	if got := Extract(Marker); got != "" {
		t.Fatalf("got %q", got)
	}
}

func TestExtract_Idempotent(t *testing.T) {
	inputs := []string{
		"",
		"   ",
		"plain",
		"  padded  ",
		Marker,
		"x " + Marker + " y",
		Template("hello") + "\nanswer\n",
		"nested " + Marker + Marker + " z",
	}
	for _, in := range inputs {
		once := Extract(in)
		if twice := Extract(once); twice != once {
			t.Fatalf("Extract not idempotent for %q: %q then %q", in, once, twice)
		}
	}
}
