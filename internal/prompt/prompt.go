// Package prompt holds the instruction template the assistant model was
// trained on and the matching post-processing of decoded completions.
package prompt

import "strings"

// Marker separates the instruction template from the model's answer.
const Marker = "### Response:"

// constraints is the fixed block prepended to every instruction. The trailing
// space after "Be honest" is part of the training format.
const constraints = "### Constraints:\n" +
	"- Respond in 2–3 sentences maximum\n" +
	"- Be concise and calm\n" +
	"- Give only the essential advice\n" +
	"- Offer your help\n" +
	"- Be honest \n" +
	"- Don't lie to be nice\n"

// Template wraps a user message in the constraints/instruction/response
// layout. The message is inserted verbatim; a message containing Marker is
// not escaped.
func Template(userMessage string) string {
	var b strings.Builder
	b.Grow(len(constraints) + len(userMessage) + 64)
	b.WriteString(constraints)
	b.WriteString("\n### Instruction:\n")
	b.WriteString(userMessage)
	b.WriteString("\n\n")
	b.WriteString(Marker)
	b.WriteString("\n")
	return b.String()
}

// Extract isolates the answer from a decoded completion: the text after the
// last Marker, or the whole text when no marker is present. Surrounding
// whitespace is trimmed in both cases.
func Extract(decoded string) string {
	if i := strings.LastIndex(decoded, Marker); i >= 0 {
		decoded = decoded[i+len(Marker):]
	}
	return strings.TrimSpace(decoded)
}
