package extract

import (
	"fmt"
	"strings"

	"github.com/hurttlocker/intake/internal/schema"
)

const systemPrompt = `You are a JSON extraction assistant. Always return valid JSON only.`

const strictSystemPrompt = `You are a JSON extraction assistant. Your previous answer could not be used.
Reply with exactly one JSON object and nothing else: no markdown fences, no
comments, no explanation. Every key in the schema must be present. Use null for
anything the text does not state.`

// BuildPrompt renders the extraction prompt for text under s.
func BuildPrompt(s schema.Schema, text string) string {
	var b strings.Builder
	b.WriteString("Extract structured information from the following business text and return ONLY valid JSON matching this exact schema:\n\n{\n")
	fields := s.Fields()
	for i, f := range fields {
		fmt.Fprintf(&b, "  %q: %s", f.Name, describe(f))
		if i < len(fields)-1 {
			b.WriteByte(',')
		}
		b.WriteByte('\n')
	}
	b.WriteString("}\n\nRules:\n")
	b.WriteString("- Return ONLY JSON, no markdown, no explanations\n")
	b.WriteString("- If information is missing, use null (never omit a key)\n")
	b.WriteString("- Dates must be ISO 8601 calendar dates (YYYY-MM-DD), or null if the text gives no exact date\n")
	b.WriteString("- Numbers must be JSON numbers without units\n")
	for _, f := range fields {
		if f.Required {
			fmt.Fprintf(&b, "- %q is required; extract it whenever the text states it\n", f.Name)
		}
	}
	fmt.Fprintf(&b, "\nInput text: %q\n\nJSON:", text)
	return b.String()
}

func describe(f schema.Field) string {
	var t string
	switch f.Type {
	case schema.TypeEnum:
		quoted := make([]string, len(f.Enum))
		for i, e := range f.Enum {
			quoted[i] = fmt.Sprintf("%q", e)
		}
		t = strings.Join(quoted, " | ")
	case schema.TypeDate:
		t = "ISO 8601 date string"
	default:
		t = string(f.Type)
	}
	if !f.Required {
		t += " | null"
	}
	return t
}
