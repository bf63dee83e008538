package http

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/semantixd/internal/conversation"
	"github.com/fyrsmithlabs/semantixd/internal/pipeline"
	"github.com/fyrsmithlabs/semantixd/internal/redact"
	"github.com/fyrsmithlabs/semantixd/internal/retrieval"
)

// synthesize renders the pipeline output into the memory text handed back to
// the caller. Retrieved memory is fenced with the block markers so that
// downstream text carrying it is recognized and redacted before any
// re-embedding. An empty result set yields the bare fallback literal.
func synthesize(out *pipeline.ResultSet) string {
	if len(out.Results) == 0 {
		return noMemoriesFallback
	}

	var b strings.Builder
	b.WriteString(redact.BlockStart)
	b.WriteString("\n")
	for i, r := range out.Results {
		if i > 0 {
			b.WriteString("\n")
		}
		renderResult(&b, r)
	}
	b.WriteString(redact.BlockEnd)
	return b.String()
}

func renderResult(b *strings.Builder, r retrieval.Result) {
	header := fmt.Sprintf("[%s", r.Source)
	if !r.CreatedAt.IsZero() {
		header += " " + r.CreatedAt.Format("2006-01-02")
	}
	header += "]"
	if r.Topic != "" {
		header += " " + r.Topic
	}
	b.WriteString(header)
	b.WriteString("\n")

	for _, turn := range r.Turns {
		switch turn.Role {
		case conversation.RoleUser:
			b.WriteString("User: ")
		case conversation.RoleAssistant:
			b.WriteString("Assistant: ")
		}
		b.WriteString(turn.Text)
		b.WriteString("\n")
	}
}
