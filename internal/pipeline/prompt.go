package pipeline

import (
	"fmt"
	"strings"

	"memfuse/internal/llm"
	"memfuse/pkg/types"
)

// BuildMessages assembles the generator prompt from the fusion envelope: a
// system message carrying the memory cards and fusion directives, and the
// user query.
func BuildMessages(query string, env *types.FusionEnvelope) []llm.Message {
	var sb strings.Builder

	sb.WriteString("You are a memory-aware assistant. Answer using the retrieved memory below.\n")
	fmt.Fprintf(&sb, "Weight retrieved memory at %.2f and general knowledge at %.2f.\n",
		env.MemoryWeight, env.GeneralWeight)

	switch env.GKAllowance {
	case 0:
		sb.WriteString("Do not add general-knowledge sentences beyond the retrieved memory.\n")
	default:
		fmt.Fprintf(&sb, "You may add at most %d general-knowledge sentence(s).\n", env.GKAllowance)
	}

	switch env.RoutingHint {
	case types.RoutingMemoryFirst:
		sb.WriteString("Lead with the retrieved memory.\n")
	case types.RoutingGeneralFirst:
		sb.WriteString("Lead with general knowledge; retrieved memory is sparse.\n")
	default:
		sb.WriteString("Blend retrieved memory and general knowledge.\n")
	}

	if len(env.MemoryCards) == 0 {
		sb.WriteString("\nNo memory was retrieved for this query.\n")
	} else {
		sb.WriteString("\nRetrieved memory:\n")
		for i, card := range env.MemoryCards {
			marker := ""
			if card.LowConfidence {
				marker = " (low confidence)"
			}
			fmt.Fprintf(&sb, "\n%d. %s%s\n%s\n", i+1, card.Label, marker, card.Content)
		}
	}

	return []llm.Message{
		{Role: "system", Content: sb.String()},
		{Role: "user", Content: query},
	}
}
