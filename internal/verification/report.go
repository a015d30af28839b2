package verification

import (
	"fmt"
	"strings"
)

// RenderMarkdown renders a verification result as Markdown.
func RenderMarkdown(r *VerificationResult) string {
	var sb strings.Builder

	sb.WriteString("# Snapshot Verification\n\n")
	sb.WriteString("| Field | Value |\n")
	sb.WriteString("|-------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Artifact | %s |\n", r.ArtifactID))
	sb.WriteString(fmt.Sprintf("| Snapshot Block | %d |\n", r.SnapshotBlock))
	sb.WriteString(fmt.Sprintf("| Stored Digest | %s |\n", r.StoredDigest))
	sb.WriteString(fmt.Sprintf("| Replayed Digest | %s |\n", r.ReplayedDigest))
	sb.WriteString("\n")

	if r.Match {
		sb.WriteString("**MATCH.** The replayed snapshot is byte-identical.\n")
		return sb.String()
	}
	sb.WriteString("**DIVERGED.**\n\n")

	if len(r.Missing) > 0 {
		sb.WriteString("## Missing From Replay\n\n")
		for _, did := range r.Missing {
			sb.WriteString(fmt.Sprintf("- %s\n", did))
		}
		sb.WriteString("\n")
	}
	if len(r.Unexpected) > 0 {
		sb.WriteString("## Unexpected In Replay\n\n")
		for _, did := range r.Unexpected {
			sb.WriteString(fmt.Sprintf("- %s\n", did))
		}
		sb.WriteString("\n")
	}
	if len(r.Divergences) > 0 {
		sb.WriteString("## Field Divergences\n\n")
		sb.WriteString("| DID | Field | Stored | Replayed |\n")
		sb.WriteString("|-----|-------|--------|----------|\n")
		for _, d := range r.Divergences {
			sb.WriteString(fmt.Sprintf("| %s | %s | %v | %v |\n", d.DID, d.Field, d.Expected, d.Actual))
		}
	}
	return sb.String()
}
