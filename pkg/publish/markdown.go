package publish

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/spawn-mcp/research-pipeline/pkg/types"
)

// SourcesHeading titles the enumerated source list of a published document
const SourcesHeading = "Nguồn tham khảo"

// RenderMarkdown renders the publish document: title heading, body and a
// 1-indexed list of source links.
func RenderMarkdown(result *types.ResearchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", result.Title)
	fmt.Fprintf(&b, "%s\n\n", result.Content)
	fmt.Fprintf(&b, "## %s\n\n", SourcesHeading)
	for i, src := range result.Sources {
		fmt.Fprintf(&b, "%d. [%s](%s)\n", i+1, src, src)
	}
	return b.String()
}

// DocumentPath is the repository-relative path of a task's document
func DocumentPath(taskID, title string) string {
	slug := slugify(title)
	short := taskID
	if len(short) > 8 {
		short = short[:8]
	}
	if slug == "" {
		return short + ".md"
	}
	return slug + "-" + short + ".md"
}

func slugify(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
		if b.Len() >= 60 {
			break
		}
	}
	return strings.Trim(b.String(), "-")
}
