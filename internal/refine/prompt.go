package refine

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/raphaelgruber/recast/internal/models"
)

const systemPrompt = `You rewrite text fields of database records according to the user's instructions.
Return only the rewritten text. Do not add commentary, headings or quotes.`

const combinedSystemPrompt = `You rewrite text fields of several database records according to the user's instructions.
Each record starts with a marker line of the form [[RECORD n]].
Return every record, in the same order, each preceded by its unchanged marker line.
Return only the markers and the rewritten text. Do not add commentary.`

var markerRe = regexp.MustCompile(`\[\[RECORD (\d+)\]\]`)

func marker(n int) string {
	return fmt.Sprintf("[[RECORD %d]]", n)
}

// fillTemplate substitutes content into template. A template without the
// placeholder gets the content appended after a blank line.
func fillTemplate(template, content string) string {
	if strings.TrimSpace(template) == "" {
		return content
	}
	if strings.Contains(template, models.ContentPlaceholder) {
		return strings.ReplaceAll(template, models.ContentPlaceholder, content)
	}
	return template + "\n\n" + content
}

func singleMessages(template, content string) []models.Message {
	return []models.Message{
		{Role: models.RoleSystem, Content: systemPrompt},
		{Role: models.RoleUser, Content: fillTemplate(template, content)},
	}
}

func combinedBody(items []Item) string {
	var b strings.Builder
	for i, it := range items {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(marker(i + 1))
		b.WriteByte('\n')
		b.WriteString(it.Text)
	}
	return b.String()
}

func combinedMessages(template string, items []Item) []models.Message {
	return []models.Message{
		{Role: models.RoleSystem, Content: combinedSystemPrompt},
		{Role: models.RoleUser, Content: fillTemplate(template, combinedBody(items))},
	}
}

// combinedSize estimates the character length of a combined prompt.
func combinedSize(template string, items []Item) int {
	size := len([]rune(template)) + len([]rune(combinedSystemPrompt))
	for i, it := range items {
		size += len([]rune(it.Text)) + len(marker(i+1)) + 3
	}
	return size
}

// splitCombined splits a combined response into n texts by marker.
// Markers must be exactly 1..n in order.
func splitCombined(response string, n int) ([]string, error) {
	locs := markerRe.FindAllStringSubmatchIndex(response, -1)
	if len(locs) != n {
		return nil, fmt.Errorf("%w: got %d markers, want %d", ErrRecordCountMismatch, len(locs), n)
	}

	out := make([]string, n)
	for i, loc := range locs {
		idx, err := strconv.Atoi(response[loc[2]:loc[3]])
		if err != nil || idx != i+1 {
			return nil, fmt.Errorf("%w: marker %q at position %d", ErrRecordCountMismatch, response[loc[0]:loc[1]], i+1)
		}
		end := len(response)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		out[i] = strings.TrimSpace(response[loc[1]:end])
	}
	return out, nil
}
