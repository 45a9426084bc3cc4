// Package cli holds terminal helpers shared by the pagerag commands:
// result rendering, path expansion and progress reporting.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/hyperjump/pagerag/internal/models"
	"github.com/hyperjump/pagerag/pkg/utils"
	"golang.org/x/term"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// IsTerminal reports whether f is attached to a terminal.
func IsTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// WriteQueryResponse writes a query response in the given format. With
// markdown set, the answer is rendered for the terminal.
func WriteQueryResponse(w io.Writer, resp *models.QueryResponse, format OutputFormat, markdown bool) error {
	if format == OutputJSON {
		return WriteJSON(w, resp)
	}
	writeAnswer(w, resp, markdown)
	fmt.Fprintf(w, "Found %d results in %dms\n\n", resp.TotalResults, resp.QueryTime)
	for i, r := range resp.Results {
		writeOneResult(w, i+1, r, resp.Winner)
	}
	return nil
}

func writeAnswer(w io.Writer, resp *models.QueryResponse, markdown bool) {
	switch {
	case resp.Answer != "":
		answer := resp.Answer
		if markdown {
			if rendered, err := glamour.Render(answer, "dark"); err == nil {
				answer = rendered
			}
		}
		fmt.Fprintf(w, "\n%s\n", strings.TrimRight(answer, "\n"))
	case resp.AnswerError != "":
		fmt.Fprintf(w, "\n(no answer: %s)\n", resp.AnswerError)
	}
	fmt.Fprintln(w)
}

func writeOneResult(w io.Writer, rank int, r *models.SearchResult, winner *models.SearchResult) {
	marker := ""
	if winner != nil && winner.OwnerID == r.OwnerID && winner.Slot == r.Slot {
		marker = " *"
	}
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "%d. [%s] similarity %.4f%s\n", rank, r.Modality, r.Similarity, marker)
	fmt.Fprintf(w, "Source: %s", r.Source)
	if r.Modality == models.ModalityImage {
		fmt.Fprintf(w, " (page %d)", r.Page)
	}
	fmt.Fprintf(w, "\nDocument: %s\n", r.DocumentID)
	if r.Content != "" {
		fmt.Fprintf(w, "\n%s\n", utils.Truncate(strings.Join(strings.Fields(r.Content), " "), 200))
	}
	fmt.Fprintln(w)
}

// WriteIngestResult writes one ingested document as a single line.
func WriteIngestResult(w io.Writer, path string, res *models.IngestResult) {
	if res.Unchanged {
		fmt.Fprintf(w, "%s: unchanged (%s)\n", path, res.DocumentID)
		return
	}
	fmt.Fprintf(w, "%s: %s, %d pages, %d embeddings", path, res.DocumentID, res.Pages, res.EmbeddingsCreated)
	if res.SkippedItems > 0 {
		fmt.Fprintf(w, ", %d skipped", res.SkippedItems)
	}
	fmt.Fprintln(w)
}
