package service

import (
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/dshills/codegraph/internal/indexer"
	"github.com/dshills/codegraph/internal/searcher"
	"github.com/dshills/codegraph/internal/storage"
	"github.com/dshills/codegraph/pkg/types"
)

// maxListedErrors caps the per-file errors echoed after an index run
const maxListedErrors = 5

func location(n types.Node) string {
	switch {
	case n.Path == "":
		return "(external)"
	case n.LineNumber > 0:
		return fmt.Sprintf("%s:%d", n.Path, n.LineNumber)
	default:
		return n.Path
	}
}

// writeNodes renders one row per node: id, name, type, location, importance
func writeNodes(b *strings.Builder, nodes []types.Node) {
	tw := tabwriter.NewWriter(b, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tTYPE\tLOCATION\tIMPORTANCE")
	for _, n := range nodes {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%.3f\n", n.ID, n.Name, n.NodeType, location(n), n.ImportanceScore)
	}
	_ = tw.Flush()
}

// formatResults renders a search or listing response. subject describes
// what was asked for and is used in the headline.
func formatResults(subject string, nodeType types.NodeType, resp *searcher.SearchResponse) string {
	var b strings.Builder

	switch {
	case resp.TypeNotFound:
		fmt.Fprintf(&b, "No entities of type %q found in this project.\n", nodeType)
		return b.String()
	case len(resp.Results) == 0:
		fmt.Fprintf(&b, "No results for %s.\n", subject)
		return b.String()
	}

	noun := "results"
	if len(resp.Results) == 1 {
		noun = "result"
	}
	fmt.Fprintf(&b, "Found %d %s for %s", len(resp.Results), noun, subject)
	var notes []string
	if resp.Strategy != "" {
		notes = append(notes, string(resp.Strategy))
	}
	if resp.FromCache {
		notes = append(notes, "from cache")
	}
	if len(notes) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(notes, ", "))
	}
	b.WriteString("\n\n")
	writeNodes(&b, resp.Results)
	return b.String()
}

func formatEntity(resp *searcher.EntityResponse) string {
	var b strings.Builder
	writeNodes(&b, []types.Node{*resp.Node})
	if resp.Node.Summary != "" {
		fmt.Fprintf(&b, "\n%s\n", resp.Node.Summary)
	}

	var outgoing, incoming []storage.Neighbor
	for _, nb := range resp.Neighbors {
		if nb.Outgoing {
			outgoing = append(outgoing, nb)
		} else {
			incoming = append(incoming, nb)
		}
	}
	writeNeighbors(&b, "Outgoing", "->", outgoing)
	writeNeighbors(&b, "Incoming", "<-", incoming)
	return b.String()
}

func writeNeighbors(b *strings.Builder, title, arrow string, neighbors []storage.Neighbor) {
	if len(neighbors) == 0 {
		return
	}
	fmt.Fprintf(b, "\n%s (%d):\n", title, len(neighbors))
	tw := tabwriter.NewWriter(b, 0, 4, 2, ' ', 0)
	for _, nb := range neighbors {
		derived := ""
		if nb.Derived {
			derived = "resolved"
		}
		fmt.Fprintf(tw, "  %s %s\t%s\t%s\t%s\t%s\n", nb.Type, arrow, nb.Node.Name, nb.Node.NodeType, location(nb.Node), derived)
	}
	_ = tw.Flush()
}

func formatIndexStats(root string, stats *indexer.Statistics) string {
	var b strings.Builder

	if stats.Unchanged {
		fmt.Fprintf(&b, "Index of %s is up to date (%s files, nothing changed).\n",
			root, humanize.Comma(int64(stats.FilesSeen)))
		return b.String()
	}

	fmt.Fprintf(&b, "Indexed %s in %s (generation %d, run %s)\n", root, stats.Duration.Round(time.Millisecond), stats.Generation, stats.RunID)
	fmt.Fprintf(&b, "Files: %s seen, %s indexed, %s unchanged, %s deleted, %s failed, %s skipped\n",
		humanize.Comma(int64(stats.FilesSeen)),
		humanize.Comma(int64(stats.FilesIndexed)),
		humanize.Comma(int64(stats.FilesUnchanged)),
		humanize.Comma(int64(stats.FilesDeleted)),
		humanize.Comma(int64(stats.FilesFailed)),
		humanize.Comma(int64(stats.FilesSkipped)))
	fmt.Fprintf(&b, "Nodes: %s, relationships: %s, unresolved references: %s\n",
		humanize.Comma(int64(stats.Nodes)),
		humanize.Comma(int64(stats.Relationships)),
		humanize.Comma(int64(stats.UnresolvedReferences)))

	if n := len(stats.ErrorMessages); n > 0 {
		fmt.Fprintf(&b, "\nErrors (%d):\n", n)
		for i, msg := range stats.ErrorMessages {
			if i == maxListedErrors {
				fmt.Fprintf(&b, "  ... and %d more\n", n-maxListedErrors)
				break
			}
			fmt.Fprintf(&b, "  %s\n", msg)
		}
	}
	return b.String()
}

func formatProjectStats(stats *storage.Stats, runs []storage.IndexRun) string {
	var b strings.Builder

	fullText := "no"
	if stats.FullText {
		fullText = "yes"
	}
	fmt.Fprintf(&b, "Project: %s\n", stats.RootPath)
	fmt.Fprintf(&b, "Storage unit: %s (%s, schema %s, %s driver, full-text: %s)\n",
		stats.UnitID, stats.SizeHuman, stats.SchemaVersion, stats.BuildMode, fullText)
	if stats.LastIndexedAt.IsZero() {
		b.WriteString("Last indexed: never\n")
	} else {
		fmt.Fprintf(&b, "Last indexed: %s (generation %d)\n", humanize.Time(stats.LastIndexedAt), stats.Generation)
	}
	fmt.Fprintf(&b, "Files: %s (%s with parse errors)\n",
		humanize.Comma(int64(stats.Files)), humanize.Comma(int64(stats.ParseErrors)))

	fmt.Fprintf(&b, "\nNodes: %s\n", humanize.Comma(int64(stats.Nodes)))
	writeCounts(&b, stats.NodesByType)
	fmt.Fprintf(&b, "\nRelationships: %s\n", humanize.Comma(int64(stats.Relationships)))
	writeCounts(&b, stats.RelationshipsByType)
	fmt.Fprintf(&b, "\nUnresolved references: %s\n", humanize.Comma(int64(stats.UnresolvedRefs)))

	if len(runs) > 0 {
		b.WriteString("\nRecent runs:\n")
		tw := tabwriter.NewWriter(&b, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "  STARTED\tSTATUS\tFILES\tFAILED\tNODES\tDURATION")
		for _, run := range runs {
			fmt.Fprintf(tw, "  %s\t%s\t%d\t%d\t%d\t%s\n",
				humanize.Time(run.StartedAt), run.Status, run.FilesIndexed, run.FilesFailed, run.Nodes,
				run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
		}
		_ = tw.Flush()
	}
	return b.String()
}

// writeCounts writes "  key  count" rows sorted by key
func writeCounts[K ~string](b *strings.Builder, counts map[K]int) {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	tw := tabwriter.NewWriter(b, 0, 4, 2, ' ', tabwriter.AlignRight)
	for _, k := range keys {
		fmt.Fprintf(tw, "  %s\t%s\t\n", k, humanize.Comma(int64(counts[K(k)])))
	}
	_ = tw.Flush()
}
