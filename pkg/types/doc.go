// Package types provides shared type definitions for the codegraph indexer.
//
// This package defines the domain types used across components: graph
// nodes and relationships, unresolved references, parse results, error
// kinds and query outcomes.
//
// # Graph Types
//
// Node represents a code entity (file, class, function, method, variable,
// import, module, or any type a parser plugin introduces):
//
//	node := types.Node{
//	    Name:     "CacheManager",
//	    NodeType: types.NodeClass,
//	    Path:     "internal/cache/manager.py",
//	}
//
// Relationship is a directed edge between two node ids. Reference is an
// edge whose target is only known by name when a single file is parsed;
// the indexer resolves references against the whole project graph.
//
// # Identity Rules
//
// Names and types are required, defaulted attributes rather than nullable
// fields. Summaries are never nil, whitespace is collapsed and the text is
// capped at SummaryLimit runes:
//
//	node.Summary = types.TruncateSummary(doc)
//
// # Errors and Outcomes
//
// Errors that cross a component boundary carry an ErrorKind:
//
//	if types.KindOf(err) == types.KindStorageBusy {
//	    // retry later
//	}
//
// Queries report an Outcome so that an empty result is distinguishable
// from a failure:
//
//	os.Exit(resp.Outcome.ExitCode())
package types
