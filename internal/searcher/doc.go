// Package searcher answers read queries over indexed projects: term search,
// listing by type and importance ranking.
//
// # Basic Usage
//
//	s := searcher.New(manager, searcher.DefaultOptions(), logger)
//
//	resp, err := s.Search(ctx, searcher.SearchRequest{
//	    ProjectPath: "/path/to/project",
//	    Terms:       `CacheManager "cache entry" -test`,
//	    Mode:        searcher.ModeAny,
//	    UseFullText: true,
//	})
//
//	for _, n := range resp.Results {
//	    fmt.Printf("%s %s %s:%d %.3f\n", n.Name, n.NodeType, n.Path, n.LineNumber, n.ImportanceScore)
//	}
//
// # Query Syntax
//
// Terms are separated by whitespace:
//
//   - "two words" matches a phrase
//   - -term excludes nodes matching term
//   - term* is an explicit prefix match
//
// With ModeAny a node matches when any positive term matches, with ModeAll
// every positive term must match.
//
// # Strategies
//
// When UseFullText is set, the storage unit has an FTS5 index and every term
// is at least two characters with a letter or digit, the query runs against
// the full-text index where bare words match as prefixes. Otherwise, and
// whenever the full-text engine rejects a query, a case-insensitive
// substring scan over name, path and summary is used. The response reports
// which strategy served it.
//
// # Type Filter
//
// A type filter is a hard filter. When no stored node has the requested
// type the response has TypeNotFound set and no results; it never falls
// back to other types.
//
// Results are always ordered by importance descending, then name, then id.
//
// # Caching
//
// Search responses are cached in an LRU keyed by the storage unit and the
// normalized request. Cached responses carry FromCache and otherwise equal
// a fresh query. Entries expire after the configured TTL and are dropped by
// InvalidateProject, which the indexer calls after every commit.
package searcher
