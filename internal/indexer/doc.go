// Package indexer builds the code graph of a project and commits it to
// storage as one generation per run.
//
// # Basic Usage
//
//	mgr, _ := storage.NewManager(dataDir, storage.DefaultOptions(), logger)
//	idx := indexer.New(mgr, parser.NewDefaultRegistry(), logger)
//
//	stats, err := idx.IndexProject(ctx, "/path/to/project", &indexer.Config{
//	    Workers:          8,
//	    RespectGitignore: true,
//	})
//
//	fmt.Printf("Indexed %d files, %d unchanged\n", stats.FilesIndexed, stats.FilesUnchanged)
//
// # Indexing Pipeline
//
//  1. Discovery: walk the tree, skip ignored directories, glob patterns,
//     .gitignore rules, oversized and binary files
//  2. Incremental decision: compare SHA-256 content hashes with the stored
//     files; unchanged files keep their nodes and ids
//  3. Parse (parallel): dispatch each changed file through the parser
//     registry on a bounded worker pool
//  4. Merge (serialized): assign global ids, coerce identities, drop
//     dangling edges, resolve references across the whole graph
//  5. Score: importance from node type and degree, normalized to [0,1]
//  6. Store: write the generation in a single transaction
//
// If nothing changed and neither FullRebuild nor Rescore is set, nothing is
// written and Statistics.Unchanged is true.
//
// # Reference Resolution
//
// Parsers only know names outside their own file, so cross-file edges are
// recomputed on every run from the stored references:
//
//   - module imports resolve to the first candidate path that is indexed
//   - Go package imports resolve to every Go file of the matching directory
//   - symbols resolve within the same file, then the same Go package, then
//     imported files, then to a unique declaration anywhere
//
// Imports that stay unresolved point at derived import nodes, which keep
// their ids across runs.
//
// # Concurrency
//
// Only one run per project may be active; a second one fails immediately
// with types.ErrStorageBusy. Cancellation is checked between files and
// once more before the commit, so a cancelled run leaves the stored graph
// untouched. Hooks registered with OnCommit run after every commit and are
// used to invalidate query caches.
//
// # Error Handling
//
// Files that cannot be read or parsed degrade to a single file node and are
// counted in Statistics.FilesFailed; they are retried on the next run.
// IndexProject only returns an error when the project is missing, busy,
// cancelled or storage fails.
package indexer
