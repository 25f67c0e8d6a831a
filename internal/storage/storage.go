package storage

import (
	"context"
	"time"

	"github.com/dshills/codegraph/pkg/types"
)

// Storage defines the interface for persisting and querying one project's
// code graph
type Storage interface {
	// Project operations
	Project(ctx context.Context) (*Project, error)
	EnsureProject(ctx context.Context, rootPath, unitID string) error

	// Graph generation operations
	ListFiles(ctx context.Context) ([]File, error)
	LoadGraph(ctx context.Context) (*Graph, error)
	ApplyGeneration(ctx context.Context, gen *Generation) error

	// Query operations
	SearchFullText(ctx context.Context, q *Query) ([]types.Node, error)
	SearchSubstring(ctx context.Context, q *Query) ([]types.Node, error)
	ListByType(ctx context.Context, nodeType types.NodeType, limit int) ([]types.Node, error)
	TopByImportance(ctx context.Context, nodeType types.NodeType, limit int) ([]types.Node, error)
	HasNodeType(ctx context.Context, nodeType types.NodeType) (bool, error)
	NodeTypes(ctx context.Context) ([]types.NodeType, error)
	GetNode(ctx context.Context, id int64) (*types.Node, error)
	Neighbors(ctx context.Context, id int64) ([]Neighbor, error)

	// Status operations
	Stats(ctx context.Context) (*Stats, error)
	RecordRun(ctx context.Context, run *IndexRun) error
	RecentRuns(ctx context.Context, limit int) ([]IndexRun, error)
	FullTextAvailable() bool

	Close() error
}

// Project is the singleton record describing the indexed directory
type Project struct {
	RootPath      string
	UnitID        string
	Generation    int64
	LastIndexedAt time.Time
	LastRunID     string
	CreatedAt     time.Time
}

// File is a tracked source file. A failed read stores an empty ContentHash
// so the file is retried on the next run; a failed parse keeps the hash and
// records ParseError.
type File struct {
	Path        string // Relative to project root, slash separated
	Language    string
	ContentHash string // Hex SHA-256
	SizeBytes   int64
	ModTime     time.Time
	ParseError  string
	NodeCount   int
	IndexedAt   time.Time
}

// Graph is the stored part of the current generation the indexer needs
// to merge an incremental run
type Graph struct {
	Files []File

	// Nodes owned by a file, with their in-file relationships and
	// unresolved references
	Nodes         []types.Node
	Relationships []types.Relationship
	References    []types.Reference

	// Derived import nodes created for unresolved module imports
	Derived []types.Node

	MaxID int64
}

// Generation is the complete set of changes produced by one index run.
// It is written in a single transaction.
type Generation struct {
	RunID       string
	FullRebuild bool
	IndexedAt   time.Time

	// Files that were added or changed, and paths that disappeared
	Files        []File
	DeletedPaths []string

	// Nodes, in-file relationships and references of the changed files
	Nodes         []types.Node
	Relationships []types.Relationship
	References    []types.Reference

	// Full replacement sets, recomputed every run
	DerivedNodes         []types.Node
	DerivedRelationships []types.Relationship

	// Importance of every node in the new generation, by id
	Scores map[int64]float64
}

// Term is one search token
type Term struct {
	Text    string
	Phrase  bool
	Prefix  bool
	Negated bool
}

// Query is a tokenized search against name, path and summary
type Query struct {
	Terms    []Term
	MatchAll bool
	NodeType types.NodeType // Empty means any type
	Limit    int
}

// Neighbor is a node adjacent to another through one relationship
type Neighbor struct {
	Node     types.Node
	Type     types.RelationshipType
	Outgoing bool
	Derived  bool
}

// IndexRun records one indexing attempt
type IndexRun struct {
	RunID         string
	StartedAt     time.Time
	FinishedAt    time.Time
	Status        string
	FilesIndexed  int
	FilesFailed   int
	Nodes         int
	Relationships int
	Error         string
}

// Stats contains statistics about an indexed project
type Stats struct {
	RootPath            string
	UnitID              string
	Generation          int64
	Files               int
	ParseErrors         int
	Nodes               int
	NodesByType         map[types.NodeType]int
	Relationships       int
	RelationshipsByType map[types.RelationshipType]int
	UnresolvedRefs      int
	LastIndexedAt       time.Time
	LastRunID           string
	SizeBytes           int64
	SizeHuman           string
	SchemaVersion       string
	FullText            bool
	BuildMode           string
}
