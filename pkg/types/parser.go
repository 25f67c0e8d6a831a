package types

// ParseResult is the tagged outcome of parsing one file: either the
// extracted entities or a failure message, never both.
// Node ids inside a result are file-local, starting at 1.
type ParseResult struct {
	Nodes         []Node
	Relationships []Relationship
	References    []Reference

	// Failure is non-empty when the file could not be parsed
	Failure string
}

// Succeeded builds a successful ParseResult
func Succeeded(nodes []Node, rels []Relationship, refs []Reference) ParseResult {
	return ParseResult{Nodes: nodes, Relationships: rels, References: refs}
}

// Failed builds a failed ParseResult
func Failed(msg string) ParseResult {
	if msg == "" {
		msg = "parse failed"
	}
	return ParseResult{Failure: msg}
}

// OK reports whether parsing succeeded
func (pr ParseResult) OK() bool {
	return pr.Failure == ""
}
