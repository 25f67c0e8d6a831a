// Package language maps file paths to language tags.
//
// Detection is a pure function with a fixed resolution order: the file
// extension (case-insensitive), then the interpreter named on a shebang
// line, then nothing. Unknown input is never an error.
package language
