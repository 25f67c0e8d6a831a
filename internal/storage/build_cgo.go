//go:build sqlite_vec
// +build sqlite_vec

package storage

// This file is compiled when building with CGO and the sqlite_vec tag.
//
// Build command:
//   CGO_ENABLED=1 go build -tags "sqlite_vec,sqlite_fts5" ./...
//
// Without the sqlite_fts5 tag go-sqlite3 has no FTS5 module. The storage
// layer detects that at open time and serves substring search only.
//
// Driver used: github.com/mattn/go-sqlite3

import (
	"fmt"
	"net/url"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName is the SQLite driver to use
	DriverName = "sqlite3"

	// BuildMode describes the current build configuration
	BuildMode = "cgo"
)

// dataSourceName builds the go-sqlite3 DSN for path. Every pooled
// connection gets the same pragmas.
func dataSourceName(path string, busyTimeout time.Duration) string {
	params := url.Values{}
	params.Set("_busy_timeout", fmt.Sprintf("%d", busyTimeout.Milliseconds()))
	params.Set("_foreign_keys", "on")
	params.Set("_txlock", "immediate")
	if path != memoryPath {
		params.Set("_journal_mode", "WAL")
	}
	return "file:" + path + "?" + params.Encode()
}
