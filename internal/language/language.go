package language

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Language tags produced by Detect
const (
	Go         = "go"
	Python     = "python"
	JavaScript = "javascript"
	TypeScript = "typescript"
	Ruby       = "ruby"
	Shell      = "shell"
	Perl       = "perl"
	Java       = "java"
	Kotlin     = "kotlin"
	C          = "c"
	CPP        = "cpp"
	CSharp     = "csharp"
	Rust       = "rust"
	PHP        = "php"
	Swift      = "swift"
	Lua        = "lua"
	Scala      = "scala"
	SQL        = "sql"
)

// shebangScan bounds how much of a file is read to find an interpreter line
const shebangScan = 256

// binaryScan bounds how much content is inspected for NUL bytes
const binaryScan = 8000

var extensions = map[string]string{
	".go":    Go,
	".py":    Python,
	".pyw":   Python,
	".pyi":   Python,
	".js":    JavaScript,
	".jsx":   JavaScript,
	".mjs":   JavaScript,
	".cjs":   JavaScript,
	".ts":    TypeScript,
	".tsx":   TypeScript,
	".mts":   TypeScript,
	".cts":   TypeScript,
	".rb":    Ruby,
	".sh":    Shell,
	".bash":  Shell,
	".zsh":   Shell,
	".pl":    Perl,
	".pm":    Perl,
	".java":  Java,
	".kt":    Kotlin,
	".kts":   Kotlin,
	".c":     C,
	".h":     C,
	".cc":    CPP,
	".cpp":   CPP,
	".cxx":   CPP,
	".hpp":   CPP,
	".hh":    CPP,
	".cs":    CSharp,
	".rs":    Rust,
	".php":   PHP,
	".swift": Swift,
	".lua":   Lua,
	".scala": Scala,
	".sql":   SQL,
}

var interpreters = map[string]string{
	"python":  Python,
	"python2": Python,
	"python3": Python,
	"node":    JavaScript,
	"nodejs":  JavaScript,
	"deno":    TypeScript,
	"ts-node": TypeScript,
	"bash":    Shell,
	"sh":      Shell,
	"zsh":     Shell,
	"dash":    Shell,
	"ruby":    Ruby,
	"perl":    Perl,
	"php":     PHP,
	"lua":     Lua,
}

// Detect maps a file to a language tag. The extension table is consulted
// first (case-insensitive); files without a known extension are matched on
// their shebang line. When content is nil the first line is read from disk.
// Unknown input yields ("", false), never an error.
func Detect(path string, content []byte) (string, bool) {
	if lang, ok := extensions[strings.ToLower(filepath.Ext(path))]; ok {
		return lang, true
	}

	if content == nil {
		content = readHead(path)
	}
	return fromShebang(content)
}

// IsSupported reports whether path has a known extension
func IsSupported(path string) bool {
	_, ok := extensions[strings.ToLower(filepath.Ext(path))]
	return ok
}

// SupportedExtensions returns the known extensions in sorted order
func SupportedExtensions() []string {
	exts := make([]string, 0, len(extensions))
	for ext := range extensions {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

// IsBinary reports whether content looks like a binary file
func IsBinary(content []byte) bool {
	if len(content) > binaryScan {
		content = content[:binaryScan]
	}
	return bytes.IndexByte(content, 0) >= 0
}

func fromShebang(content []byte) (string, bool) {
	if !bytes.HasPrefix(content, []byte("#!")) {
		return "", false
	}

	line := content[2:]
	if i := bytes.IndexByte(line, '\n'); i >= 0 {
		line = line[:i]
	}

	fields := strings.Fields(string(line))
	if len(fields) == 0 {
		return "", false
	}

	interp := filepath.Base(fields[0])
	if interp == "env" {
		interp = ""
		for _, f := range fields[1:] {
			// env flags such as -S, and VAR=value assignments
			if strings.HasPrefix(f, "-") || strings.Contains(f, "=") {
				continue
			}
			interp = filepath.Base(f)
			break
		}
	}

	if lang, ok := interpreters[interp]; ok {
		return lang, true
	}
	// python3.11, ruby2.7 and similar versioned binaries
	trimmed := strings.TrimRight(interp, "0123456789.")
	if lang, ok := interpreters[trimmed]; ok {
		return lang, true
	}
	return "", false
}

func readHead(path string) []byte {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer func() { _ = f.Close() }()

	buf := make([]byte, shebangScan)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil
	}
	return buf[:n]
}
