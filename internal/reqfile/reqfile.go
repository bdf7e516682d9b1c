// Package reqfile reads requirement files: the hand-written input lists
// and the pinned output files that seed the next run's prior pins.
package reqfile

import (
	"bufio"
	_ "crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	digest "github.com/opencontainers/go-digest"

	"github.com/jward/pinset/internal/req"
)

// Line is one logical requirement line.
type Line struct {
	Requirement req.Requirement
	// Text is the logical line with continuations joined and options removed.
	Text string
	// LineNo is the 1-based physical line the logical line starts on.
	LineNo int
	// File is the path the line was read from, empty for readers.
	File   string
	Hashes []digest.Digest
}

// Parse reads requirement lines from r. Option lines other than editables
// are skipped; include directives are not followed.
func Parse(r io.Reader) ([]Line, error) {
	return parse(r, "", nil)
}

// ParseFile reads path, following "-r" and "--requirement" includes
// relative to the including file.
func ParseFile(path string) ([]Line, error) {
	return parseFile(path, map[string]bool{})
}

func parseFile(path string, seen map[string]bool) ([]Line, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("reqfile: %s: %w", path, err)
	}
	if seen[abs] {
		return nil, fmt.Errorf("reqfile: %s: include cycle", path)
	}
	seen[abs] = true

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reqfile: %w", err)
	}
	defer f.Close()

	include := func(target string) ([]Line, error) {
		if !filepath.IsAbs(target) {
			target = filepath.Join(filepath.Dir(path), target)
		}
		return parseFile(target, seen)
	}
	return parse(f, path, include)
}

func parse(r io.Reader, file string, include func(string) ([]Line, error)) ([]Line, error) {
	var lines []Line
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var logical strings.Builder
	start, lineNo := 0, 0
	for scanner.Scan() {
		lineNo++
		text := scanner.Text()
		if logical.Len() == 0 {
			start = lineNo
		}
		if trimmed := strings.TrimRight(text, " \t"); strings.HasSuffix(trimmed, `\`) {
			logical.WriteString(strings.TrimSuffix(trimmed, `\`))
			logical.WriteByte(' ')
			continue
		}
		logical.WriteString(text)
		parsed, err := parseLogical(logical.String(), file, start, include)
		logical.Reset()
		if err != nil {
			return nil, err
		}
		lines = append(lines, parsed...)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reqfile: read %s: %w", file, err)
	}
	if logical.Len() > 0 {
		parsed, err := parseLogical(logical.String(), file, start, include)
		if err != nil {
			return nil, err
		}
		lines = append(lines, parsed...)
	}
	return lines, nil
}

func parseLogical(text, file string, lineNo int, include func(string) ([]Line, error)) ([]Line, error) {
	fields := strings.Fields(text)
	if len(fields) == 0 || strings.HasPrefix(fields[0], "#") {
		return nil, nil
	}

	if target, ok := includeTarget(fields); ok {
		if include == nil {
			return nil, nil
		}
		return include(target)
	}
	if strings.HasPrefix(fields[0], "-") && fields[0] != "-e" && !strings.HasPrefix(fields[0], "--editable") {
		return nil, nil
	}

	var kept []string
	var hashes []digest.Digest
	for i := 0; i < len(fields); i++ {
		f := fields[i]
		if strings.HasPrefix(f, "#") {
			break
		}
		value, isHash := strings.CutPrefix(f, "--hash=")
		if !isHash && f == "--hash" && i+1 < len(fields) {
			value, isHash = fields[i+1], true
			i++
		}
		if isHash {
			d, err := digest.Parse(value)
			if err != nil {
				return nil, fmt.Errorf("reqfile: %s:%d: invalid hash %q: %w", file, lineNo, value, err)
			}
			hashes = append(hashes, d)
			continue
		}
		kept = append(kept, f)
	}

	body := strings.Join(kept, " ")
	r, err := req.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("reqfile: %s:%d: %w", file, lineNo, err)
	}
	return []Line{{Requirement: r, Text: body, LineNo: lineNo, File: file, Hashes: hashes}}, nil
}

func includeTarget(fields []string) (string, bool) {
	switch {
	case (fields[0] == "-r" || fields[0] == "--requirement") && len(fields) > 1:
		return fields[1], true
	case strings.HasPrefix(fields[0], "--requirement="):
		return strings.TrimPrefix(fields[0], "--requirement="), true
	case strings.HasPrefix(fields[0], "-r") && len(fields[0]) > 2:
		return fields[0][2:], true
	}
	return "", false
}
