/*
Copyright © 2026 Acronis International GmbH.

Released under MIT license.
*/

package migrate

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	sqlSuffix  = ".sql"
	downSuffix = ".down.sql"
	upSuffix   = ".up.sql"
)

// ErrEmptyScript is returned when a script file contains no SQL.
var ErrEmptyScript = errors.New("script contains no SQL statements")

// Script is a SQL migration loaded from a file.
// It is read once, sent once and not kept anywhere afterwards.
type Script struct {
	// ID is the file name without the .sql (or .up.sql) suffix, e.g. "0007_add_tracking_url".
	ID string
	// Path is the location the script was read from.
	Path string
	// SQL is the raw file content, sent as is in batch mode.
	SQL string
}

// NewScript creates a Script from in-memory SQL.
func NewScript(id, sqlText string) *Script {
	return &Script{ID: id, SQL: sqlText}
}

// Statements splits the script into individual statements.
func (s *Script) Statements() []string {
	return parseSQL(s.SQL)
}

// Seq returns the numeric prefix of the script ID and whether there is one.
func (s *Script) Seq() (uint64, bool) {
	return numericPrefix(s.ID)
}

// LoadFile reads a single script from the local filesystem.
func LoadFile(filePath string) (*Script, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read script %s: %w", filePath, err)
	}
	return newFileScript(filePath, filepath.Base(filePath), content)
}

// LoadFS reads a single script from fsys.
func LoadFS(fsys fs.FS, name string) (*Script, error) {
	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		return nil, fmt.Errorf("read script %s: %w", name, err)
	}
	return newFileScript(name, path.Base(name), content)
}

// LoadDir reads all *.sql files of dir in fsys (down migrations excluded) and returns them in apply order.
// Use os.DirFS for a directory on disk or an embed.FS for embedded scripts.
func LoadDir(fsys fs.FS, dir string) ([]*Script, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read directory %s: %w", dir, err)
	}

	var scripts []*Script
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, sqlSuffix) || strings.HasSuffix(name, downSuffix) {
			continue
		}
		script, loadErr := LoadFS(fsys, path.Join(dir, name))
		if loadErr != nil {
			return nil, loadErr
		}
		scripts = append(scripts, script)
	}
	SortScripts(scripts)
	return scripts, nil
}

func newFileScript(filePath, baseName string, content []byte) (*Script, error) {
	if len(parseSQL(string(content))) == 0 {
		return nil, fmt.Errorf("load script %s: %w", filePath, ErrEmptyScript)
	}
	id := strings.TrimSuffix(baseName, upSuffix)
	id = strings.TrimSuffix(id, sqlSuffix)
	return &Script{ID: id, Path: filePath, SQL: string(content)}, nil
}

// SortScripts orders scripts by the numeric prefix of their IDs ("2_x" before "10_y").
// Scripts without a numeric prefix go last, sorted by ID.
func SortScripts(scripts []*Script) {
	sort.SliceStable(scripts, func(i, j int) bool {
		return scriptLess(scripts[i], scripts[j])
	})
}

func scriptLess(a, b *Script) bool {
	aSeq, aOK := a.Seq()
	bSeq, bOK := b.Seq()
	switch {
	case aOK && bOK:
		if aSeq != bSeq {
			return aSeq < bSeq
		}
		return a.ID < b.ID
	case aOK != bOK:
		return aOK
	}
	return a.ID < b.ID
}

func numericPrefix(id string) (uint64, bool) {
	end := 0
	for end < len(id) && id[end] >= '0' && id[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, false
	}
	n, err := strconv.ParseUint(id[:end], 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// parseSQL splits SQL content into individual statements on top-level semicolons.
// Semicolons inside quoted strings, quoted identifiers, dollar-quoted bodies
// (CREATE FUNCTION ... AS $$ ... $$) and comments do not split.
// Statements consisting only of comments are dropped.
func parseSQL(content string) []string {
	var statements []string
	var cur strings.Builder
	hasCode := false

	flush := func() {
		stmt := strings.TrimSpace(cur.String())
		if hasCode && stmt != "" {
			statements = append(statements, stmt)
		}
		cur.Reset()
		hasCode = false
	}

	for i := 0; i < len(content); {
		c := content[i]
		switch {
		case c == '-' && strings.HasPrefix(content[i:], "--"):
			end := strings.IndexByte(content[i:], '\n')
			if end < 0 {
				end = len(content) - i
			}
			if hasCode {
				cur.WriteString(content[i : i+end])
			}
			i += end
		case c == '/' && strings.HasPrefix(content[i:], "/*"):
			end := strings.Index(content[i+2:], "*/")
			if end < 0 {
				end = len(content) - i
			} else {
				end += 4
			}
			if hasCode {
				cur.WriteString(content[i : i+end])
			}
			i += end
		case c == '\'' || c == '"' || c == '`':
			end := closingQuote(content, i, c)
			cur.WriteString(content[i:end])
			hasCode = true
			i = end
		case c == '$':
			tag, ok := dollarTag(content[i:])
			if !ok {
				cur.WriteByte(c)
				hasCode = true
				i++
				continue
			}
			bodyEnd := strings.Index(content[i+len(tag):], tag)
			end := len(content)
			if bodyEnd >= 0 {
				end = i + len(tag) + bodyEnd + len(tag)
			}
			cur.WriteString(content[i:end])
			hasCode = true
			i = end
		case c == ';':
			cur.WriteByte(c)
			flush()
			i++
		default:
			if !isSpace(c) {
				hasCode = true
			}
			if hasCode {
				cur.WriteByte(c)
			}
			i++
		}
	}
	flush()
	return statements
}

// closingQuote returns the index right after the quote that closes the one at start.
// A doubled quote character is an escaped quote.
func closingQuote(content string, start int, q byte) int {
	for i := start + 1; i < len(content); i++ {
		if content[i] != q {
			continue
		}
		if i+1 < len(content) && content[i+1] == q {
			i++
			continue
		}
		return i + 1
	}
	return len(content)
}

// dollarTag recognizes "$$" or "$tag$" at the beginning of s.
func dollarTag(s string) (string, bool) {
	for i := 1; i < len(s); i++ {
		c := s[i]
		if c == '$' {
			return s[:i+1], true
		}
		isIdent := c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (i > 1 && c >= '0' && c <= '9')
		if !isIdent {
			return "", false
		}
	}
	return "", false
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}
