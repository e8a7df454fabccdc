// Package ingest turns raw admin input into candidate usernames: comma
// separated text typed into the desk, or the rows of an uploaded spreadsheet.
//
// Nothing here deduplicates. Repeated usernames are passed through and the
// round store drops them on insert.
package ingest

import (
	"errors"
	"strings"
	"unicode"
)

// ErrNoIdentifiers means a sheet had no column with an accepted username
// header, or every such cell was empty.
var ErrNoIdentifiers = errors.New("no valid usernames or roll numbers found")

// identifierHeaders are the normalized header names whose cells hold usernames.
var identifierHeaders = map[string]struct{}{
	"username":    {},
	"usernames":   {},
	"rollnum":     {},
	"rollno":      {},
	"rollnumber":  {},
	"rollnumbers": {},
	"rollnos":     {},
}

// SplitUsernames splits comma separated text into trimmed, non-empty usernames.
func SplitUsernames(text string) []string {
	out := []string{}
	for _, part := range strings.Split(text, ",") {
		if u := strings.TrimSpace(part); u != "" {
			out = append(out, u)
		}
	}
	return out
}

// NormalizeHeader lowercases h and strips whitespace and periods,
// so "Roll No." becomes "rollno".
func NormalizeHeader(h string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(h) {
		if unicode.IsSpace(r) || r == '.' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func IsIdentifierHeader(h string) bool {
	_, ok := identifierHeaders[NormalizeHeader(h)]
	return ok
}

// Sheet is a parsed first worksheet: the header row plus one map per data row.
type Sheet struct {
	Headers []string
	Rows    []map[string]string
}

// ExtractUsernames collects the trimmed, non-empty cells of every identifier
// column, row by row, visiting columns in header order.
func ExtractUsernames(sheet Sheet) ([]string, error) {
	var cols []string
	for _, h := range sheet.Headers {
		if IsIdentifierHeader(h) {
			cols = append(cols, h)
		}
	}

	out := []string{}
	for _, row := range sheet.Rows {
		for _, h := range cols {
			if v := strings.TrimSpace(row[h]); v != "" {
				out = append(out, v)
			}
		}
	}
	if len(out) == 0 {
		return nil, ErrNoIdentifiers
	}
	return out, nil
}
