package archive

import (
	"bufio"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
)

// Table is one decoded table section of an archive file
type Table struct {
	Name    string
	Columns []string
	Rows    [][]any
}

// File is a fully decoded archive
type File struct {
	Header Header
	Tables []Table
}

// Read decodes an archive file, transparently handling gzip
func Read(path string) (*File, error) {
	f, err := os.Open(path) // #nosec G304 -- operator-supplied archive path
	if err != nil {
		return nil, fmt.Errorf("failed to open archive: %w", err)
	}
	defer func() { _ = f.Close() }()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open compressed archive: %w", err)
		}
		defer func() { _ = gz.Close() }()
		r = gz
	}
	return decode(r)
}

func decode(r io.Reader) (*File, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read archive header: %w", err)
		}
		return nil, fmt.Errorf("archive is empty")
	}

	file := &File{}
	if err := json.Unmarshal(scanner.Bytes(), &file.Header); err != nil {
		return nil, fmt.Errorf("failed to decode archive header: %w", err)
	}
	if file.Header.Version != FormatVersion {
		return nil, fmt.Errorf("unsupported archive version %d", file.Header.Version)
	}

	var current *Table
	line := 1
	for scanner.Scan() {
		line++
		text := scanner.Text()
		switch {
		case strings.HasPrefix(text, "TABLE: "):
			file.Tables = append(file.Tables, Table{Name: strings.TrimPrefix(text, "TABLE: ")})
			current = &file.Tables[len(file.Tables)-1]

		case strings.HasPrefix(text, "COLUMNS: "):
			if current == nil {
				return nil, fmt.Errorf("line %d: COLUMNS before TABLE", line)
			}
			if err := json.Unmarshal([]byte(strings.TrimPrefix(text, "COLUMNS: ")), &current.Columns); err != nil {
				return nil, fmt.Errorf("line %d: failed to decode columns: %w", line, err)
			}

		case strings.HasPrefix(text, "DATA: "):
			if current == nil {
				return nil, fmt.Errorf("line %d: DATA before TABLE", line)
			}
			var row []any
			if err := json.Unmarshal([]byte(strings.TrimPrefix(text, "DATA: ")), &row); err != nil {
				return nil, fmt.Errorf("line %d: failed to decode row: %w", line, err)
			}
			if len(current.Columns) > 0 && len(row) != len(current.Columns) {
				return nil, fmt.Errorf("line %d: row has %d values, expected %d", line, len(row), len(current.Columns))
			}
			current.Rows = append(current.Rows, row)

		case text == "":
			// Trailing blank lines are tolerated.

		default:
			return nil, fmt.Errorf("line %d: unrecognized archive line", line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read archive: %w", err)
	}
	return file, nil
}
