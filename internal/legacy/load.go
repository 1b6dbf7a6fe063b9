package legacy

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	_ "modernc.org/sqlite"
)

// Load reads records from path, choosing the loader by extension:
// .db, .sqlite and .sqlite3 use LoadSQLite, everything else LoadJSON.
func Load(ctx context.Context, path string) ([]Record, error) {
	switch {
	case strings.HasSuffix(path, ".db"), strings.HasSuffix(path, ".sqlite"), strings.HasSuffix(path, ".sqlite3"):
		return LoadSQLite(ctx, path)
	}
	return LoadJSON(path)
}

// LoadJSON reads a JSON array of records or one record per line (JSON
// lines). Source order is preserved.
func LoadJSON(path string) ([]Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, goerr.Wrap(ErrSourceUnavailable, "failed to read legacy file",
			goerr.V("path", path), goerr.V("cause", err.Error()))
	}
	return ParseJSON(data)
}

// ParseJSON decodes a JSON array or JSON lines payload.
func ParseJSON(data []byte) ([]Record, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, nil
	}

	if trimmed[0] == '[' {
		var records []Record
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, goerr.Wrap(err, "failed to decode legacy records")
		}
		return records, nil
	}

	var records []Record
	scanner := bufio.NewScanner(bytes.NewReader(trimmed))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var r Record
		if err := json.Unmarshal(text, &r); err != nil {
			return nil, goerr.Wrap(err, "failed to decode legacy record", goerr.V("line", line))
		}
		records = append(records, r)
	}
	if err := scanner.Err(); err != nil {
		return nil, goerr.Wrap(err, "failed to scan legacy records")
	}
	return records, nil
}

// LoadSQLite reads the experiences table of a legacy SQLite database in
// rowid order. Columns are matched by name, so older databases missing
// optional columns still load.
func LoadSQLite(ctx context.Context, path string) ([]Record, error) {
	// sql.Open would silently create a missing file.
	if _, err := os.Stat(path); err != nil {
		return nil, goerr.Wrap(ErrSourceUnavailable, "legacy database not found",
			goerr.V("path", path), goerr.V("cause", err.Error()))
	}

	db, err := sql.Open("sqlite", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, goerr.Wrap(ErrSourceUnavailable, "failed to open legacy database",
			goerr.V("path", path), goerr.V("cause", err.Error()))
	}
	defer db.Close()

	rows, err := db.QueryContext(ctx, `SELECT * FROM experiences ORDER BY rowid`)
	if err != nil {
		return nil, goerr.Wrap(ErrSourceUnavailable, "failed to query legacy experiences",
			goerr.V("path", path), goerr.V("cause", err.Error()))
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read legacy columns")
	}

	var records []Record
	for rows.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, goerr.Wrap(err, "failed to scan legacy row")
		}

		var r Record
		for i, col := range columns {
			if values[i] == nil {
				continue
			}
			r.setField(col, columnString(values[i]))
		}
		records = append(records, r)
	}

	if err := rows.Err(); err != nil {
		return nil, goerr.Wrap(err, "error iterating legacy rows")
	}
	return records, nil
}

func columnString(v any) string {
	switch t := v.(type) {
	case []byte:
		return string(t)
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
