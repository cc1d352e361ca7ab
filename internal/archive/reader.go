package archive

import (
	"bytes"
	"compress/gzip"
	"database/sql"
	"errors"
	"fmt"
	"io"

	"github.com/MeKo-Tech/texturemaps/internal/maps"
)

// Reader reads maps from an archive database.
type Reader struct {
	db   *sql.DB
	path string
}

// OpenReader opens an archive database for reading.
func OpenReader(path string) (*Reader, error) {
	db, err := sql.Open("sqlite", path+"?mode=ro&immutable=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	var count int
	err = db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='maps'").Scan(&count)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to verify schema: %w", err)
	}
	if count == 0 {
		db.Close()
		return nil, fmt.Errorf("database does not contain maps table")
	}

	return &Reader{
		db:   db,
		path: path,
	}, nil
}

// ReadMap returns the decompressed map of source and kind. An empty
// settingsHash matches any settings and picks the most recently written map.
func (r *Reader) ReadMap(source string, kind maps.Kind, settingsHash string) (Map, error) {
	query := `SELECT settings_hash, format, width, height, tile_data FROM maps
		WHERE source=? AND kind=?`
	args := []any{source, string(kind)}
	if settingsHash != "" {
		query += " AND settings_hash=?"
		args = append(args, settingsHash)
	}
	query += " ORDER BY rowid DESC LIMIT 1"

	m := Map{Source: source, Kind: kind}
	var compressed []byte
	err := r.db.QueryRow(query, args...).Scan(&m.SettingsHash, &m.Format, &m.Width, &m.Height, &compressed)
	if errors.Is(err, sql.ErrNoRows) {
		return Map{}, fmt.Errorf("%s/%s: %w", source, kind, ErrNotFound)
	}
	if err != nil {
		return Map{}, fmt.Errorf("failed to query map: %w", err)
	}

	m.Data, err = gzipDecompress(compressed)
	if err != nil {
		return Map{}, fmt.Errorf("failed to decompress map: %w", err)
	}

	return m, nil
}

// List returns every stored map ordered by source and kind.
func (r *Reader) List() ([]Entry, error) {
	rows, err := r.db.Query(`SELECT source, settings_hash, kind, format, width, height, length(tile_data)
		FROM maps ORDER BY source, kind, settings_hash`)
	if err != nil {
		return nil, fmt.Errorf("failed to query maps: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var kind string
		if err := rows.Scan(&e.Source, &e.SettingsHash, &kind, &e.Format, &e.Width, &e.Height, &e.Size); err != nil {
			return nil, fmt.Errorf("failed to scan map row: %w", err)
		}
		e.Kind = maps.Kind(kind)
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating maps: %w", err)
	}

	return entries, nil
}

// Metadata reads metadata from the database.
func (r *Reader) Metadata() (Metadata, error) {
	rows, err := r.db.Query("SELECT name, value FROM metadata")
	if err != nil {
		return Metadata{}, fmt.Errorf("failed to query metadata: %w", err)
	}
	defer rows.Close()

	metaMap := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return Metadata{}, fmt.Errorf("failed to scan metadata row: %w", err)
		}
		metaMap[name] = value
	}

	if err := rows.Err(); err != nil {
		return Metadata{}, fmt.Errorf("error iterating metadata: %w", err)
	}

	return Metadata{
		Name:        metaMap["name"],
		Description: metaMap["description"],
		Version:     metaMap["version"],
		Generator:   metaMap["generator"],
		Format:      metaMap["format"],
	}, nil
}

// Close closes the database connection.
func (r *Reader) Close() error {
	if err := r.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

func gzipDecompress(data []byte) ([]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer gr.Close()

	return io.ReadAll(gr)
}
