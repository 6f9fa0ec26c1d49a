package docmeta

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/wiki-retrieval/pkg/postgres"
)

// SignalTable is an immutable doc_id -> value map, such as page views.
type SignalTable struct {
	name   string
	values map[uint64]float64
}

func NewSignalTable(name string, values map[uint64]float64) *SignalTable {
	if values == nil {
		values = map[uint64]float64{}
	}
	return &SignalTable{name: name, values: values}
}

func (t *SignalTable) Name() string { return t.name }

func (t *SignalTable) Len() int { return len(t.values) }

// Lookup returns the value for docID and whether it is present.
func (t *SignalTable) Lookup(docID uint64) (float64, bool) {
	v, ok := t.values[docID]
	return v, ok
}

// Each calls fn for every entry in unspecified order.
func (t *SignalTable) Each(fn func(docID uint64, value float64)) {
	for id, v := range t.values {
		fn(id, v)
	}
}

// LoadSignal loads one configured signal source. A "none" source yields an
// empty table. openPG is only called for postgres sources.
func LoadSignal(ctx context.Context, name string, src config.SignalSource, openPG func() (*postgres.Client, error)) (*SignalTable, error) {
	switch src.Source {
	case "", config.SourceNone:
		return NewSignalTable(name, nil), nil
	case config.SourceCSV:
		return LoadCSV(name, src.Path)
	case config.SourcePostgres:
		client, err := openPG()
		if err != nil {
			return nil, fmt.Errorf("signal %s: %v: %w", name, err, apperrors.ErrMetadataLoad)
		}
		return LoadPostgres(ctx, name, client.DB, src.Query)
	default:
		return nil, fmt.Errorf("signal %s: unknown source %q: %w", name, src.Source, apperrors.ErrMetadataLoad)
	}
}

// LoadCSV reads "doc_id,value" rows from path. Gzip input is detected by
// its magic bytes. An optional non-numeric header row is skipped.
func LoadCSV(name, path string) (*SignalTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("signal %s: %v: %w", name, err, apperrors.ErrMetadataLoad)
	}
	defer f.Close()
	t, err := ReadCSV(name, f)
	if err != nil {
		return nil, fmt.Errorf("signal %s from %s: %w", name, path, err)
	}
	slog.Default().With("component", "signals").Info("signal table loaded", "signal", name, "path", path, "entries", t.Len())
	return t, nil
}

// ReadCSV parses a possibly gzip-compressed CSV stream.
func ReadCSV(name string, r io.Reader) (*SignalTable, error) {
	br := bufio.NewReader(r)
	if magic, _ := br.Peek(2); bytes.Equal(magic, []byte{0x1f, 0x8b}) {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("opening gzip: %v: %w", err, apperrors.ErrMetadataLoad)
		}
		defer zr.Close()
		r = zr
	} else {
		r = br
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 2
	cr.ReuseRecord = true
	values := make(map[uint64]float64)
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%v: %w", err, apperrors.ErrMetadataLoad)
		}
		id, err := strconv.ParseUint(strings.TrimSpace(rec[0]), 10, 64)
		if err != nil {
			if line == 1 {
				continue
			}
			return nil, fmt.Errorf("line %d: bad doc id %q: %w", line, rec[0], apperrors.ErrMetadataLoad)
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: bad value %q: %w", line, rec[1], apperrors.ErrMetadataLoad)
		}
		values[id] = v
	}
	return NewSignalTable(name, values), nil
}

// Querier is satisfied by *sql.DB and *sql.Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// LoadPostgres runs query, which must return (doc_id, value) rows.
func LoadPostgres(ctx context.Context, name string, db Querier, query string) (*SignalTable, error) {
	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("signal %s: querying: %v: %w", name, err, apperrors.ErrMetadataLoad)
	}
	defer rows.Close()
	values := make(map[uint64]float64)
	for rows.Next() {
		var (
			id int64
			v  float64
		)
		if err := rows.Scan(&id, &v); err != nil {
			return nil, fmt.Errorf("signal %s: scanning: %v: %w", name, err, apperrors.ErrMetadataLoad)
		}
		if id < 0 {
			return nil, fmt.Errorf("signal %s: negative doc id %d: %w", name, id, apperrors.ErrMetadataLoad)
		}
		values[uint64(id)] = v
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("signal %s: %v: %w", name, err, apperrors.ErrMetadataLoad)
	}
	slog.Default().With("component", "signals").Info("signal table loaded", "signal", name, "source", "postgres", "entries", len(values))
	return NewSignalTable(name, values), nil
}

// signalColumns is the layout of a signal table in Postgres.
var signalColumns = []postgres.Column{
	{Name: "doc_id", Type: "BIGINT PRIMARY KEY"},
	{Name: "value", Type: "DOUBLE PRECISION NOT NULL"},
}

// SavePostgres replaces the contents of table with t, creating the table
// when needed. Rows are written in doc id order.
func SavePostgres(ctx context.Context, client *postgres.Client, table string, t *SignalTable) error {
	if err := client.EnsureTable(ctx, table, signalColumns); err != nil {
		return err
	}
	ids := make([]uint64, 0, len(t.values))
	for id := range t.values {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	i := 0
	n, err := client.ReplaceTable(ctx, table, []string{"doc_id", "value"}, func() ([]any, error) {
		if i == len(ids) {
			return nil, io.EOF
		}
		id := ids[i]
		i++
		return []any{int64(id), t.values[id]}, nil
	})
	if err != nil {
		return fmt.Errorf("signal %s: %w", t.name, err)
	}
	slog.Default().With("component", "signals").Info("signal table exported", "signal", t.name, "table", table, "rows", n)
	return nil
}
