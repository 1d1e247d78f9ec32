package persistence

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/neurocodex/codexdb/pkg/catalog"
	"github.com/neurocodex/codexdb/pkg/core"
	"github.com/neurocodex/codexdb/pkg/engine"
)

// timestampLayout formats the labels file modification date.
const timestampLayout = "2006-01-02"

// ReadTables reads every raw table of a dataset version directory in
// parallel. Absent optional tables are skipped; the engine reports absent
// required ones. A header that differs from the schema fails the read with
// core.ErrTableSchemaMismatch.
func ReadTables(ctx context.Context, dir string) (engine.Tables, error) {
	tables := engine.Tables{Rows: make(map[string][][]string, len(catalog.AllTables)), LabelsTimestamp: "?"}
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	for _, schema := range catalog.AllTables {
		g.Go(func() error {
			path := filepath.Join(dir, schema.File)
			info, err := os.Stat(path)
			if errors.Is(err, fs.ErrNotExist) {
				log.Printf("Table %s not found in %s", schema.Name, dir)
				return nil
			}
			if err != nil {
				return err
			}
			rows, err := readTable(ctx, path, schema)
			if err != nil {
				return err
			}

			mu.Lock()
			defer mu.Unlock()
			tables.Rows[schema.Name] = rows
			if schema.Name == catalog.LabelsTable.Name {
				tables.LabelsTimestamp = info.ModTime().UTC().Format(timestampLayout)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return engine.Tables{}, err
	}

	var total int
	for _, rows := range tables.Rows {
		total += len(rows)
	}
	log.Printf("Read %d tables from %s: %s rows (labels %s)",
		len(tables.Rows), dir, humanize.Comma(int64(total)), tables.LabelsTimestamp)
	return tables, nil
}

// readTable returns the table with its header as the first row. Files
// ending in .gz are decompressed.
func readTable(ctx context.Context, path string, schema catalog.TableSchema) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = bufio.NewReaderSize(f, 1<<20)
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if !schema.HeaderMatches(header) {
		return nil, fmt.Errorf("%w: %s header %v, expected %v",
			core.ErrTableSchemaMismatch, schema.Name, header, schema.Columns)
	}

	rows := [][]string{header}
	for i := 0; ; i++ {
		if i%100000 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		rows = append(rows, rec)
	}
	return rows, nil
}

// WriteTables writes raw tables as gzipped CSV files named by the schemas.
// Tables absent from t are not written.
func WriteTables(dir string, t engine.Tables) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	for _, schema := range catalog.AllTables {
		rows, ok := t.Rows[schema.Name]
		if !ok {
			continue
		}
		if err := writeTable(filepath.Join(dir, schema.File), rows); err != nil {
			return fmt.Errorf("writing %s: %w", schema.Name, err)
		}
	}
	return nil
}

func writeTable(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	gz := gzip.NewWriter(f)
	w := csv.NewWriter(gz)
	if err := w.WriteAll(rows); err != nil {
		f.Close()
		return err
	}
	if err := gz.Close(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
