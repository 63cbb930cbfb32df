package syncer

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CSVDir is a RowSource over a directory of exported workbooks: one
// subdirectory per venue, one CSV file per tab. It exists so backfills can
// run from a local export without the sheet backend, and it is what the
// tests drive.
type CSVDir struct {
	root string
}

// NewCSVDir builds a CSVDir rooted at dir.
func NewCSVDir(dir string) *CSVDir {
	return &CSVDir{root: dir}
}

// Tabs implements RowSource. Tab names are the CSV file names without
// extension.
func (d *CSVDir) Tabs(_ context.Context, venue string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(d.root, venue))
	if err != nil {
		return nil, fmt.Errorf("read venue export %s: %w", venue, err)
	}

	var tabs []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(name), ".csv") {
			continue
		}
		tabs = append(tabs, strings.TrimSuffix(name, filepath.Ext(name)))
	}
	return tabs, nil
}

// Rows implements RowSource.
func (d *CSVDir) Rows(_ context.Context, venue, tab string) ([][]string, error) {
	path := filepath.Join(d.root, venue, tab+".csv")
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open tab export %s: %w", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse tab export %s: %w", path, err)
	}
	return rows, nil
}
