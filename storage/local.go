package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/weatherlab/netatmo-etl/etl"
)

// LocalSource serves archive files from a directory, for the query path
// and for tests.
type LocalSource struct {
	Dir string
}

// Fetch reads one archive body from disk.  Missing files surface as
// etl.ErrNotFound.
func (src *LocalSource) Fetch(ctx context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(src.Dir, key))
	if os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: %s", etl.ErrNotFound, key)
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

// List returns the sorted archive keys present in the directory.
func (src *LocalSource) List() ([]string, error) {
	entries, err := os.ReadDir(src.Dir)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json.gz") {
			continue
		}
		keys = append(keys, e.Name())
	}
	sort.Strings(keys)
	return keys, nil
}
