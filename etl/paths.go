package etl

import (
	"fmt"
	"regexp"
	"time"
)

// ArchivePattern matches any valid archive key, local or remote.
// Submatches 1-5 are year, month, day, hour, minute.
var ArchivePattern = regexp.MustCompile(`netatmo_(\d{4})(\d{2})(\d{2})_(\d{2})(\d{2})\.json\.gz$`)

// ArchiveKey converts a UTC instant to the corresponding archive object key.
func ArchiveKey(t time.Time) string {
	t = t.UTC()
	return fmt.Sprintf("netatmo_%04d%02d%02d_%02d%02d.json.gz",
		t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute())
}

// ParseArchiveKey extracts the UTC instant encoded in an archive key.
func ParseArchiveKey(key string) (time.Time, error) {
	fields := ArchivePattern.FindStringSubmatch(key)
	if fields == nil {
		return time.Time{}, fmt.Errorf("invalid archive key: %s", key)
	}
	t, err := time.Parse("200601021504", fields[1]+fields[2]+fields[3]+fields[4]+fields[5])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid archive key: %s", key)
	}
	return t, nil
}

// ArchiveKeys expands a request window into the ordered list of archive
// keys, one for every instant start + k*step <= end.
func ArchiveKeys(req DataRequest) ([]string, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	step := time.Duration(req.StepMinutes) * time.Minute
	keys := make([]string, 0, int(req.End.Sub(req.Start)/step)+1)
	for ts := req.Start; !ts.After(req.End); ts = ts.Add(step) {
		keys = append(keys, ArchiveKey(ts))
	}
	return keys, nil
}
