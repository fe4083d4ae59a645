package worker_test

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/weatherlab/netatmo-etl/etl"
	"github.com/weatherlab/netatmo-etl/schema"
	"github.com/weatherlab/netatmo-etl/worker"
)

var runStart = time.Date(2016, 4, 1, 0, 0, 0, 0, time.UTC)

// archive builds a gzip archive containing n stations with one thermo
// observation each.
func archive(t *testing.T, n int, idPrefix string) []byte {
	t.Helper()
	var doc bytes.Buffer
	doc.WriteByte('[')
	for i := 0; i < n; i++ {
		if i > 0 {
			doc.WriteByte(',')
		}
		fmt.Fprintf(&doc,
			`{"_id": "%s-%04d", "location": [5.0, 52.0], "data": {"time_utc": %d, "Temperature": 10.0}}`,
			idPrefix, i, runStart.Unix()+int64(i))
	}
	doc.WriteByte(']')

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(doc.Bytes()); err != nil {
		t.Fatal(err)
	}
	if err := gz.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// fakeFetcher serves archives from memory and tracks its peak concurrency.
type fakeFetcher struct {
	mu      sync.Mutex
	data    map[string][]byte
	delay   time.Duration
	current int
	peak    int
	fetched []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	f.current++
	if f.current > f.peak {
		f.peak = f.current
	}
	f.fetched = append(f.fetched, key)
	f.mu.Unlock()

	time.Sleep(f.delay)

	f.mu.Lock()
	f.current--
	data, ok := f.data[key]
	f.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("%w: %s", etl.ErrNotFound, key)
	}
	return data, nil
}

// fakeInserter collects upserted chunks and tracks its peak concurrency.
type fakeInserter struct {
	mu      sync.Mutex
	delay   time.Duration
	err     error
	chunks  []int
	total   int
	current int
	peak    int
}

func (f *fakeInserter) UpsertStations(ctx context.Context, stations map[string]*schema.Station) (etl.UpsertReport, error) {
	f.mu.Lock()
	f.current++
	if f.current > f.peak {
		f.peak = f.current
	}
	f.mu.Unlock()

	time.Sleep(f.delay)

	f.mu.Lock()
	f.current--
	f.chunks = append(f.chunks, len(stations))
	f.total += len(stations)
	f.mu.Unlock()

	if f.err != nil {
		return etl.UpsertReport{}, f.err
	}
	return etl.UpsertReport{Upserted: int64(len(stations))}, nil
}

func request(nFiles int) etl.DataRequest {
	return etl.DataRequest{
		Start:       runStart,
		End:         runStart.Add(time.Duration(nFiles-1) * 10 * time.Minute),
		StepMinutes: 10,
	}
}

func TestRunIngestionInvalidRequest(t *testing.T) {
	_, err := worker.RunIngestion(context.Background(), etl.DataRequest{StepMinutes: 0},
		&fakeFetcher{}, &fakeInserter{}, worker.Config{})
	if !errors.Is(err, etl.ErrInvalidRequest) {
		t.Errorf("Expected ErrInvalidRequest, Got %v.", err)
	}
}

func TestRunIngestion(t *testing.T) {
	src := &fakeFetcher{data: map[string][]byte{}}
	for i := 0; i < 3; i++ {
		key := etl.ArchiveKey(runStart.Add(time.Duration(i) * 10 * time.Minute))
		src.data[key] = archive(t, 10, fmt.Sprintf("f%d", i))
	}
	ins := &fakeInserter{}

	ingestErrs, err := worker.RunIngestion(context.Background(), request(3), src, ins,
		worker.Config{MinChunkSize: 4})
	if err != nil {
		t.Fatal(err)
	}
	if len(ingestErrs) != 0 {
		t.Errorf("Expected no errors, Got %v.", ingestErrs)
	}
	if len(src.fetched) != 3 {
		t.Errorf("Expected 3 fetches, Got %d.", len(src.fetched))
	}
	if ins.total != 30 {
		t.Errorf("Expected 30 stations upserted, Got %d.", ins.total)
	}
	// 10 stations per file, 4 JSON workers, minimum 4: chunks of 4+4+2.
	for _, size := range ins.chunks {
		if size > 4 {
			t.Errorf("Chunk larger than expected: %d.", size)
		}
	}
}

func TestRunIngestionMissingArchive(t *testing.T) {
	// One-instant window, nothing in the store.
	src := &fakeFetcher{data: map[string][]byte{}}
	ins := &fakeInserter{}

	ingestErrs, err := worker.RunIngestion(context.Background(), request(1), src, ins, worker.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if len(ingestErrs) != 1 {
		t.Fatalf("Expected 1 error, Got %d.", len(ingestErrs))
	}
	if !errors.Is(ingestErrs[0], etl.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, Got %v.", ingestErrs[0])
	}
	if ingestErrs[0].Key != "netatmo_20160401_0000.json.gz" {
		t.Errorf("Unexpected key: %s.", ingestErrs[0].Key)
	}
	if ins.total != 0 {
		t.Errorf("Expected no DB writes, Got %d stations.", ins.total)
	}
}

func TestRunIngestionDecodeError(t *testing.T) {
	key0 := etl.ArchiveKey(runStart)
	key1 := etl.ArchiveKey(runStart.Add(10 * time.Minute))
	src := &fakeFetcher{data: map[string][]byte{
		key0: []byte("this is not gzip"),
		key1: archive(t, 5, "ok"),
	}}
	ins := &fakeInserter{}

	ingestErrs, err := worker.RunIngestion(context.Background(), request(2), src, ins, worker.Config{})
	if err != nil {
		t.Fatal(err)
	}
	// The broken file is recorded; the good one still lands.
	if len(ingestErrs) != 1 {
		t.Fatalf("Expected 1 error, Got %v.", ingestErrs)
	}
	var decodeErr etl.DecodeError
	if !errors.As(ingestErrs[0].Err, &decodeErr) {
		t.Errorf("Expected DecodeError, Got %v.", ingestErrs[0].Err)
	}
	if ins.total != 5 {
		t.Errorf("Expected 5 stations upserted, Got %d.", ins.total)
	}
}

func TestRunIngestionUpsertError(t *testing.T) {
	src := &fakeFetcher{data: map[string][]byte{
		etl.ArchiveKey(runStart): archive(t, 5, "x"),
	}}
	ins := &fakeInserter{err: errors.New("bulk write failed")}

	ingestErrs, err := worker.RunIngestion(context.Background(), request(1), src, ins, worker.Config{})
	if err != nil {
		t.Fatal(err)
	}
	if len(ingestErrs) != 1 {
		t.Fatalf("Expected 1 error, Got %v.", ingestErrs)
	}
	if ingestErrs[0].Source != "upsert" {
		t.Errorf("Expected upsert error, Got %s.", ingestErrs[0].Source)
	}
}

func TestConcurrencyCaps(t *testing.T) {
	src := &fakeFetcher{data: map[string][]byte{}, delay: 5 * time.Millisecond}
	for i := 0; i < 8; i++ {
		key := etl.ArchiveKey(runStart.Add(time.Duration(i) * 10 * time.Minute))
		src.data[key] = archive(t, 6, fmt.Sprintf("f%d", i))
	}
	ins := &fakeInserter{delay: 5 * time.Millisecond}

	cfg := worker.Config{
		FileWorkers:      4,
		JSONWorkers:      4,
		StoreConcurrency: 2,
		DBConcurrency:    1,
		MinChunkSize:     2,
	}
	ingestErrs, err := worker.RunIngestion(context.Background(), request(8), src, ins, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if len(ingestErrs) != 0 {
		t.Fatalf("Expected no errors, Got %v.", ingestErrs)
	}

	if src.peak > 2 {
		t.Errorf("Store concurrency cap violated: peak %d.", src.peak)
	}
	if ins.peak > 1 {
		t.Errorf("DB concurrency cap violated: peak %d.", ins.peak)
	}
	if ins.total != 48 {
		t.Errorf("Expected 48 stations, Got %d.", ins.total)
	}
}
