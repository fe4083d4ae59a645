package task_test

import (
	"fmt"
	"testing"

	"github.com/weatherlab/netatmo-etl/schema"
	"github.com/weatherlab/netatmo-etl/task"
)

func stationMap(n int) map[string]*schema.Station {
	m := make(map[string]*schema.Station, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("station-%04d", i)
		m[id] = schema.NewStation(id, 52.0, 5.0)
	}
	return m
}

func TestSplitBalanced(t *testing.T) {
	chunks := task.Split(stationMap(100), 4, 10)
	if len(chunks) != 4 {
		t.Fatalf("Expected 4 chunks, Got %d.", len(chunks))
	}
	total := 0
	for _, c := range chunks {
		if len(c) != 25 {
			t.Errorf("Expected 25 stations per chunk, Got %d.", len(c))
		}
		total += len(c)
	}
	if total != 100 {
		t.Errorf("Expected 100 stations total, Got %d.", total)
	}
}

func TestSplitMinChunkSize(t *testing.T) {
	// 100 stations across 4 workers would be 25 each, but the minimum
	// wins: one chunk of 80, one remainder of 20.
	chunks := task.Split(stationMap(100), 4, 80)
	if len(chunks) != 2 {
		t.Fatalf("Expected 2 chunks, Got %d.", len(chunks))
	}
	sizes := []int{len(chunks[0]), len(chunks[1])}
	if sizes[0] != 80 || sizes[1] != 20 {
		t.Errorf("Expected sizes [80 20], Got %v.", sizes)
	}
	// Only the final chunk may be smaller than the minimum.
	for i, c := range chunks[:len(chunks)-1] {
		if len(c) < 80 {
			t.Errorf("Chunk %d below minimum: %d.", i, len(c))
		}
	}
}

func TestSplitSmallMap(t *testing.T) {
	chunks := task.Split(stationMap(5), 4, 3000)
	if len(chunks) != 1 {
		t.Fatalf("Expected 1 chunk, Got %d.", len(chunks))
	}
	if len(chunks[0]) != 5 {
		t.Errorf("Expected 5 stations, Got %d.", len(chunks[0]))
	}
}

func TestSplitEmpty(t *testing.T) {
	if chunks := task.Split(nil, 4, 3000); chunks != nil {
		t.Errorf("Expected nil, Got %v.", chunks)
	}
}

func TestSplitDisjoint(t *testing.T) {
	m := stationMap(50)
	chunks := task.Split(m, 5, 10)
	seen := make(map[string]int)
	for _, c := range chunks {
		for id := range c {
			seen[id]++
		}
	}
	if len(seen) != 50 {
		t.Errorf("Expected 50 distinct stations, Got %d.", len(seen))
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("Station %s appears in %d chunks.", id, n)
		}
	}
}
