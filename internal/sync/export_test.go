package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestExportJSONL_Empty(t *testing.T) {
	ms := newMockStore()
	var buf bytes.Buffer
	stats, err := ExportJSONL(context.Background(), ms, &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats != (Stats{}) {
		t.Errorf("stats = %+v", stats)
	}

	lines := nonEmptyLines(buf.String())
	if len(lines) != 1 {
		t.Fatalf("expected 1 line (header only), got %d", len(lines))
	}

	var h header
	if err := json.Unmarshal([]byte(lines[0]), &h); err != nil {
		t.Fatalf("unmarshal header: %v", err)
	}
	if h.Version != "1" || h.Type != "header" || h.EntryCount != 0 || h.SessionCount != 0 {
		t.Fatalf("unexpected header: %+v", h)
	}
}

func TestExportJSONL_Entries(t *testing.T) {
	ms := newMockStore()
	ms.add("ses-a", "m1", "session.created")
	ms.add("ses-b", "m2", "session.created")
	ms.add("ses-a", "m3", "gate.request")

	var buf bytes.Buffer
	stats, err := ExportJSONL(context.Background(), ms, &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Entries != 3 || stats.Sessions != 2 || stats.LastID != 3 {
		t.Errorf("stats = %+v", stats)
	}

	lines := nonEmptyLines(buf.String())
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d:\n%s", len(lines), buf.String())
	}
	for i, want := range []string{"m1", "m2", "m3"} {
		var rec record
		if err := json.Unmarshal([]byte(lines[i+1]), &rec); err != nil {
			t.Fatalf("unmarshal line %d: %v", i+1, err)
		}
		if rec.Type != "entry" || rec.Data.MessageID != want {
			t.Errorf("line %d = %+v, want entry %s", i+1, rec, want)
		}
	}
}

func TestExportJSONL_Pages(t *testing.T) {
	ms := newMockStore()
	for i := range pageSize + 3 {
		ms.add("ses-a", fmt.Sprintf("m%d", i), "heartbeat")
	}
	var buf bytes.Buffer
	stats, err := ExportJSONL(context.Background(), ms, &buf)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if stats.Entries != pageSize+3 || stats.LastID != int64(pageSize+3) {
		t.Errorf("stats = %+v", stats)
	}
}

func TestExportJSONL_ListError(t *testing.T) {
	ms := newMockStore()
	ms.listErr = errListFailed
	_, err := ExportJSONL(context.Background(), ms, &bytes.Buffer{})
	if !errors.Is(err, errListFailed) {
		t.Fatalf("err = %v", err)
	}
}

func nonEmptyLines(s string) []string {
	var result []string
	for _, line := range strings.Split(s, "\n") {
		if strings.TrimSpace(line) != "" {
			result = append(result, line)
		}
	}
	return result
}
