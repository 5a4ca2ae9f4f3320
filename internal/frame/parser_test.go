package frame

import (
	"reflect"
	"testing"
)

func TestFeedSingleRecord(t *testing.T) {
	var p Parser
	records := p.Feed("event: message\ndata: {\"id\":1}\nid: 7\n\n")
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	want := Record{Type: "message", Data: `{"id":1}`, ID: "7"}
	if records[0] != want {
		t.Errorf("record = %+v, want %+v", records[0], want)
	}
}

func TestFeedTypeAlias(t *testing.T) {
	var p Parser
	records := p.Feed("type: endpoint\ndata: /call\n\n")
	if len(records) != 1 || records[0].Type != "endpoint" {
		t.Fatalf("records = %+v", records)
	}
}

func TestMultiLineData(t *testing.T) {
	var p Parser
	records := p.Feed("data: first\ndata: second\ndata: third\n\n")
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].Data != "first\nsecond\nthird" {
		t.Errorf("data = %q", records[0].Data)
	}
}

func TestPartialLineHeldBack(t *testing.T) {
	var p Parser
	if records := p.Feed("data: hel"); len(records) != 0 {
		t.Fatalf("partial line produced records: %+v", records)
	}
	records := p.Feed("lo\n\n")
	if len(records) != 1 || records[0].Data != "hello" {
		t.Fatalf("records = %+v", records)
	}
}

func TestCRLFLines(t *testing.T) {
	var p Parser
	records := p.Feed("event: message\r\ndata: x\r\n\r\n")
	if len(records) != 1 {
		t.Fatalf("got %d records, want 1", len(records))
	}
	if records[0].Type != "message" || records[0].Data != "x" {
		t.Errorf("record = %+v", records[0])
	}
}

func TestCommentLinesIgnored(t *testing.T) {
	var p Parser
	records := p.Feed(": keepalive\ndata: x\n\n")
	if len(records) != 1 || records[0].Data != "x" {
		t.Fatalf("records = %+v", records)
	}
}

func TestEmptyStreamNoRecords(t *testing.T) {
	var p Parser
	if records := p.Feed("\n\n\n"); len(records) != 0 {
		t.Errorf("blank lines produced records: %+v", records)
	}
}

func TestFlushEmitsOpenRecord(t *testing.T) {
	var p Parser
	p.Feed("data: tail\n")
	rec, ok := p.Flush()
	if !ok || rec.Data != "tail" {
		t.Errorf("Flush() = %+v, %v", rec, ok)
	}
	if _, ok := p.Flush(); ok {
		t.Error("second Flush() should report nothing pending")
	}
}

// Splitting the same stream at every possible byte boundary must yield
// the same ordered record list as parsing it whole.
func TestChunkingInvariance(t *testing.T) {
	stream := "event: endpoint\ndata: /messages?s=1\n\nevent: message\nid: 3\ndata: line one\ndata: line two\n\ndata: solo\n\n"

	var whole Parser
	want := whole.Feed(stream)

	for split := 1; split < len(stream); split++ {
		var p Parser
		got := p.Feed(stream[:split])
		got = append(got, p.Feed(stream[split:])...)
		if !reflect.DeepEqual(got, want) {
			t.Fatalf("split at %d: got %+v, want %+v", split, got, want)
		}
	}
}

func TestChunkingInvarianceBytewise(t *testing.T) {
	stream := "event: message\ndata: {\"jsonrpc\":\"2.0\",\"id\":5}\n\n"

	var whole Parser
	want := whole.Feed(stream)

	var p Parser
	var got []Record
	for i := 0; i < len(stream); i++ {
		got = append(got, p.Feed(stream[i:i+1])...)
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("bytewise: got %+v, want %+v", got, want)
	}
}
