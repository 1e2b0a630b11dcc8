package wire_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/qreshi/opensearch-alerting/wire"
)

func TestWriter_Reader_RoundTrip(t *testing.T) {
	var w wire.Writer
	w.WriteString("email to ops")
	w.WriteBool(true)
	w.WriteBool(false)
	w.WriteUvarint(5)
	w.WriteStringList([]string{"a1", "a2", ""})
	w.WriteString("")

	r := wire.NewReader(w.Bytes())

	if got, err := r.ReadString(); err != nil || got != "email to ops" {
		t.Fatalf("ReadString: got %q, %v", got, err)
	}
	if got, err := r.ReadBool(); err != nil || !got {
		t.Fatalf("ReadBool: got %v, %v", got, err)
	}
	if got, err := r.ReadBool(); err != nil || got {
		t.Fatalf("ReadBool: got %v, %v", got, err)
	}
	if got, err := r.ReadUvarint(); err != nil || got != 5 {
		t.Fatalf("ReadUvarint: got %d, %v", got, err)
	}
	got, err := r.ReadStringList()
	if err != nil {
		t.Fatal(err)
	}
	if !cmp.Equal(got, []string{"a1", "a2", ""}) {
		t.Errorf("unexpected list: %s", cmp.Diff([]string{"a1", "a2", ""}, got))
	}
	if got, err := r.ReadString(); err != nil || got != "" {
		t.Fatalf("ReadString: got %q, %v", got, err)
	}
	if r.Remaining() != 0 {
		t.Errorf("expected fully consumed record, %d bytes remain", r.Remaining())
	}
}

func TestReader_EmptyStringAtEnd(t *testing.T) {
	var w wire.Writer
	w.WriteString("payload")
	w.WriteString("")

	r := wire.NewReader(w.Bytes())
	if got, err := r.ReadString(); err != nil || got != "payload" {
		t.Fatalf("ReadString: got %q, %v", got, err)
	}
	// The record ends with a zero-length field; that is not truncation.
	if got, err := r.ReadString(); err != nil || got != "" {
		t.Fatalf("empty string at end of record: got %q, %v", got, err)
	}
	if r.Remaining() != 0 {
		t.Errorf("expected fully consumed record, %d bytes remain", r.Remaining())
	}
}

func TestReader_Truncated(t *testing.T) {
	var w wire.Writer
	w.WriteString("a long enough value")
	data := w.Bytes()

	r := wire.NewReader(data[:4])
	if _, err := r.ReadString(); err == nil {
		t.Fatal("expected error reading truncated string")
	}
}

func TestReader_InvalidBool(t *testing.T) {
	r := wire.NewReader([]byte{0x02})
	if _, err := r.ReadBool(); err == nil {
		t.Fatal("expected error for invalid bool byte")
	}
}

func TestReader_EmptyList(t *testing.T) {
	var w wire.Writer
	w.WriteStringList(nil)
	r := wire.NewReader(w.Bytes())
	l, err := r.ReadStringList()
	if err != nil {
		t.Fatal(err)
	}
	if len(l) != 0 {
		t.Errorf("expected empty list, got %v", l)
	}
}
