package record

import (
	"bytes"
	"io"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		rec  *Record
	}{
		{"small put", &Record{Type: Put, Seq: 1, Key: []byte("a"), Value: []byte("b")}},
		{"empty value", &Record{Type: Delete, Seq: 2, Key: []byte("a"), Value: nil}},
		{"binary", &Record{Type: Put, Seq: 3, Key: []byte{0, 1, 2, 3}, Value: []byte{9, 8, 7}}},
		{"large", &Record{Type: Put, Seq: 4, Key: bytes.Repeat([]byte("k"), 1024), Value: bytes.Repeat([]byte("v"), 2048)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if _, err := Encode(&buf, tt.rec); err != nil {
				t.Fatal(err)
			}

			got, err := Decode(&buf)
			if err != nil {
				t.Fatalf("decode error: %v", err)
			}
			if got.Type != tt.rec.Type || got.Seq != tt.rec.Seq ||
				!bytes.Equal(got.Key, tt.rec.Key) || !bytes.Equal(got.Value, tt.rec.Value) {
				t.Fatalf("mismatch: got %+v want %+v", got, tt.rec)
			}
		})
	}
}

func TestDecodeDetectsCorruption(t *testing.T) {
	rec := &Record{Type: Put, Seq: 1, Key: []byte("key"), Value: []byte("value")}
	frame, err := EncodeBytes(rec)
	if err != nil {
		t.Fatal(err)
	}

	frame[len(frame)-1] ^= 0xFF
	if _, err := Decode(bytes.NewReader(frame)); err != ErrCorrupt {
		t.Fatalf("expected ErrCorrupt, got %v", err)
	}
}

func TestDecodeDetectsTruncation(t *testing.T) {
	rec := &Record{Type: Put, Seq: 1, Key: []byte("key"), Value: []byte("value")}
	frame, err := EncodeBytes(rec)
	if err != nil {
		t.Fatal(err)
	}

	for i := 1; i < len(frame); i++ {
		_, err := Decode(bytes.NewReader(frame[:i]))
		if err != ErrShortRead && err != io.EOF {
			t.Fatalf("truncated at %d: expected ErrShortRead or EOF, got %v", i, err)
		}
	}
}

func TestDecodeMultipleRecords(t *testing.T) {
	var buf bytes.Buffer
	recs := []*Record{
		{Type: Put, Seq: 1, Key: []byte("a"), Value: []byte("1")},
		{Type: Put, Seq: 2, Key: []byte("b"), Value: []byte("2")},
		{Type: Delete, Seq: 3, Key: []byte("a")},
	}
	for _, r := range recs {
		if _, err := Encode(&buf, r); err != nil {
			t.Fatal(err)
		}
	}

	for i, want := range recs {
		got, err := Decode(&buf)
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		if got.Type != want.Type || got.Seq != want.Seq || !bytes.Equal(got.Key, want.Key) {
			t.Fatalf("record %d mismatch", i)
		}
	}

	if _, err := Decode(&buf); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestDecodeRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	var lenBuf [4]byte
	lenBuf[0] = 0xFF
	lenBuf[1] = 0xFF
	lenBuf[2] = 0xFF
	lenBuf[3] = 0xFF
	buf.Write(lenBuf[:])

	if _, err := Decode(&buf); err != ErrTooLarge {
		t.Fatalf("expected ErrTooLarge, got %v", err)
	}
}
