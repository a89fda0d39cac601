package report

import (
	"bytes"
	"compress/zlib"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/beamsim/spearsim/internal/history"
)

// extractPDFText decompresses all zlib-compressed streams in raw PDF bytes
// and returns the concatenated decompressed content for text searching.
func extractPDFText(data []byte) []byte {
	var result []byte
	streamTag := []byte("stream\n")
	endTag := []byte("\nendstream")
	for {
		start := bytes.Index(data, streamTag)
		if start == -1 {
			break
		}
		data = data[start+len(streamTag):]
		end := bytes.Index(data, endTag)
		if end == -1 {
			break
		}
		compressed := bytes.TrimRight(data[:end], "\r\n ")
		r, err := zlib.NewReader(bytes.NewReader(compressed))
		if err == nil {
			decompressed, err := io.ReadAll(r)
			r.Close()
			if err == nil {
				result = append(result, decompressed...)
			}
		}
		data = data[end+len(endTag):]
	}
	return result
}

func seededHistory(t *testing.T) *history.Store {
	t.Helper()
	h, err := history.New(":memory:")
	if err != nil {
		t.Fatalf("history.New: %v", err)
	}
	t.Cleanup(func() { h.Close() })

	if err := h.RecordSample(499.2, "Beam", "None"); err != nil {
		t.Fatalf("RecordSample: %v", err)
	}
	if err := h.RecordSample(494.8, "Inject", "Injecting"); err != nil {
		t.Fatalf("RecordSample: %v", err)
	}
	if err := h.RecordTransition("Beam", "Inject", "threshold"); err != nil {
		t.Fatalf("RecordTransition: %v", err)
	}
	if err := h.RecordFault("Down", "Beam", "random fault", "simulator entered Down mode"); err != nil {
		t.Fatalf("RecordFault: %v", err)
	}
	return h
}

func TestExportPDF(t *testing.T) {
	h := seededHistory(t)

	var buf bytes.Buffer
	if err := ExportPDF(&buf, "spear-01", h, time.Time{}); err != nil {
		t.Fatalf("ExportPDF: %v", err)
	}

	data := buf.Bytes()
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		t.Fatalf("expected PDF magic, got %q", data[:8])
	}

	text := string(extractPDFText(data))
	for _, want := range []string{
		"Beam History Report",
		"spear-01",
		"499.200",
		"threshold",
		"random fault",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("expected PDF text to contain %q", want)
		}
	}
}

func TestExportPDFEmptyHistory(t *testing.T) {
	h, err := history.New(":memory:")
	if err != nil {
		t.Fatalf("history.New: %v", err)
	}
	defer h.Close()

	var buf bytes.Buffer
	if err := ExportPDF(&buf, "spear-01", h, time.Time{}); err != nil {
		t.Fatalf("ExportPDF: %v", err)
	}

	text := string(extractPDFText(buf.Bytes()))
	if !strings.Contains(text, "No samples recorded.") {
		t.Error("expected empty-history placeholder text")
	}
	if !strings.Contains(text, "No faults recorded.") {
		t.Error("expected empty-faults placeholder text")
	}
}
