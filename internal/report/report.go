// Package report renders beam history into PDF reports.
package report

import (
	"fmt"
	"io"
	"time"

	"github.com/go-pdf/fpdf"

	"github.com/beamsim/spearsim/internal/history"
)

// ExportPDF writes a beam history report covering everything recorded
// since the given time.
func ExportPDF(w io.Writer, instance string, h *history.Store, since time.Time) error {
	samples, err := h.QuerySamples(since, 0)
	if err != nil {
		return fmt.Errorf("query samples: %w", err)
	}
	transitions, err := h.QueryTransitions(since)
	if err != nil {
		return fmt.Errorf("query transitions: %w", err)
	}
	faults, err := h.QueryFaults(since)
	if err != nil {
		return fmt.Errorf("query faults: %w", err)
	}

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetAutoPageBreak(true, 15)
	pdf.AddPage()

	// Title
	pdf.SetFont("Arial", "B", 18)
	pdf.CellFormat(0, 12, "Beam History Report", "", 1, "C", false, 0, "")
	pdf.Ln(4)

	// Report info
	pdf.SetFont("Arial", "", 10)
	info := []struct{ label, value string }{
		{"Instance", instance},
		{"Period start", since.Format(time.RFC3339)},
		{"Generated", time.Now().Format(time.RFC3339)},
		{"Samples", fmt.Sprintf("%d", len(samples))},
		{"Mode transitions", fmt.Sprintf("%d", len(transitions))},
		{"Faults", fmt.Sprintf("%d", len(faults))},
	}
	for _, item := range info {
		pdf.SetFont("Arial", "B", 10)
		pdf.CellFormat(45, 7, item.label+":", "", 0, "L", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(0, 7, item.value, "", 1, "L", false, 0, "")
	}
	pdf.Ln(6)

	// --- Current summary ---
	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(0, 8, "Beam Current", "", 1, "L", false, 0, "")
	pdf.Ln(2)

	if len(samples) == 0 {
		pdf.SetFont("Arial", "I", 10)
		pdf.CellFormat(0, 7, "No samples recorded.", "", 1, "L", false, 0, "")
	} else {
		min, max, sum := samples[0].BeamCurrentAvg, samples[0].BeamCurrentAvg, 0.0
		for _, s := range samples {
			if s.BeamCurrentAvg < min {
				min = s.BeamCurrentAvg
			}
			if s.BeamCurrentAvg > max {
				max = s.BeamCurrentAvg
			}
			sum += s.BeamCurrentAvg
		}
		mean := sum / float64(len(samples))

		pdf.SetFont("Arial", "", 10)
		pdf.CellFormat(0, 7, fmt.Sprintf("Mean: %.3f mA    Min: %.3f mA    Max: %.3f mA", mean, min, max), "", 1, "L", false, 0, "")
		pdf.Ln(2)

		// Most recent samples, newest first
		pdf.SetFont("Arial", "B", 9)
		pdf.SetFillColor(220, 220, 220)
		pdf.CellFormat(45, 7, "Time", "1", 0, "L", true, 0, "")
		pdf.CellFormat(40, 7, "Current (mA)", "1", 0, "R", true, 0, "")
		pdf.CellFormat(30, 7, "Mode", "1", 0, "L", true, 0, "")
		pdf.CellFormat(0, 7, "Phase", "1", 1, "L", true, 0, "")

		pdf.SetFont("Arial", "", 9)
		shown := samples
		if len(shown) > 40 {
			shown = shown[len(shown)-40:]
		}
		for i := len(shown) - 1; i >= 0; i-- {
			s := shown[i]
			pdf.CellFormat(45, 6, s.Timestamp.Format("2006-01-02 15:04:05"), "1", 0, "L", false, 0, "")
			pdf.CellFormat(40, 6, fmt.Sprintf("%.3f", s.BeamCurrentAvg), "1", 0, "R", false, 0, "")
			pdf.CellFormat(30, 6, s.MachineMode, "1", 0, "L", false, 0, "")
			pdf.CellFormat(0, 6, s.InjectionPhase, "1", 1, "L", false, 0, "")
		}
	}
	pdf.Ln(6)

	// --- Mode transitions ---
	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(0, 8, "Mode Transitions", "", 1, "L", false, 0, "")
	pdf.Ln(2)

	if len(transitions) == 0 {
		pdf.SetFont("Arial", "I", 10)
		pdf.CellFormat(0, 7, "No mode transitions recorded.", "", 1, "L", false, 0, "")
	} else {
		pdf.SetFont("Arial", "B", 9)
		pdf.SetFillColor(220, 220, 220)
		pdf.CellFormat(45, 7, "Time", "1", 0, "L", true, 0, "")
		pdf.CellFormat(30, 7, "From", "1", 0, "L", true, 0, "")
		pdf.CellFormat(30, 7, "To", "1", 0, "L", true, 0, "")
		pdf.CellFormat(0, 7, "Reason", "1", 1, "L", true, 0, "")

		pdf.SetFont("Arial", "", 9)
		for _, tr := range transitions {
			pdf.CellFormat(45, 6, tr.Timestamp.Format("2006-01-02 15:04:05"), "1", 0, "L", false, 0, "")
			pdf.CellFormat(30, 6, tr.FromMode, "1", 0, "L", false, 0, "")
			pdf.CellFormat(30, 6, tr.ToMode, "1", 0, "L", false, 0, "")
			pdf.CellFormat(0, 6, truncate(tr.Reason, 40), "1", 1, "L", false, 0, "")
		}
	}
	pdf.Ln(6)

	// --- Faults ---
	pdf.SetFont("Arial", "B", 12)
	pdf.CellFormat(0, 8, "Faults", "", 1, "L", false, 0, "")
	pdf.Ln(2)

	if len(faults) == 0 {
		pdf.SetFont("Arial", "I", 10)
		pdf.CellFormat(0, 7, "No faults recorded.", "", 1, "L", false, 0, "")
	} else {
		pdf.SetFont("Arial", "B", 9)
		pdf.SetFillColor(220, 220, 220)
		pdf.CellFormat(45, 7, "Time", "1", 0, "L", true, 0, "")
		pdf.CellFormat(30, 7, "Prior Mode", "1", 0, "L", true, 0, "")
		pdf.CellFormat(30, 7, "Mode", "1", 0, "L", true, 0, "")
		pdf.CellFormat(0, 7, "Reason", "1", 1, "L", true, 0, "")

		pdf.SetFont("Arial", "", 9)
		for _, f := range faults {
			pdf.CellFormat(45, 6, f.Timestamp.Format("2006-01-02 15:04:05"), "1", 0, "L", false, 0, "")
			pdf.CellFormat(30, 6, f.PriorMode, "1", 0, "L", false, 0, "")
			pdf.CellFormat(30, 6, f.Mode, "1", 0, "L", false, 0, "")
			pdf.CellFormat(0, 6, truncate(f.Reason, 40), "1", 1, "L", false, 0, "")
		}
	}

	return pdf.Output(w)
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max-3] + "..."
}
