package main

import (
	"fmt"
	"time"

	"github.com/beamsim/spearsim/internal/protocol"
)

// DisplayMessage wraps a parsed protocol message with channel and display
// metadata.
type DisplayMessage struct {
	Timestamp time.Time
	Channel   string
	Direction string // "→" for requests, "←" for events and responses
	Message   *protocol.Message
}

// FormatMessage formats a DisplayMessage for terminal output with ANSI
// color coding.
// Format: time  channel  direction  type  detail fields
func FormatMessage(dm *DisplayMessage) string {
	ts := dm.Timestamp.Format("15:04:05.000")

	corrID := dm.Message.Envelope.CorrelationID
	if len(corrID) > 8 {
		corrID = corrID[:8]
	}

	var detail, color string
	switch dm.Message.Envelope.Type {
	case protocol.TypeServiceHeartbeat:
		color = colorCyan
		hb, err := protocol.ParseHeartbeat(dm.Message)
		if err == nil {
			detail = fmt.Sprintf("status=%s  mode=%s  current=%.3fmA  ticks=%d",
				hb.Status, hb.MachineMode, hb.BeamCurrentAvg, hb.Ticks)
			if warnings := BeamWarnings(hb); len(warnings) > 0 {
				detail += fmt.Sprintf("  %s%v%s", colorYellow, warnings, colorCyan)
			}
		} else {
			detail = "(parse error)"
		}

	case protocol.TypeSystemFault:
		color = colorRed
		fault, err := protocol.ParseFault(dm.Message)
		if err == nil {
			detail = fmt.Sprintf("mode=%s  prior=%s  reason=%s", fault.Mode, fault.PriorMode, fault.Reason)
		} else {
			detail = "(parse error)"
		}

	case protocol.TypePVReadRequest:
		req, err := protocol.ParseReadRequest(dm.Message)
		if err == nil {
			detail = fmt.Sprintf("corr=%s  name=%s", corrID, req.Name)
		} else {
			detail = fmt.Sprintf("corr=%s  (parse error)", corrID)
		}

	case protocol.TypePVReadResponse:
		resp, err := protocol.ParseReadResponse(dm.Message)
		if err == nil {
			if resp.Error != nil {
				color = colorRed
				detail = fmt.Sprintf("corr=%s  name=%s  error=%s", corrID, resp.Name, resp.Error.Code)
			} else {
				color = colorGreen
				value := ""
				if resp.Value != nil {
					value = *resp.Value
				}
				detail = fmt.Sprintf("corr=%s  name=%s  value=%s", corrID, resp.Name, value)
			}
		} else {
			detail = fmt.Sprintf("corr=%s  (parse error)", corrID)
		}

	case protocol.TypePVWriteRequest:
		req, err := protocol.ParseWriteRequest(dm.Message)
		if err == nil {
			detail = fmt.Sprintf("corr=%s  name=%s  value=%s", corrID, req.Name, req.Value)
		} else {
			detail = fmt.Sprintf("corr=%s  (parse error)", corrID)
		}

	case protocol.TypePVWriteResponse:
		resp, err := protocol.ParseWriteResponse(dm.Message)
		if err == nil {
			if resp.Error != nil {
				color = colorRed
				detail = fmt.Sprintf("corr=%s  name=%s  error=%s", corrID, resp.Name, resp.Error.Code)
			} else {
				color = colorGreen
				detail = fmt.Sprintf("corr=%s  name=%s  stored=%s", corrID, resp.Name, resp.Stored)
			}
		} else {
			detail = fmt.Sprintf("corr=%s  (parse error)", corrID)
		}

	default:
		detail = fmt.Sprintf("corr=%s", corrID)
	}

	body := fmt.Sprintf("%s  %-20s %s  %-20s %s",
		ts, dm.Channel, dm.Direction, dm.Message.Envelope.Type, detail)
	if color != "" {
		return color + body + colorReset
	}
	return body
}

// BeamWarnings returns warning strings for concerning heartbeat values.
func BeamWarnings(hb *protocol.HeartbeatPayload) []string {
	var warnings []string

	if hb.MachineMode == "Down" {
		warnings = append(warnings, "MACHINE DOWN")
	} else if hb.BeamCurrentAvg <= 0 {
		warnings = append(warnings, "NO BEAM")
	}

	if hb.RequestsFailed != nil && *hb.RequestsFailed > 0 {
		warnings = append(warnings, "FAILED REQUESTS")
	}

	if hb.LastError != nil && *hb.LastError != "" {
		warnings = append(warnings, "ERROR")
	}

	return warnings
}
