package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/seclens/seclens/internal/model"
)

// reAccessLog matches the head of a combined access-log line:
// client, method, path and status.
var reAccessLog = regexp.MustCompile(`^(\S+) \S+ \S+ \[.*?\] "(.*?) (.*?) .*?" (\d+)`)

// signatureMaxLen bounds app-log signatures so free-form log lines group
// into a manageable signature space.
const signatureMaxLen = 50

// extractWeb handles the juiceshop family: an access-log line when
// present, structured JSON fields as fallback, and application log lines
// when no HTTP status exists at all.
func (n *Normalizer) extractWeb(payload map[string]interface{}, rawText, message string, ev *model.NormalizedEvent) {
	if m := reAccessLog.FindStringSubmatch(rawText); m != nil {
		src := m[1]
		method := m[2]
		path := m[3]
		ev.SrcIP = &src
		ev.HTTPMethod = &method
		ev.HTTPPath = &path
		if status, err := strconv.Atoi(m[4]); err == nil {
			ev.HTTPStatus = &status
		}
	}

	if ev.SrcIP == nil {
		if clientIP := stringify(payload["clientip"]); clientIP != "" {
			ev.SrcIP = &clientIP
		}
	}

	// The web container often reports no useful host of its own.
	if ev.Host == "" || ev.Host == "unknown" {
		switch {
		case ev.DestIP != nil:
			ev.Host = *ev.DestIP
		case stringify(payload["dvc"]) != "":
			ev.Host = stringify(payload["dvc"])
		case stringify(payload["container_name"]) != "":
			ev.Host = stringify(payload["container_name"])
		default:
			ev.Host = VendorJuiceshop
		}
	}

	// No status code means this is an application log line, not an access
	// log. The first slice of the message becomes the grouping signature.
	if ev.HTTPStatus == nil {
		msg := strings.TrimSpace(message)
		if msg != "" {
			if len(msg) > signatureMaxLen {
				ev.Signature = msg[:signatureMaxLen] + ".."
			} else {
				ev.Signature = msg
			}
		}
		lower := strings.ToLower(msg)
		if strings.Contains(lower, "error:") {
			ev.EventKind = KindAlert
			ev.Severity = model.SeverityFromToken("error")
		} else if strings.Contains(lower, "warn:") {
			ev.Severity = model.SeverityFromToken("warn")
		}
	}
}
