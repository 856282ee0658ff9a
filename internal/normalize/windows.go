package normalize

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/seclens/seclens/internal/model"
)

var (
	reWinSrcIP  = regexp.MustCompile(`SourceIp:\s*([\d\.]+)|Source Address:\s*([\d\.]+)`)
	reWinDestIP = regexp.MustCompile(`DestinationIp:\s*([\d\.]+)|Destination Address:\s*([\d\.]+)`)
	reWinUser   = regexp.MustCompile(`User:\s*([^\r\n]+)|Account Name:\s*([^\r\n]+)`)
	reXMLTarget = regexp.MustCompile(`TargetUserName.*?>(.*?)<`)
	reWinSource = regexp.MustCompile(`SourceName=([^\r\n]+)`)
	reEventCode = regexp.MustCompile(`EventCode=(\d+)`)
)

// Windows event codes with pipeline-relevant meaning.
const (
	eventCodeNetworkSysmon = "3"    // Sysmon network connection
	eventCodeAuthFail      = "4625" // failed logon
	eventCodeAuthOK        = "4624" // successful logon
	eventCodeFilterAllow   = "5156" // filtering platform permitted connection
)

// extractWinMessage pulls IPs and a username out of a Windows event body,
// which may be free text or rendered XML. The XML TargetUserName wins over
// the text fallback; placeholder "-" values are skipped because the first
// TargetUserName is often just a dash.
func extractWinMessage(msg string, ev *model.NormalizedEvent) (winSource string) {
	if msg == "" {
		return ""
	}

	if m := reWinSrcIP.FindStringSubmatch(msg); m != nil {
		ev.SrcIP = firstGroup(m)
	}
	if m := reWinDestIP.FindStringSubmatch(msg); m != nil {
		ev.DestIP = firstGroup(m)
	}

	for _, m := range reXMLTarget.FindAllStringSubmatch(msg, -1) {
		candidate := strings.TrimSpace(m[1])
		if candidate != "" && candidate != "-" {
			ev.Username = &candidate
			break
		}
	}
	if ev.Username == nil {
		if m := reWinUser.FindStringSubmatch(msg); m != nil {
			if u := firstGroup(m); u != nil {
				trimmed := strings.TrimSpace(*u)
				ev.Username = &trimmed
			}
		}
	}

	if m := reWinSource.FindStringSubmatch(msg); m != nil {
		winSource = strings.TrimSpace(m[1])
	}
	if m := reEventCode.FindStringSubmatch(msg); m != nil {
		ev.RuleID = m[1]
	}
	return winSource
}

// extractWindows handles the wazuh/sysmon/windows family: message body
// scanning, Windows level mapping, Wazuh rule metadata, and the explicit
// event-code remaps.
func (n *Normalizer) extractWindows(payload map[string]interface{}, message string, ev *model.NormalizedEvent) {
	winSource := extractWinMessage(message, ev)

	// Windows Type/Level tokens; XmlWinEventLog sometimes delivers a list.
	if winType := payloadAny(payload, "Type", "Level", "LevelDisplayName"); winType != nil {
		token := flattenToken(winType)
		switch {
		case strings.Contains(token, "error") || strings.Contains(token, "crit"):
			ev.Severity = model.SeverityHigh
		case strings.Contains(token, "warn"):
			ev.Severity = model.SeverityMedium
		case strings.Contains(token, "info"):
			ev.Severity = model.SeverityLow
		}
	}

	// Wazuh rule metadata.
	if rule, ok := payload["rule"].(map[string]interface{}); ok {
		if desc, ok := rule["description"].(string); ok {
			ev.Signature = desc
		}
		if lev := rule["level"]; lev != nil {
			ev.Severity = wazuhLevelSeverity(lev)
		}
		if ev.RuleID == "" {
			ev.RuleID = stringify(rule["id"])
		}
		if groups, ok := rule["groups"].([]interface{}); ok {
			for _, g := range groups {
				if g == "authentication_failed" {
					ev.EventKind = KindAlert
				}
			}
		}
	}

	if code, ok := payload["EventCode"]; ok {
		ev.RuleID = stringify(code)
	}

	if ev.Signature == "" {
		switch {
		case ev.RuleID != "":
			ev.Signature = "EventCode=" + ev.RuleID
		case winSource != "":
			ev.Signature = "SourceName=" + winSource
		}
	}

	switch ev.RuleID {
	case eventCodeNetworkSysmon, eventCodeFilterAllow:
		ev.EventKind = KindNetwork
	case eventCodeAuthOK:
		ev.EventKind = KindAuth
	case eventCodeAuthFail:
		ev.EventKind = KindAlert
		if ev.Severity < 2 {
			ev.Severity = 2
		}
		n.applyLabBurst(ev)
	}
}

// wazuhLevelSeverity maps a wazuh rule level onto the ordinal scale.
// Levels are normally numeric (0-15), but some rules carry a textual
// severity instead; those go through the token coercion rather than
// silently landing on the bottom rung.
func wazuhLevelSeverity(lev interface{}) model.Severity {
	if s, ok := lev.(string); ok {
		if _, err := strconv.Atoi(strings.TrimSpace(s)); err != nil {
			return model.SeverityFromToken(s)
		}
	}
	switch ilev := toInt(lev); {
	case ilev >= 12:
		return model.SeverityHigh
	case ilev >= 7:
		return model.SeverityMedium
	default:
		return model.SeverityLow
	}
}

// applyLabBurst escalates synthetic LAB_BURST auth failures to High for
// demo environments. Disabled unless explicitly configured on.
func (n *Normalizer) applyLabBurst(ev *model.NormalizedEvent) {
	if !n.opts.EnableLabBurstEscalation || ev.Username == nil {
		return
	}
	u := strings.ToUpper(*ev.Username)
	if strings.HasPrefix(u, "FAIL_LAB_BURST") || strings.Contains(u, "LAB_BURST") {
		ev.Severity = model.SeverityHigh
		ev.EventKind = KindAlert
		if ev.Signature == "" {
			ev.Signature = "LAB_BURST tagged auth failure"
		}
	}
}

// firstGroup returns the first non-empty capture group as an optional
// string.
func firstGroup(m []string) *string {
	for _, g := range m[1:] {
		if g != "" {
			v := g
			return &v
		}
	}
	return nil
}

// payloadAny returns the first present key from the payload.
func payloadAny(payload map[string]interface{}, keys ...string) interface{} {
	for _, k := range keys {
		if v, ok := payload[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

// flattenToken lowercases a scalar or list value into one token string.
func flattenToken(v interface{}) string {
	switch t := v.(type) {
	case []interface{}:
		parts := make([]string, 0, len(t))
		for _, e := range t {
			parts = append(parts, stringify(e))
		}
		return strings.ToLower(strings.Join(parts, " "))
	default:
		return strings.ToLower(stringify(v))
	}
}

// stringify renders JSON scalar values the way the payloads spell them.
func stringify(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatInt(int64(t), 10)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

// toInt best-effort converts a JSON scalar to an int, zero on failure.
func toInt(v interface{}) int {
	switch t := v.(type) {
	case float64:
		return int(t)
	case int:
		return t
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(t)); err == nil {
			return n
		}
	}
	return 0
}
