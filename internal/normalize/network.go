package normalize

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/seclens/seclens/internal/model"
)

var (
	reAnyIP          = regexp.MustCompile(`(\d{1,3}(?:\.\d{1,3}){3})`)
	reSuricataMarker = regexp.MustCompile(`suricata|Classification:`)
	reRuleTriplet    = regexp.MustCompile(`\[(\d+:\d+:\d+)\]`)
	reSigBeforeClass = regexp.MustCompile(`\[\d+:\d+:\d+\]\s+(.*?)\s+\[Classification:`)
	reSigLoose       = regexp.MustCompile(`\]\s+(.*?)\s+\[Classification:`)
	rePriority       = regexp.MustCompile(`Priority: (\d+)`)
	reFlowAction     = regexp.MustCompile(`action (\w+) ([^\s]+)`)
)

// flowRecord is the embedded firewall flow JSON some syslog payloads
// carry after a "zenarmor: " prefix.
type flowRecord struct {
	IsBlocked      int    `json:"is_blocked"`
	AppProto       string `json:"app_proto"`
	AppName        string `json:"app_name"`
	TransportProto string `json:"transport_proto"`
	Direction      string `json:"direction"`
	SrcIP          string `json:"src_ip"`
	DstIP          string `json:"dst_ip"`
}

// extractNetwork handles the opnsense family. Structured alert JSON from
// the upstream parser wins; otherwise the suricata syslog payload is
// regex-mined for the rule-id triplet, signature and priority, and any
// embedded flow record is parsed into a synthesized signature.
func (n *Normalizer) extractNetwork(payload map[string]interface{}, rawText string, ev *model.NormalizedEvent) {
	syslogPayload := stringify(payload["_raw"])
	if syslogPayload == "" {
		syslogPayload = rawText
	}

	if m := reAnyIP.FindStringSubmatch(syslogPayload); m != nil {
		ip := m[1]
		ev.SrcIP = &ip
	}

	if alert, ok := payload["alert"].(map[string]interface{}); ok {
		ev.EventKind = KindIDS
		ev.Signature = stringify(alert["signature"])
		ev.RuleID = stringify(alert["signature_id"])
		if src := stringify(payload["src_ip"]); src != "" {
			ev.SrcIP = &src
		}
		if dst := stringify(payload["dest_ip"]); dst != "" {
			ev.DestIP = &dst
		}
	} else {
		if reSuricataMarker.MatchString(syslogPayload) {
			if m := reRuleTriplet.FindStringSubmatch(syslogPayload); m != nil {
				ev.RuleID = m[1]
			}
			if m := reSigBeforeClass.FindStringSubmatch(syslogPayload); m != nil {
				ev.Signature = strings.TrimSpace(m[1])
			} else if m := reSigLoose.FindStringSubmatch(syslogPayload); m != nil {
				ev.Signature = strings.TrimSpace(m[1])
			}
			ev.EventKind = KindIDS

			if m := rePriority.FindStringSubmatch(syslogPayload); m != nil {
				switch m[1] {
				case "1":
					ev.Severity = model.SeverityHigh
					ev.EventKind = KindAlert
				case "2":
					ev.Severity = model.SeverityMedium
					ev.EventKind = KindAlert
				case "3":
					ev.Severity = model.SeverityLow
				}
			}
		}

		n.extractFlowRecord(syslogPayload, ev)

		if ev.Signature == "" {
			if m := reFlowAction.FindStringSubmatch(syslogPayload); m != nil {
				ev.Signature = m[1] + " " + m[2]
				ev.RuleID = m[2]
				ev.EventKind = KindNetwork
			}
		}
	}

	if ev.Signature == "" {
		ev.Signature = stringify(payload["event_type"])
	}
}

// extractFlowRecord parses the embedded flow JSON when present,
// synthesizing an action:proto:direction signature and escalating blocked
// flows to a Medium alert.
func (n *Normalizer) extractFlowRecord(syslogPayload string, ev *model.NormalizedEvent) {
	const marker = "zenarmor: {"
	if !strings.Contains(syslogPayload, marker) {
		return
	}
	jsonPart := strings.TrimSpace(strings.SplitN(syslogPayload, "zenarmor: ", 2)[1])

	var flow flowRecord
	if err := json.Unmarshal([]byte(jsonPart), &flow); err != nil {
		return
	}

	action := "allowed"
	if flow.IsBlocked == 1 {
		action = "blocked"
	}
	proto := flow.AppProto
	if proto == "" {
		proto = flow.AppName
	}
	if proto == "" {
		proto = flow.TransportProto
	}
	if proto == "" {
		proto = "unknown"
	}
	direction := flow.Direction
	if direction == "" {
		direction = "unknown"
	}

	ev.Signature = "zenarmor:" + action + ":" + proto + ":" + direction
	ev.RuleID = "flow:" + proto
	ev.EventKind = KindNetwork
	if flow.IsBlocked == 1 {
		ev.EventKind = KindAlert
		ev.Severity = model.SeverityMedium
	}

	if flow.SrcIP != "" {
		src := flow.SrcIP
		ev.SrcIP = &src
	}
	if flow.DstIP != "" {
		dst := flow.DstIP
		ev.DestIP = &dst
	}
}
