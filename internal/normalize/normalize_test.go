package normalize

import (
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seclens/seclens/internal/model"
)

func testNormalizer(opts Options) *Normalizer {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(nil, nil, opts, 100, logger)
}

func rawEvent(sourceType, source, host, rawText string, payload map[string]interface{}) model.RawEvent {
	ev := model.RawEvent{
		EventKey:   "k1",
		EventTime:  time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC),
		Source:     source,
		SourceType: sourceType,
		Host:       host,
		RawText:    rawText,
	}
	if payload != nil {
		data, _ := json.Marshal(payload)
		ev.Payload = data
	}
	return ev
}

func TestNormalizeDropsMetricNoise(t *testing.T) {
	n := testNormalizer(Options{})
	raw := rawEvent("syslog", "vmstat", "collector", "1724580000.000     12     34     56", nil)
	ev, ok, err := n.Normalize(raw)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, ev)
}

func TestNormalizeWazuhAlert(t *testing.T) {
	n := testNormalizer(Options{})
	raw := rawEvent("wazuh-alerts-4.x", "alerts.json", "srv01", "", map[string]interface{}{
		"rule": map[string]interface{}{
			"description": "Multiple authentication failures",
			"level":       13,
			"id":          "5712",
			"groups":      []interface{}{"syslog", "authentication_failed"},
		},
	})
	ev, ok, err := n.Normalize(raw)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, VendorWazuh, ev.Vendor)
	assert.Equal(t, KindAlert, ev.EventKind)
	assert.Equal(t, model.SeverityHigh, ev.Severity)
	assert.Equal(t, "Multiple authentication failures", ev.Signature)
	assert.Equal(t, "5712", ev.RuleID)
}

func TestNormalizeWazuhLevelMapping(t *testing.T) {
	n := testNormalizer(Options{})
	tests := []struct {
		level interface{}
		want  model.Severity
	}{
		{13, model.SeverityHigh},
		{12, model.SeverityHigh},
		{8, model.SeverityMedium},
		{7, model.SeverityMedium},
		{5, model.SeverityLow},
		{1, model.SeverityLow},
		// Numeric strings follow the numeric ladder.
		{"12", model.SeverityHigh},
		{"5", model.SeverityLow},
		// Textual levels some rules carry instead of a number.
		{"high", model.SeverityHigh},
		{"critical", model.SeverityHigh},
		{"warning", model.SeverityMedium},
		{"info", model.SeverityLow},
	}
	for _, tt := range tests {
		raw := rawEvent("wazuh-alerts", "alerts.json", "srv01", "", map[string]interface{}{
			"rule": map[string]interface{}{"description": "x", "level": tt.level, "id": "1"},
		})
		ev, ok, err := n.Normalize(raw)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, tt.want, ev.Severity, "level %v", tt.level)
	}
}

func TestNormalizeFailedLogon(t *testing.T) {
	n := testNormalizer(Options{})
	msg := "An account failed to log on.\n" +
		"Account Name: jdoe\n" +
		"Source Address: 10.0.0.5\n"
	raw := rawEvent("WinEventLog:Security", "WinEventLog:Security", "dc01", "", map[string]interface{}{
		"EventCode": "4625",
		"Message":   msg,
	})
	ev, ok, err := n.Normalize(raw)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, VendorWindows, ev.Vendor)
	assert.Equal(t, KindAlert, ev.EventKind)
	assert.Equal(t, "4625", ev.RuleID)
	assert.Equal(t, "EventCode=4625", ev.Signature)
	require.NotNil(t, ev.Username)
	assert.Equal(t, "jdoe", *ev.Username)
	require.NotNil(t, ev.SrcIP)
	assert.Equal(t, "10.0.0.5", *ev.SrcIP)
	assert.GreaterOrEqual(t, int(ev.Severity), 2)
}

func TestNormalizeEventCodeKinds(t *testing.T) {
	n := testNormalizer(Options{})
	tests := []struct {
		code string
		want string
	}{
		{"3", KindNetwork},
		{"5156", KindNetwork},
		{"4624", KindAuth},
		{"4625", KindAlert},
	}
	for _, tt := range tests {
		raw := rawEvent("WinEventLog", "WinEventLog:Security", "dc01", "", map[string]interface{}{
			"EventCode": tt.code,
		})
		ev, ok, err := n.Normalize(raw)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, tt.want, ev.EventKind, "EventCode %s", tt.code)
	}
}

func TestNormalizeXMLTargetUserSkipsDash(t *testing.T) {
	n := testNormalizer(Options{})
	msg := `<Data Name="TargetUserName">-</Data><Data Name="TargetUserName">svc_backup</Data>`
	raw := rawEvent("XmlWinEventLog", "WinEventLog:Security", "dc01", "", map[string]interface{}{
		"EventCode": "4625",
		"Message":   msg,
	})
	ev, ok, err := n.Normalize(raw)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, ev.Username)
	assert.Equal(t, "svc_backup", *ev.Username)
}

func TestNormalizeLabBurstEscalation(t *testing.T) {
	msg := "Account Name: FAIL_LAB_BURST_07\n"
	raw := rawEvent("WinEventLog:Security", "WinEventLog:Security", "dc01", "", map[string]interface{}{
		"EventCode": "4625",
		"Message":   msg,
	})

	off, ok, err := testNormalizer(Options{}).Normalize(raw)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.Severity(2), off.Severity)

	on, ok, err := testNormalizer(Options{EnableLabBurstEscalation: true}).Normalize(raw)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.SeverityHigh, on.Severity)
	assert.Equal(t, KindAlert, on.EventKind)
}

func TestNormalizeAccessLog(t *testing.T) {
	n := testNormalizer(Options{})
	line := `192.168.1.10 - - [25/Aug/2026:10:00:00 +0000] "GET /rest/products/search HTTP/1.1" 500 123`
	raw := rawEvent("nginx:access", "access.log", "", line, nil)
	ev, ok, err := n.Normalize(raw)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, VendorJuiceshop, ev.Vendor)
	assert.Equal(t, KindWeb, ev.EventKind)
	require.NotNil(t, ev.SrcIP)
	assert.Equal(t, "192.168.1.10", *ev.SrcIP)
	require.NotNil(t, ev.HTTPMethod)
	assert.Equal(t, "GET", *ev.HTTPMethod)
	require.NotNil(t, ev.HTTPPath)
	assert.Equal(t, "/rest/products/search", *ev.HTTPPath)
	require.NotNil(t, ev.HTTPStatus)
	assert.Equal(t, 500, *ev.HTTPStatus)
	assert.Equal(t, "juiceshop", ev.Host)
	assert.Equal(t, "GET /rest/products/search", ev.Signature)
}

func TestNormalizeAppLogSignatureTruncation(t *testing.T) {
	n := testNormalizer(Options{})
	line := "error: unexpected token in product search query parser at position 1421"
	raw := rawEvent("juiceshop", "docker", "shop01", line, nil)
	ev, ok, err := n.Normalize(raw)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, KindAlert, ev.EventKind)
	assert.Equal(t, model.SeverityHigh, ev.Severity)
	assert.Len(t, ev.Signature, signatureMaxLen+2)
	assert.True(t, strings.HasSuffix(ev.Signature, ".."))
	assert.Equal(t, line[:signatureMaxLen], ev.Signature[:signatureMaxLen])
}

func TestNormalizeSuricataAlert(t *testing.T) {
	n := testNormalizer(Options{})
	line := `suricata[4321]: [1:2019401:3] ET TROJAN Possible Metasploit Payload [Classification: A Network Trojan was detected] [Priority: 1] {TCP} 10.0.0.9:49152 -> 8.8.8.8:443`
	raw := rawEvent("suricata", "udp:5514", "fw1", line, nil)
	ev, ok, err := n.Normalize(raw)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, VendorOpnsense, ev.Vendor)
	assert.Equal(t, KindAlert, ev.EventKind)
	assert.Equal(t, model.SeverityHigh, ev.Severity)
	assert.Equal(t, "1:2019401:3", ev.RuleID)
	assert.Equal(t, "ET TROJAN Possible Metasploit Payload", ev.Signature)
	require.NotNil(t, ev.SrcIP)
	assert.Equal(t, "10.0.0.9", *ev.SrcIP)
}

func TestNormalizeSuricataPriorityThree(t *testing.T) {
	n := testNormalizer(Options{})
	line := `suricata[4321]: [1:2100538:17] GPL ICMP_INFO PING [Classification: Misc activity] [Priority: 3] {ICMP} 10.0.0.2 -> 10.0.0.1`
	raw := rawEvent("suricata", "udp:5514", "fw1", line, nil)
	ev, ok, err := n.Normalize(raw)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, KindIDS, ev.EventKind)
	assert.Equal(t, model.SeverityLow, ev.Severity)
}

func TestNormalizeBlockedFlow(t *testing.T) {
	n := testNormalizer(Options{})
	line := `Aug 25 10:00:00 fw1 zenarmor: {"is_blocked":1,"app_proto":"http","direction":"outgoing","src_ip":"10.0.0.4","dst_ip":"203.0.113.9"}`
	raw := rawEvent("opnsense", "udp:5514", "fw1", line, nil)
	ev, ok, err := n.Normalize(raw)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "zenarmor:blocked:http:outgoing", ev.Signature)
	assert.Equal(t, "flow:http", ev.RuleID)
	assert.Equal(t, KindAlert, ev.EventKind)
	assert.Equal(t, model.SeverityMedium, ev.Severity)
	require.NotNil(t, ev.SrcIP)
	assert.Equal(t, "10.0.0.4", *ev.SrcIP)
	require.NotNil(t, ev.DestIP)
	assert.Equal(t, "203.0.113.9", *ev.DestIP)
}

func TestNormalizeAllowedFlowProtoFallback(t *testing.T) {
	n := testNormalizer(Options{})
	line := `Aug 25 10:00:00 fw1 zenarmor: {"is_blocked":0,"transport_proto":"udp","direction":"incoming"}`
	raw := rawEvent("opnsense", "udp:5514", "fw1", line, nil)
	ev, ok, err := n.Normalize(raw)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "zenarmor:allowed:udp:incoming", ev.Signature)
	assert.Equal(t, KindNetwork, ev.EventKind)
	assert.Equal(t, model.SeverityNone, ev.Severity)
}

func TestFinalizeDecimalHost(t *testing.T) {
	n := testNormalizer(Options{})
	raw := rawEvent("syslog", "metrics", "1699999999.123456", "hello world", nil)
	ev, ok, err := n.Normalize(raw)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "unknown", ev.Host)

	raw = rawEvent("syslog", "router", "10.0.0.1", "hello world", nil)
	ev, ok, err = n.Normalize(raw)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "10.0.0.1", ev.Host)
}

func TestFinalizeInfraOverride(t *testing.T) {
	n := testNormalizer(Options{})
	raw := rawEvent("httpevent", "http:collector", "collector:8088", "some pipeline telemetry", nil)
	ev, ok, err := n.Normalize(raw)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, VendorInfra, ev.Vendor)
	assert.Equal(t, KindMetric, ev.EventKind)
	assert.Equal(t, model.SeverityNone, ev.Severity)
	assert.Equal(t, "pipeline_noise", ev.Signature)
}

func TestFinalizeRuleIDFallbackIsStable(t *testing.T) {
	n := testNormalizer(Options{})
	raw := rawEvent("unknownsource", "somewhere", "h1", "plain text event", nil)
	a, ok, err := n.Normalize(raw)
	require.NoError(t, err)
	require.True(t, ok)
	b, ok, err := n.Normalize(raw)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, a.RuleID, b.RuleID)
	assert.Len(t, a.RuleID, 8)
	assert.Equal(t, "unknown:unknown", a.Signature)
}

func TestSanitizeIP(t *testing.T) {
	dash := "-"
	blank := "  "
	real := " 10.0.0.5 "
	assert.Nil(t, sanitizeIP(nil))
	assert.Nil(t, sanitizeIP(&dash))
	assert.Nil(t, sanitizeIP(&blank))
	got := sanitizeIP(&real)
	require.NotNil(t, got)
	assert.Equal(t, "10.0.0.5", *got)
}

func TestNormalizeKeepsLeftoverExtras(t *testing.T) {
	n := testNormalizer(Options{})
	raw := rawEvent("WinEventLog", "WinEventLog:Security", "dc01", "", map[string]interface{}{
		"Message":    "Account Name: jdoe",
		"_raw":       "ignored",
		"_time":      "1724580000",
		"RecordID":   "991",
		"TaskCategory": "Logon",
	})
	ev, ok, err := n.Normalize(raw)
	require.NoError(t, err)
	require.True(t, ok)

	var extras map[string]interface{}
	require.NoError(t, json.Unmarshal(ev.Extras, &extras))
	assert.Equal(t, "991", extras["RecordID"])
	assert.Equal(t, "Logon", extras["TaskCategory"])
	assert.NotContains(t, extras, "_raw")
	assert.NotContains(t, extras, "Message")
}
