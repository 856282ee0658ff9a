package normalize

import "strings"

// Known vendors and event kinds produced by classification.
const (
	VendorWazuh     = "wazuh"
	VendorSysmon    = "sysmon"
	VendorWindows   = "windows"
	VendorOpnsense  = "opnsense"
	VendorJuiceshop = "juiceshop"
	VendorInfra     = "infra"
	VendorUnknown   = "unknown"

	KindAlert   = "alert"
	KindAuth    = "auth"
	KindProcess = "process"
	KindEvent   = "event"
	KindNetwork = "network"
	KindIDS     = "ids"
	KindWeb     = "web"
	KindMetric  = "metric"
	KindUnknown = "unknown"
)

// Classify maps a record's (source_type, source) pair to a vendor and
// event kind by substring. Wazuh alert indexes beat the generic Windows
// match because wazuh-alerts sourcetypes also mention wineventlog payloads.
func Classify(sourceType, source string) (vendor, kind string) {
	st := strings.ToLower(sourceType)
	src := strings.ToLower(source)

	if strings.Contains(st, "wazuh-alerts") {
		return VendorWazuh, KindAlert
	}
	if strings.Contains(st, "wazuh") || strings.Contains(st, "wineventlog") {
		if strings.Contains(src, "sysmon") || strings.Contains(st, "sysmon") {
			return VendorSysmon, KindProcess
		}
		return VendorWindows, KindEvent
	}
	if strings.Contains(st, "opnsense") || strings.Contains(st, "suricata") || strings.Contains(src, "udp:5514") {
		return VendorOpnsense, KindNetwork
	}
	if strings.Contains(st, "nginx") || strings.Contains(st, "juiceshop") || strings.Contains(src, "access.log") {
		return VendorJuiceshop, KindWeb
	}
	return VendorUnknown, KindUnknown
}

// isWindowsFamily reports whether the vendor uses Windows-style event
// bodies (free text or XML with EventCode/TargetUserName fields).
func isWindowsFamily(vendor string) bool {
	return vendor == VendorWazuh || vendor == VendorSysmon || vendor == VendorWindows
}
