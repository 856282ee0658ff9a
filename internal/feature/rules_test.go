package feature

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRulesCoverShippedMetrics(t *testing.T) {
	rules := DefaultRules([]string{"ET TROJAN"})

	byKey := map[string]AggRule{}
	for _, r := range rules {
		byKey[r.Name+"/"+r.EntityType] = r
	}

	for _, key := range []string{
		"event_count/host",
		"auth_fail_count/host",
		"auth_fail_count/user",
		"auth_success_count/host",
		"src_ip_fail_count/host",
		"wazuh_alert_count/host",
		"juiceshop_error_count/endpoint",
		"bad_event_count/host",
		"zenarmor_allowed_count/host",
		"signature_count/host",
		"src_ip_count/host",
	} {
		assert.Contains(t, byKey, key)
	}

	// Drill-down metrics carry a secondary key; plain counts do not.
	assert.Equal(t, "src_ip", byKey["src_ip_fail_count/host"].SecondaryType)
	assert.Equal(t, "signature", byKey["signature_count/host"].SecondaryType)
	assert.Empty(t, byKey["event_count/host"].SecondaryType)
}

func TestBadnessPredicate(t *testing.T) {
	pred := badnessPredicate([]string{"ET TROJAN", "Wazuh: Critical"})
	assert.Contains(t, pred, "COALESCE(severity, 0) >= 5")
	assert.Contains(t, pred, "COALESCE(http_status, 0) >= 400")
	assert.Contains(t, pred, "signature ILIKE '%ET TROJAN%'")
	assert.Contains(t, pred, "signature ILIKE '%Wazuh: Critical%'")
}

func TestQuoteLiteral(t *testing.T) {
	assert.Equal(t, "'plain'", quoteLiteral("plain"))
	assert.Equal(t, "'it''s quoted'", quoteLiteral("it's quoted"))
}

func TestBuildRollupSQL(t *testing.T) {
	rules := DefaultRules(nil)
	require.NotEmpty(t, rules)

	sql := buildRollupSQL(rules[0])
	assert.Contains(t, sql, "INSERT INTO feature_buckets")
	assert.Contains(t, sql, "floor(extract(epoch FROM event_time) / $1) * $1")
	assert.Contains(t, sql, "'event_count'")
	assert.Contains(t, sql, "interval '1 minute'")
	assert.Contains(t, sql, "ON CONFLICT")
	assert.Contains(t, sql, "DO UPDATE SET value = EXCLUDED.value")
}

func TestBuildRollupSQLSecondaryKey(t *testing.T) {
	sql := buildRollupSQL(AggRule{
		Name:          "src_ip_count",
		EntityType:    "host",
		EntityExpr:    hostEntity,
		SecondaryType: "src_ip",
		SecondaryExpr: "src_ip",
		Predicate:     "src_ip IS NOT NULL",
	})
	assert.Contains(t, sql, "'src_ip'")
	assert.Contains(t, sql, "COALESCE(src_ip::text, 'unknown')")

	// Without a secondary key the placeholder column is used.
	plain := buildRollupSQL(AggRule{
		Name: "event_count", EntityType: "host", EntityExpr: hostEntity, Predicate: "TRUE",
	})
	assert.Contains(t, plain, "'-'")
}
