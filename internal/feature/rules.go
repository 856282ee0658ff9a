package feature

import (
	"fmt"
	"strings"
)

// hostEntity is the default entity expression: the event's host with a
// stable fallback for blank values.
const hostEntity = `COALESCE(NULLIF(host,''), 'unknown')`

// AggRule describes one aggregation metric declaratively: which events
// count (Predicate), who they count against (EntityType/EntityExpr, plus
// an optional secondary drill-down key), and under what feature name the
// bucket rows land. One generic routine interprets the whole table; there
// is no per-metric query code.
type AggRule struct {
	Name          string
	EntityType    string
	EntityExpr    string
	SecondaryType string
	SecondaryExpr string
	Predicate     string
}

// DefaultRules returns the shipped aggregation table. suspiciousPatterns
// feeds the composite badness predicate.
func DefaultRules(suspiciousPatterns []string) []AggRule {
	return []AggRule{
		{
			Name:       "event_count",
			EntityType: "host",
			EntityExpr: hostEntity,
			Predicate:  "TRUE",
		},
		{
			Name:       "auth_fail_count",
			EntityType: "host",
			EntityExpr: hostEntity,
			Predicate:  `rule_id = '4625'`,
		},
		{
			Name:       "auth_fail_count",
			EntityType: "user",
			EntityExpr: `COALESCE(NULLIF(username,''), 'unknown')`,
			Predicate:  `rule_id = '4625' AND username IS NOT NULL`,
		},
		{
			Name:       "auth_success_count",
			EntityType: "host",
			EntityExpr: hostEntity,
			Predicate:  `rule_id = '4624'`,
		},
		{
			Name:          "src_ip_fail_count",
			EntityType:    "host",
			EntityExpr:    hostEntity,
			SecondaryType: "src_ip",
			SecondaryExpr: `src_ip`,
			Predicate:     `rule_id = '4625' AND src_ip IS NOT NULL`,
		},
		{
			Name:       "wazuh_alert_count",
			EntityType: "host",
			EntityExpr: hostEntity,
			Predicate:  `vendor = 'wazuh'`,
		},
		{
			Name:       "juiceshop_error_count",
			EntityType: "endpoint",
			EntityExpr: `COALESCE(NULLIF(http_path,''), 'unknown')`,
			Predicate:  `vendor = 'juiceshop' AND (COALESCE(http_status, 0) >= 400 OR event_kind = 'alert')`,
		},
		{
			Name:       "bad_event_count",
			EntityType: "host",
			EntityExpr: hostEntity,
			Predicate:  badnessPredicate(suspiciousPatterns),
		},
		{
			Name:       "zenarmor_allowed_count",
			EntityType: "host",
			EntityExpr: hostEntity,
			Predicate:  `vendor = 'opnsense' AND signature ILIKE '%allowed%'`,
		},
		{
			Name:          "signature_count",
			EntityType:    "host",
			EntityExpr:    hostEntity,
			SecondaryType: "signature",
			SecondaryExpr: `signature`,
			Predicate:     `signature <> ''`,
		},
		{
			Name:          "src_ip_count",
			EntityType:    "host",
			EntityExpr:    hostEntity,
			SecondaryType: "src_ip",
			SecondaryExpr: `src_ip`,
			Predicate:     `src_ip IS NOT NULL`,
		},
	}
}

// badnessPredicate builds the composite "unified badness" condition:
// severe events, HTTP errors, or a signature matching the maintained
// suspicious-pattern list.
func badnessPredicate(patterns []string) string {
	conditions := []string{
		"COALESCE(severity, 0) >= 5",
		"COALESCE(http_status, 0) >= 400",
	}
	for _, p := range patterns {
		conditions = append(conditions, fmt.Sprintf("signature ILIKE %s", quoteLiteral("%"+p+"%")))
	}
	return strings.Join(conditions, " OR ")
}

// quoteLiteral renders a string as a single-quoted SQL literal. Patterns
// come from operator-controlled config, not event data; quoting here only
// guards against apostrophes in legitimate signature patterns.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// buildRollupSQL renders the one generic aggregation statement for a
// rule. Bucket boundaries are computed by integer division on the epoch,
// so the same event always lands in the same bucket and reruns overwrite
// rather than accumulate.
func buildRollupSQL(r AggRule) string {
	secondaryType := "'-'"
	secondaryExpr := "'-'"
	if r.SecondaryType != "" {
		secondaryType = quoteLiteral(r.SecondaryType)
		secondaryExpr = fmt.Sprintf("COALESCE(%s::text, 'unknown')", r.SecondaryExpr)
	}

	return fmt.Sprintf(`
		INSERT INTO feature_buckets (
			bucket_start, bucket_size_seconds, feature_name,
			entity_type, entity_id, secondary_type, secondary_id,
			value, n_events
		)
		SELECT
			to_timestamp(floor(extract(epoch FROM event_time) / $1) * $1) AS bucket_start,
			$1,
			%s,
			%s,
			%s,
			%s,
			%s,
			count(*)::double precision,
			count(*)
		FROM normalized_events
		WHERE event_time > now() - ($2 * interval '1 minute')
		  AND (%s)
		GROUP BY 1, 5, 7
		ON CONFLICT (bucket_start, bucket_size_seconds, feature_name, entity_type, entity_id, secondary_type, secondary_id)
		DO UPDATE SET value = EXCLUDED.value, n_events = EXCLUDED.n_events, updated_at = now()
	`, quoteLiteral(r.Name), quoteLiteral(r.EntityType), r.EntityExpr, secondaryType, secondaryExpr, r.Predicate)
}
