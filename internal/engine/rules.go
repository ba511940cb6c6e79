package engine

import (
	"encoding/json"
	"slices"
)

// DecodeAccept parses a stored accept rule. The second return is false when
// the text is empty or does not decode into a rule object; callers treat
// that as a target that accepts nobody, not as an error.
func DecodeAccept(raw string) (AcceptRule, bool) {
	if raw == "" {
		return AcceptRule{}, false
	}
	var doc struct {
		GeoState *struct {
			In []string `json:"$in"`
		} `json:"geoState"`
		Hour *struct {
			In []string `json:"$in"`
		} `json:"hour"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return AcceptRule{}, false
	}
	var rule AcceptRule
	if doc.GeoState != nil {
		rule.GeoIn = doc.GeoState.In
	}
	if doc.Hour != nil {
		rule.HourIn = doc.Hour.In
	}
	return rule, true
}

// Matches reports whether a target accepts a visitor. Both the geo and hour
// clauses must be present and contain the visitor's values; a target with a
// missing or malformed accept rule matches nothing.
func Matches(t Target, v Visitor) bool {
	rule, ok := DecodeAccept(t.Accept)
	if !ok {
		return false
	}
	if rule.GeoIn == nil || rule.HourIn == nil {
		return false
	}
	return slices.Contains(rule.GeoIn, v.GeoState) &&
		slices.Contains(rule.HourIn, v.Hour())
}
