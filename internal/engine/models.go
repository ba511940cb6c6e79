package engine

import (
	"strconv"
	"time"
)

// Target is a routable destination as stored in the catalog.
// Numeric fields are kept as text (the store is string-typed) and parsed
// at decision time.
type Target struct {
	ID               string `json:"id"`
	URL              string `json:"url"`
	Value            string `json:"value"`
	MaxAcceptsPerDay string `json:"maxAcceptsPerDay"`
	Accept           string `json:"accept"` // serialized rule, see AcceptRule
}

func (t Target) value() float64 {
	v, err := strconv.ParseFloat(t.Value, 64)
	if err != nil {
		return 0
	}
	return v
}

// maxPerDay treats absent or non-numeric caps as 0, i.e. always at cap.
func (t Target) maxPerDay() int64 {
	n, err := strconv.ParseInt(t.MaxAcceptsPerDay, 10, 64)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// AcceptRule is the decoded form of a target's accept field. A nil clause
// means the clause is absent, which never matches.
type AcceptRule struct {
	GeoIn  []string
	HourIn []string
}

// Visitor describes one incoming traffic event. Not persisted.
type Visitor struct {
	GeoState  string
	Timestamp time.Time
}

// Hour is the UTC hour of the visitor's timestamp as a decimal string
// without leading zero ("0".."23").
func (v Visitor) Hour() string {
	return strconv.Itoa(v.Timestamp.UTC().Hour())
}

const (
	DecisionAccept = "accept"
	DecisionReject = "reject"
)

type Decision struct {
	Decision string `json:"decision"`
	URL      string `json:"url,omitempty"`
}
