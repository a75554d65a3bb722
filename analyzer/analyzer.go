// Package analyzer evaluates cost and hygiene rules over inventory records.
// It is pure record-in, finding-out logic shared by the query layer and the
// event handler.
package analyzer

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/musterops/muster/types"
)

const (
	topExpensiveCount = 20

	// A stopped instance older than this counts as idle.
	idleStopAge = 30 * 24 * time.Hour

	// Functions below this many invocations over 30 days count as idle.
	idleInvocationFloor = 10

	// Rightsizing one size down is estimated at 30% of current spend.
	oversizedSavingRate = 0.3

	// DefaultStaleDays is the lookback for staleness checks.
	DefaultStaleDays = 90
)

var oversizedTokens = []string{"xlarge", "2xlarge", "4xlarge", "8xlarge", "metal"}

// Finding flags one record with the reason it matched and, where a rule can
// estimate it, the monthly saving from acting on it.
type Finding struct {
	Record        types.Record `json:"record"`
	Reason        string       `json:"reason"`
	MonthlySaving float64      `json:"monthly_saving,omitempty"`
}

// CostAnalysis bundles the cost and hygiene findings for one record set.
type CostAnalysis struct {
	TopExpensive    []types.Record `json:"top_expensive"`
	Idle            []Finding      `json:"idle"`
	Oversized       []Finding      `json:"oversized"`
	Unencrypted     []Finding      `json:"unencrypted"`
	PublicBuckets   []Finding      `json:"public_buckets"`
	PotentialSaving float64        `json:"potential_monthly_saving"`
}

// AnalyzeCosts runs every cost rule over the records.
func AnalyzeCosts(records []types.Record, now time.Time) CostAnalysis {
	analysis := CostAnalysis{
		TopExpensive:  TopExpensive(records, topExpensiveCount),
		Idle:          findIdle(records, now),
		Oversized:     findOversized(records),
		Unencrypted:   FindUnencrypted(records),
		PublicBuckets: FindPublicBuckets(records),
	}

	for _, f := range analysis.Idle {
		analysis.PotentialSaving += f.MonthlySaving
	}
	for _, f := range analysis.Oversized {
		analysis.PotentialSaving += f.MonthlySaving
	}

	return analysis
}

// TopExpensive returns the n costliest records, most expensive first.
func TopExpensive(records []types.Record, n int) []types.Record {
	sorted := make([]types.Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].MonthlyCost > sorted[j].MonthlyCost
	})
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	return sorted
}

// findIdle flags long-stopped instances and barely-invoked functions. A
// stopped instance costs nothing hourly but its EBS and address spend linger,
// so the saving reported is the would-be running cost of its class.
func findIdle(records []types.Record, now time.Time) []Finding {
	var findings []Finding
	for _, r := range records {
		switch r.Kind {
		case types.KindComputeInstance:
			age, ok := stoppedAge(r, now)
			if ok && age >= idleStopAge {
				findings = append(findings, Finding{
					Record: r,
					Reason: fmt.Sprintf("stopped for %d days", int(age.Hours()/24)),
				})
			}
		case types.KindFunction:
			invocations, ok := r.Metrics["invocations_30d"]
			if ok && invocations < idleInvocationFloor {
				findings = append(findings, Finding{
					Record:        r,
					Reason:        fmt.Sprintf("%.0f invocations in 30 days", invocations),
					MonthlySaving: r.MonthlyCost,
				})
			}
		}
	}
	return findings
}

// findOversized flags instances and databases on large classes.
func findOversized(records []types.Record) []Finding {
	var findings []Finding
	for _, r := range records {
		var class string
		switch r.Kind {
		case types.KindComputeInstance:
			class = r.Attr("instance_type")
		case types.KindDBInstance:
			class = r.Attr("instance_class")
		default:
			continue
		}

		if !hasOversizedToken(class) {
			continue
		}
		findings = append(findings, Finding{
			Record:        r,
			Reason:        "large class " + class + ", consider rightsizing",
			MonthlySaving: r.MonthlyCost * oversizedSavingRate,
		})
	}
	return findings
}

// FindUnencrypted flags databases without storage encryption and buckets
// without default encryption.
func FindUnencrypted(records []types.Record) []Finding {
	var findings []Finding
	for _, r := range records {
		switch r.Kind {
		case types.KindDBInstance, types.KindDBCluster:
			if r.Attr("encrypted") == "false" {
				findings = append(findings, Finding{Record: r, Reason: "storage not encrypted"})
			}
		case types.KindBucket:
			if r.Attr("encryption") == "None" {
				findings = append(findings, Finding{Record: r, Reason: "no default encryption"})
			}
		}
	}
	return findings
}

// FindPublicBuckets flags buckets whose ACL grants access to everyone.
func FindPublicBuckets(records []types.Record) []Finding {
	var findings []Finding
	for _, r := range records {
		if r.Kind == types.KindBucket && r.Attr("public") == "true" {
			findings = append(findings, Finding{Record: r, Reason: "bucket ACL grants public access"})
		}
	}
	return findings
}

// FindStale flags resources that look abandoned. A function that was never
// invoked in the metric window is stale regardless of days; other kinds
// compare their recency field against the cutoff.
func FindStale(records []types.Record, days int, now time.Time) []Finding {
	if days <= 0 {
		days = DefaultStaleDays
	}
	cutoff := time.Duration(days) * 24 * time.Hour

	var findings []Finding
	for _, r := range records {
		switch r.Kind {
		case types.KindComputeInstance:
			age, ok := stoppedAge(r, now)
			if ok && age >= cutoff {
				findings = append(findings, Finding{
					Record: r,
					Reason: fmt.Sprintf("stopped for over %d days", days),
				})
			}
		case types.KindFunction:
			if invocations, ok := r.Metrics["invocations_30d"]; ok && invocations == 0 {
				findings = append(findings, Finding{Record: r, Reason: "zero invocations"})
			}
		case types.KindBucket:
			if r.Metrics["size_bytes"] != 0 {
				continue
			}
			created, err := time.Parse(time.RFC3339, r.Attr("created_at"))
			if err == nil && now.Sub(created) >= cutoff {
				findings = append(findings, Finding{
					Record: r,
					Reason: fmt.Sprintf("empty and older than %d days", days),
				})
			}
		}
	}
	return findings
}

// stoppedAge reports how long a stopped instance has been down.
func stoppedAge(r types.Record, now time.Time) (time.Duration, bool) {
	if r.Attr("state") != "stopped" {
		return 0, false
	}
	stoppedAt, err := time.Parse(time.RFC3339, r.Attr("stopped_at"))
	if err != nil {
		return 0, false
	}
	return now.Sub(stoppedAt), true
}

func hasOversizedToken(class string) bool {
	for _, token := range oversizedTokens {
		if strings.Contains(class, token) {
			return true
		}
	}
	return false
}
