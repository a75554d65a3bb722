package types

import "time"

// Kind identifies the category of a collected resource.
type Kind string

const (
	KindComputeInstance Kind = "compute_instance"
	KindDBInstance      Kind = "managed_db_instance"
	KindDBCluster       Kind = "managed_db_cluster"
	KindBucket          Kind = "storage_bucket"
	KindFunction        Kind = "function"
)

// RegionGlobal is the region code for region-less services (S3).
const RegionGlobal = "global"

// Unknown marks an attribute whose best-effort lookup failed.
const Unknown = "unknown"

// Record represents one discovered cloud resource as a flat row.
type Record struct {
	Kind        Kind               `json:"resource_type"`
	ID          string             `json:"resource_id"`
	AccountID   string             `json:"account_id"`
	AccountName string             `json:"account_name"`
	Region      string             `json:"region"`
	Timestamp   time.Time          `json:"timestamp"`
	Attrs       map[string]string  `json:"attrs"`
	Metrics     map[string]float64 `json:"metrics,omitempty"`
	MonthlyCost float64            `json:"estimated_monthly_cost"`
}

// NewRecord creates a record with common fields populated and maps allocated.
func NewRecord(kind Kind, id, accountID, accountName, region string) Record {
	return Record{
		Kind:        kind,
		ID:          id,
		AccountID:   accountID,
		AccountName: accountName,
		Region:      region,
		Timestamp:   time.Now().UTC(),
		Attrs:       make(map[string]string),
		Metrics:     make(map[string]float64),
	}
}

// Key returns the composite upsert key. Re-collection of the same resource
// overwrites the previous row; Timestamp is a plain attribute, not key material.
func (r *Record) Key() string {
	return string(r.Kind) + "#" + r.ID
}

// Attr returns an attribute value, or Unknown when the key was never set.
func (r *Record) Attr(key string) string {
	if v, ok := r.Attrs[key]; ok {
		return v
	}
	return Unknown
}

// Failure records one account whose collection failed entirely.
type Failure struct {
	AccountName string `json:"account_name"`
	AccountID   string `json:"account_id"`
	Error       string `json:"error"`
}

// Filter selects records for queries.
type Filter struct {
	Kind      Kind   `json:"kind,omitempty"`
	AccountID string `json:"account_id,omitempty"`
	Region    string `json:"region,omitempty"`
	IDs       []string
}

// Matches checks if a record matches filter criteria.
func (r *Record) Matches(filter Filter) bool {
	return r.matchesBasicFields(filter) && r.matchesIDs(filter)
}

func (r *Record) matchesBasicFields(filter Filter) bool {
	if filter.Kind != "" && r.Kind != filter.Kind {
		return false
	}
	if filter.AccountID != "" && r.AccountID != filter.AccountID {
		return false
	}
	if filter.Region != "" && r.Region != filter.Region {
		return false
	}
	return true
}

func (r *Record) matchesIDs(filter Filter) bool {
	if len(filter.IDs) == 0 {
		return true
	}
	for _, id := range filter.IDs {
		if r.ID == id {
			return true
		}
	}
	return false
}
