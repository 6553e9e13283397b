package models

import (
	"fmt"
	"time"
)

// Item is a raw search-result record from the upstream provider. The shape is
// opaque: an identifier, usually a URL and a display name, plus an arbitrary
// property bag. The canonicalizer tolerates absence of any specific field.
type Item map[string]interface{}

// ID returns the upstream identifier, or "" when the item carries none.
func (i Item) ID() string {
	if v, ok := i["id"].(string); ok {
		return v
	}
	return ""
}

// Properties returns the nested property bag, or nil.
func (i Item) Properties() map[string]interface{} {
	if v, ok := i["properties"].(map[string]interface{}); ok {
		return v
	}
	return nil
}

// String returns a short description for logging.
func (i Item) String() string {
	return fmt.Sprintf("item(%s)", i.ID())
}

// Mode selects the dedup discipline for a job.
type Mode string

const (
	// ModeCompany dedups on business identity; items run concurrently.
	ModeCompany Mode = "company"
	// ModeEntity dedups on normalized titles; items run through a serial queue.
	ModeEntity Mode = "entity"
)

// SubdomainClass classifies a hostname's subdomain.
type SubdomainClass string

const (
	SubdomainGeneric SubdomainClass = "generic"
	SubdomainOther   SubdomainClass = "other"
)

// CanonicalRow is the distilled view of a raw item that every matching rule
// operates on. Derived once at ingest time and stable thereafter.
type CanonicalRow struct {
	RowID           string
	Name            string
	URL             string
	Host            string
	ETLD1           string
	Brand           string
	Subdomain       string
	SubClass        SubdomainClass
	IsVideoPlatform bool
	NormalizedTitle string
	Raw             Item
}

// ItemStatus is the terminal (or transient) disposition of a persisted item.
type ItemStatus string

const (
	ItemStatusAccepted ItemStatus = "accepted"
	ItemStatusRejected ItemStatus = "rejected"
	ItemStatusPending  ItemStatus = "pending"
)

// Rejection reason taxonomy. Every rejected event and persisted rejection
// carries exactly one of these strings; historical values stay readable
// through the history API even when current logic no longer produces them.
const (
	ReasonExactMatch               = "exact_match"
	ReasonFuzzyMatch               = "fuzzy_match" // legacy
	ReasonCacheHit                 = "cache_hit"
	ReasonLLMDuplicate             = "llm_duplicate"
	ReasonNearDuplicate            = "near_duplicate"
	ReasonURLNearDuplicate         = "url_near_duplicate"
	ReasonSubdomainDuplicate       = "subdomain_duplicate"
	ReasonURLResolutionDuplicate   = "url_resolution_duplicate"
	ReasonExactURLDuplicate        = "exact_url_duplicate"
	ReasonNormalizedTitleDuplicate = "normalized_title_duplicate"
	ReasonEntityFuzzyMatch         = "entity_fuzzy_match"
	ReasonEntityVeryHighSimilarity = "entity_very_high_similarity"
	ReasonEntityLLMDuplicate       = "entity_llm_duplicate"
	ReasonHighSimilarityMatch      = "high_similarity_match"
	ReasonCompanyDecision          = "company_decision" // internal
	ReasonExactNameDuplicate       = "exact_name_duplicate"
)

// KnownRejectionReasons is the complete taxonomy, used to validate rejected
// events and to seed reporting.
var KnownRejectionReasons = map[string]bool{
	ReasonExactMatch:               true,
	ReasonFuzzyMatch:               true,
	ReasonCacheHit:                 true,
	ReasonLLMDuplicate:             true,
	ReasonNearDuplicate:            true,
	ReasonURLNearDuplicate:         true,
	ReasonSubdomainDuplicate:       true,
	ReasonURLResolutionDuplicate:   true,
	ReasonExactURLDuplicate:        true,
	ReasonNormalizedTitleDuplicate: true,
	ReasonEntityFuzzyMatch:         true,
	ReasonEntityVeryHighSimilarity: true,
	ReasonEntityLLMDuplicate:       true,
	ReasonHighSimilarityMatch:      true,
	ReasonCompanyDecision:          true,
	ReasonExactNameDuplicate:       true,
}

// ItemRecord is the persisted per-item document.
type ItemRecord struct {
	Key              string                 `json:"-"` // jobID/itemID, the badgerhold key
	JobID            string                 `json:"job_id" badgerhold:"index"`
	ItemID           string                 `json:"item_id"`
	Name             string                 `json:"name"`
	URL              string                 `json:"url"`
	Properties       map[string]interface{} `json:"properties,omitempty"`
	RawData          Item                   `json:"raw_data,omitempty"`
	Status           ItemStatus             `json:"status" badgerhold:"index"`
	RejectedBy       string                 `json:"rejected_by,omitempty" badgerhold:"index"`
	RejectionReason  string                 `json:"rejection_reason,omitempty" badgerhold:"index"`
	RejectionDetails string                 `json:"rejection_details,omitempty"`
	NormalizedTitle  string                 `json:"normalized_title,omitempty" badgerhold:"index"`
	Similarity       float64                `json:"similarity,omitempty"`
	CreatedAt        time.Time              `json:"created_at" badgerhold:"index"`
}

// RecordKey builds the badgerhold key for an item record.
func RecordKey(jobID, itemID string) string {
	return jobID + "/" + itemID
}
