package fhir

import (
	"encoding/json"
	"fmt"
	"time"
)

// Bundle represents a FHIR Bundle resource.
type Bundle struct {
	ResourceType string        `json:"resourceType"`
	ID           string        `json:"id,omitempty"`
	Type         string        `json:"type"`
	Total        *int          `json:"total,omitempty"`
	Link         []BundleLink  `json:"link,omitempty"`
	Entry        []BundleEntry `json:"entry,omitempty"`
	Timestamp    *time.Time    `json:"timestamp,omitempty"`
}

type BundleLink struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

type BundleEntry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
	Search   *BundleSearch   `json:"search,omitempty"`
}

type BundleSearch struct {
	Mode string `json:"mode,omitempty"`
}

// NewSearchBundle creates a searchset Bundle from a list of resources.
// Entries whose resource carries resourceType and id get a fullUrl.
func NewSearchBundle(resources []interface{}, total int, selfURL string) *Bundle {
	now := time.Now().UTC()
	entries := make([]BundleEntry, 0, len(resources))
	for _, r := range resources {
		raw, err := json.Marshal(r)
		if err != nil {
			continue
		}
		entries = append(entries, BundleEntry{
			FullURL:  fullURL(raw),
			Resource: raw,
			Search:   &BundleSearch{Mode: "match"},
		})
	}

	return &Bundle{
		ResourceType: "Bundle",
		Type:         "searchset",
		Total:        &total,
		Timestamp:    &now,
		Link: []BundleLink{
			{Relation: "self", URL: selfURL},
		},
		Entry: entries,
	}
}

func fullURL(raw json.RawMessage) string {
	var head struct {
		ResourceType string `json:"resourceType"`
		ID           string `json:"id"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return ""
	}
	if head.ResourceType == "" || head.ID == "" {
		return ""
	}
	return FormatReference(head.ResourceType, head.ID)
}

// FormatReference creates a FHIR reference string.
func FormatReference(resourceType, id string) string {
	return fmt.Sprintf("%s/%s", resourceType, id)
}
