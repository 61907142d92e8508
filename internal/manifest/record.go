package manifest

import (
	"encoding/json"
	"fmt"
)

// RecordSchemaVersion is written into every Record.
const RecordSchemaVersion = 1

// Record is the persisted form of a published deploy, stored next to the
// site by the object-storage host and read back on the next deploy to work
// out which public objects changed.
type Record struct {
	SchemaVersion int             `json:"schema_version"`
	HashAlgorithm string          `json:"hash_algorithm"`
	HashVersion   int             `json:"hash_version"`
	SiteID        string          `json:"site_id"`
	SiteName      string          `json:"site_name"`
	DeployID      string          `json:"deploy_id"`
	CreatedAt     string          `json:"created_at"`
	Digest        string          `json:"digest"`
	Files         ContentManifest `json:"files"`
}

// NewRecord fills in the schema and hash fields for m.
func NewRecord(siteID, siteName, deployID, createdAt string, m ContentManifest) *Record {
	return &Record{
		SchemaVersion: RecordSchemaVersion,
		HashAlgorithm: HashAlgorithm,
		HashVersion:   HashVersion,
		SiteID:        siteID,
		SiteName:      siteName,
		DeployID:      deployID,
		CreatedAt:     createdAt,
		Digest:        m.Digest(),
		Files:         m,
	}
}

// Marshal serializes r to indented JSON. Struct fields keep declaration
// order and encoding/json writes map keys sorted, so equal records always
// produce identical bytes.
func Marshal(r *Record) ([]byte, error) {
	if r == nil {
		return nil, fmt.Errorf("manifest: cannot marshal nil record")
	}
	files := r.Files
	if files == nil {
		files = ContentManifest{}
	}
	out := *r
	out.Files = files
	return json.MarshalIndent(out, "", "  ")
}

// Unmarshal parses a Record. Records written with a different hash
// algorithm are rejected, since their digests cannot be compared.
func Unmarshal(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("manifest: unmarshal failed: %w", err)
	}
	if r.HashAlgorithm != HashAlgorithm || r.HashVersion != HashVersion {
		return nil, fmt.Errorf("manifest: record uses %s v%d, want %s v%d",
			r.HashAlgorithm, r.HashVersion, HashAlgorithm, HashVersion)
	}
	if r.Files == nil {
		r.Files = ContentManifest{}
	}
	return &r, nil
}
