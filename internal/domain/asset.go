package domain

import "time"

// AssetKind enumerates asset types.
type AssetKind string

const (
	AssetKindImage AssetKind = "image"
	AssetKindVideo AssetKind = "video"
)

// KindForFeature maps a generation feature to the asset kind it produces.
func KindForFeature(f Feature) AssetKind {
	if f.IsVideo() {
		return AssetKindVideo
	}
	return AssetKindImage
}

// Asset represents a generated artifact belonging to a job.
type Asset struct {
	ID        string
	JobID     string
	Kind      AssetKind
	URL       string
	Backend   string
	Seed      int64
	CreatedAt time.Time
}
