package memory

import "context"

const (
	DefaultCollection     = "memories"
	DefaultDimensions     = 1536
	DefaultScoreThreshold = 0.1
	DefaultLimit          = 2
	DefaultFacetLimit     = 1000
)

// Repository is a vector-backed memory collection partitioned by owner.
//
// Every call that cannot reach the backing store fails with an error
// matching ErrStorageUnavailable and is not retried. Isolation between
// owners is a read-side property: Search, FacetCategories, ListOwner and
// DeleteOwner always filter by owner, while Insert trusts the OwnerID on
// each record.
type Repository interface {
	// EnsureCollection creates the collection and its owner/category
	// indexes if they do not exist.
	EnsureCollection(ctx context.Context) error

	// Insert assigns each record a fresh point id and created_at and
	// writes them in a single call. Not idempotent: retrying a failed
	// insert may duplicate memories.
	Insert(ctx context.Context, records []Record) ([]Record, error)

	// Search returns up to q.Limit records of q.OwnerID with score at or
	// above q.ScoreThreshold, best first.
	Search(ctx context.Context, q SearchQuery) (*CandidateSet, error)

	// Delete removes points by id. Ids that do not exist are ignored.
	Delete(ctx context.Context, pointIDs []string) error

	// FacetCategories returns up to limit distinct categories used by
	// ownerID, or across all owners when ownerID is empty.
	FacetCategories(ctx context.Context, ownerID string, limit int) ([]string, error)

	// DeleteOwner removes every record of ownerID.
	DeleteOwner(ctx context.Context, ownerID string) error

	// ListOwner returns every record of ownerID, oldest first.
	ListOwner(ctx context.Context, ownerID string) ([]Record, error)

	Close() error
}

// PrepareRecords validates records for insert and stamps identity fields.
func PrepareRecords(records []Record, dims int, newID func() string) ([]Record, error) {
	out := make([]Record, len(records))
	created := Now()
	for i, r := range records {
		if r.OwnerID == "" {
			return nil, ErrMissingOwner
		}
		if dims > 0 && len(r.Embedding) != dims {
			return nil, &DimensionError{Got: len(r.Embedding), Want: dims}
		}
		r.PointID = newID()
		r.CreatedAt = created
		r.Categories = NormalizeCategories(r.Categories)
		out[i] = r
	}
	return out, nil
}
