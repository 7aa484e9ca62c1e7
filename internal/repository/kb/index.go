package kb

import (
	"github.com/kailas-cloud/mathroute/internal/db"
	"github.com/kailas-cloud/mathroute/internal/domain"
)

// IndexConfig shapes the vector field of the KB index.
type IndexConfig struct {
	Dimensions  int
	Algorithm   db.VectorAlgorithm
	M           int
	EFConstruct int
}

func keyPrefix() string { return domain.KeyPrefix + "kb:" }

func indexName() string { return domain.KeyPrefix + "kb:idx" }

func recordKey(id string) string { return keyPrefix() + id }

// buildIndex declares the KB schema: TAG fields for exact filters,
// created_at for recency ordering and one cosine vector field.
func buildIndex(cfg IndexConfig) (*db.IndexDefinition, error) {
	b := db.NewIndex(indexName()).
		Prefix(keyPrefix()).
		Tag(fieldQuestionKey).
		Tag(fieldTopic).
		Tag(fieldDifficulty).
		Tag(fieldProvenance).
		Tag(fieldOrigin).
		Numeric(fieldCreatedAt).Sortable()

	if cfg.Algorithm == db.VectorFlat {
		b = b.VectorFlat(fieldVector, cfg.Dimensions, db.DistanceCosine)
	} else {
		b = b.VectorHNSW(fieldVector, cfg.Dimensions, db.DistanceCosine, cfg.M, cfg.EFConstruct)
	}
	return b.As(db.DefaultVectorField).Build()
}
