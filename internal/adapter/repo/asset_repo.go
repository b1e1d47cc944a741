package repo

import (
	"context"

	"github.com/google/uuid"

	"mediaforge/internal/domain"
	"mediaforge/internal/infra"
	"mediaforge/internal/sqlinline"
)

// AssetRepositoryPG implements domain.AssetRepository over PostgreSQL.
type AssetRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewAssetRepository constructs a new asset repository instance.
func NewAssetRepository(sql infra.SQLExecutor) *AssetRepositoryPG {
	return &AssetRepositoryPG{sql: sql}
}

// ListByJobID returns all assets belonging to the job, oldest first.
func (r *AssetRepositoryPG) ListByJobID(ctx context.Context, jobID string) ([]domain.Asset, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QSelectAssetsByJob, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var assets []domain.Asset
	for rows.Next() {
		var (
			asset domain.Asset
			kind  string
		)
		if err := rows.Scan(&asset.ID, &asset.JobID, &kind, &asset.URL, &asset.Backend, &asset.Seed, &asset.CreatedAt); err != nil {
			return nil, err
		}
		asset.Kind = domain.AssetKind(kind)
		assets = append(assets, asset)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return assets, nil
}

// SaveAll persists the job's assets; rows with no identifier get one.
func (r *AssetRepositoryPG) SaveAll(ctx context.Context, jobID string, assets []domain.Asset) error {
	for _, asset := range assets {
		id := asset.ID
		if id == "" {
			id = uuid.NewString()
		}
		_, err := r.sql.Exec(ctx, sqlinline.QInsertAsset,
			id,
			jobID,
			string(asset.Kind),
			asset.URL,
			asset.Backend,
			asset.Seed,
		)
		if err != nil {
			return err
		}
	}
	return nil
}
