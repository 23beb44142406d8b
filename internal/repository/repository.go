package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/bdgdview/bdgd-api/internal/model"
)

var (
	ErrNotFound = errors.New("not found")
)

// Repository reads the BDGD catalog and data tables. Methods taking a
// table argument interpolate it into query text; callers must only pass
// identifiers validated against the permission registry.
type Repository interface {
	// catalog
	GeoTableNames(ctx context.Context) ([]string, error)
	TabTableNames(ctx context.Context) ([]string, error)
	ListImports(ctx context.Context) ([]model.Import, error)
	ListGeoEntities(ctx context.Context) ([]model.GeoEntity, error)
	ListTabEntities(ctx context.Context) ([]model.TabEntity, error)
	TableMetadata(ctx context.Context, table string) (map[string]model.FieldMetadata, error)

	// dynamic tables
	CountRecords(ctx context.Context, table string, importID int) (int64, error)
	FetchRecords(ctx context.Context, table string, importID, limit, offset int) ([]map[string]any, error)
	FetchRecord(ctx context.Context, table string, importID int, codID string) (map[string]any, error)
	RecordGeoJSON(ctx context.Context, table string, importID int, codID string) (json.RawMessage, error)
	ServiceArea(ctx context.Context, importID int) (*model.ServiceArea, error)
}
