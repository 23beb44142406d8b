package tabledata

import (
	"context"
	"errors"
	"fmt"

	"github.com/bdgdview/bdgd-api/internal/model"
	"github.com/bdgdview/bdgd-api/internal/registry"
	"github.com/bdgdview/bdgd-api/internal/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var (
	// ErrTableNotAllowed means the requested table is not in the
	// whitelist loaded from the catalog.
	ErrTableNotAllowed = errors.New("table not allowed")

	// ErrBadPagination means limit or offset is out of bounds.
	ErrBadPagination = errors.New("pagination out of bounds")
)

// MaxLimit caps the page size of List.
const MaxLimit = 200

// internal columns stripped from every record before it leaves the
// service; raw geometry is only ever returned GeoJSON-encoded
const (
	importColumn   = "id_importado"
	geometryColumn = "geom"
)

type tableRegistry interface {
	Allowed(ctx context.Context, table string) (bool, error)
}

// Service answers read queries against dynamic BDGD tables. Every
// table identifier is checked against the registry before any query
// text is assembled.
type Service struct {
	log  *zap.Logger
	reg  tableRegistry
	repo repository.Repository
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Registry *registry.Registry
	Repo     repository.Repository
}

func NewService(p Params) *Service {
	return &Service{
		log:  p.Log,
		reg:  p.Registry,
		repo: p.Repo,
	}
}

func (s *Service) checkTable(ctx context.Context, table string) error {
	ok, err := s.reg.Allowed(ctx, table)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("table %q: %w", table, ErrTableNotAllowed)
	}
	return nil
}

// List returns the total row count for the import plus one page of
// records, ordered by cod_id so pagination is reproducible.
func (s *Service) List(ctx context.Context, table string, importID, limit, offset int) (int64, []map[string]any, error) {
	if err := s.checkTable(ctx, table); err != nil {
		return 0, nil, err
	}

	if limit < 1 || limit > MaxLimit {
		return 0, nil, fmt.Errorf("limit must be between 1 and %d: %w", MaxLimit, ErrBadPagination)
	}
	if offset < 0 {
		return 0, nil, fmt.Errorf("offset must not be negative: %w", ErrBadPagination)
	}

	total, err := s.repo.CountRecords(ctx, table, importID)
	if err != nil {
		return 0, nil, err
	}

	records, err := s.repo.FetchRecords(ctx, table, importID, limit, offset)
	if err != nil {
		return 0, nil, err
	}

	for _, record := range records {
		delete(record, importColumn)
		delete(record, geometryColumn)
	}

	return total, records, nil
}

// Get returns the full record identified by codID within the import.
// A present, non-null geometry column is replaced by its GeoJSON
// encoding.
func (s *Service) Get(ctx context.Context, table string, importID int, codID string) (map[string]any, error) {
	if err := s.checkTable(ctx, table); err != nil {
		return nil, err
	}

	record, err := s.repo.FetchRecord(ctx, table, importID, codID)
	if err != nil {
		return nil, err
	}

	delete(record, importColumn)

	if geom, ok := record[geometryColumn]; ok && geom != nil {
		geojson, err := s.repo.RecordGeoJSON(ctx, table, importID, codID)
		if err != nil {
			return nil, err
		}
		record[geometryColumn] = geojson
	}

	return record, nil
}

// ServiceArea returns the aggregated area of operation for the
// import, or repository.ErrNotFound when the import has none.
func (s *Service) ServiceArea(ctx context.Context, importID int) (*model.ServiceArea, error) {
	return s.repo.ServiceArea(ctx, importID)
}
