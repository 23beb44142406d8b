package repository

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/bdgdview/bdgd-api/internal/model"
)

// Memory is an in-memory Repository used in tests and local
// development. Tables map a table name to its rows; rows carry the
// same columns a real table would, including id_importado and geom.
type Memory struct {
	GeoNames    []string
	TabNames    []string
	Imports     []model.Import
	GeoEntities []model.GeoEntity
	TabEntities []model.TabEntity
	Metadata    map[string]map[string]model.FieldMetadata
	Tables      map[string][]map[string]any
	GeoJSON     map[string]json.RawMessage // keyed by table + "/" + cod_id
	Areas       map[int]*model.ServiceArea

	// Err, when set, is returned by every method.
	Err error
}

var _ Repository = (*Memory)(nil)

func (m *Memory) GeoTableNames(_ context.Context) ([]string, error) {
	return m.GeoNames, m.Err
}

func (m *Memory) TabTableNames(_ context.Context) ([]string, error) {
	return m.TabNames, m.Err
}

func (m *Memory) ListImports(_ context.Context) ([]model.Import, error) {
	return m.Imports, m.Err
}

func (m *Memory) ListGeoEntities(_ context.Context) ([]model.GeoEntity, error) {
	return m.GeoEntities, m.Err
}

func (m *Memory) ListTabEntities(_ context.Context) ([]model.TabEntity, error) {
	return m.TabEntities, m.Err
}

func (m *Memory) TableMetadata(_ context.Context, table string) (map[string]model.FieldMetadata, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Metadata[table], nil
}

func (m *Memory) matching(table string, importID int) []map[string]any {
	var rows []map[string]any
	for _, row := range m.Tables[table] {
		if row["id_importado"] == importID {
			rows = append(rows, row)
		}
	}

	sort.Slice(rows, func(i, j int) bool {
		a, _ := rows[i]["cod_id"].(string)
		b, _ := rows[j]["cod_id"].(string)
		return a < b
	})

	return rows
}

func (m *Memory) CountRecords(_ context.Context, table string, importID int) (int64, error) {
	if m.Err != nil {
		return 0, m.Err
	}
	return int64(len(m.matching(table, importID))), nil
}

func (m *Memory) FetchRecords(_ context.Context, table string, importID, limit, offset int) ([]map[string]any, error) {
	if m.Err != nil {
		return nil, m.Err
	}

	rows := m.matching(table, importID)
	if offset >= len(rows) {
		return nil, nil
	}
	rows = rows[offset:]
	if limit < len(rows) {
		rows = rows[:limit]
	}

	// callers mutate returned records, so hand out copies
	out := make([]map[string]any, len(rows))
	for i, row := range rows {
		out[i] = copyRow(row)
	}
	return out, nil
}

func (m *Memory) FetchRecord(_ context.Context, table string, importID int, codID string) (map[string]any, error) {
	if m.Err != nil {
		return nil, m.Err
	}

	for _, row := range m.matching(table, importID) {
		if row["cod_id"] == codID {
			return copyRow(row), nil
		}
	}

	return nil, ErrNotFound
}

func (m *Memory) RecordGeoJSON(ctx context.Context, table string, importID int, codID string) (json.RawMessage, error) {
	if m.Err != nil {
		return nil, m.Err
	}

	if _, err := m.FetchRecord(ctx, table, importID, codID); err != nil {
		return nil, err
	}

	return m.GeoJSON[table+"/"+codID], nil
}

func (m *Memory) ServiceArea(_ context.Context, importID int) (*model.ServiceArea, error) {
	if m.Err != nil {
		return nil, m.Err
	}

	area, ok := m.Areas[importID]
	if !ok {
		return nil, ErrNotFound
	}
	return area, nil
}

func copyRow(row map[string]any) map[string]any {
	out := make(map[string]any, len(row))
	for k, v := range row {
		out[k] = v
	}
	return out
}
