package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/bdgdview/bdgd-api/internal/config"
	"github.com/bdgdview/bdgd-api/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// querier is the slice of pgxpool.Pool the repository needs.
type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type postgresRepo struct {
	db  querier
	log *zap.Logger
}

type postgresParams struct {
	fx.In

	LC     fx.Lifecycle
	Log    *zap.Logger
	Config *config.Config
}

func NewPostgres(p postgresParams) (Repository, error) {
	pool, err := pgxpool.New(context.Background(), p.Config.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	p.LC.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := pool.Ping(ctx); err != nil {
				// tolerated: the pool reconnects once the database is up
				p.Log.Warn("database not reachable at startup", zap.Error(err))
			}
			return nil
		},
		OnStop: func(_ context.Context) error {
			pool.Close()
			return nil
		},
	})

	return &postgresRepo{db: pool, log: p.Log}, nil
}

func (r *postgresRepo) GeoTableNames(ctx context.Context) ([]string, error) {
	return r.names(ctx, `SELECT sigla FROM entgeo`)
}

func (r *postgresRepo) TabTableNames(ctx context.Context) ([]string, error) {
	return r.names(ctx, `SELECT sigla FROM enttab`)
}

func (r *postgresRepo) names(ctx context.Context, sql string) ([]string, error) {
	rows, err := r.db.Query(ctx, sql)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}

	return out, rows.Err()
}

func (r *postgresRepo) ListImports(ctx context.Context) ([]model.Import, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id_importado, nome
		FROM importados
		ORDER BY id_importado DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Import
	for rows.Next() {
		var imp model.Import
		if err := rows.Scan(&imp.ID, &imp.Nome); err != nil {
			return nil, err
		}
		out = append(out, imp)
	}

	return out, rows.Err()
}

func (r *postgresRepo) ListGeoEntities(ctx context.Context) ([]model.GeoEntity, error) {
	rows, err := r.db.Query(ctx, `
		SELECT nome, sigla, tipo_de_feicao, descricao
		FROM entgeo
		ORDER BY nome`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.GeoEntity
	for rows.Next() {
		var e model.GeoEntity
		if err := rows.Scan(&e.Nome, &e.Sigla, &e.TipoGeom, &e.Descricao); err != nil {
			return nil, err
		}
		out = append(out, e)
	}

	return out, rows.Err()
}

func (r *postgresRepo) ListTabEntities(ctx context.Context) ([]model.TabEntity, error) {
	rows, err := r.db.Query(ctx, `
		SELECT nome, sigla, descricao
		FROM enttab
		ORDER BY nome`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TabEntity
	for rows.Next() {
		var e model.TabEntity
		if err := rows.Scan(&e.Nome, &e.Sigla, &e.Descricao); err != nil {
			return nil, err
		}
		out = append(out, e)
	}

	return out, rows.Err()
}

func (r *postgresRepo) TableMetadata(ctx context.Context, table string) (map[string]model.FieldMetadata, error) {
	rows, err := r.db.Query(ctx, `
		SELECT campo, descricao, tipo, obrigatorio
		FROM metadados_tabelas
		WHERE tabela = $1
		ORDER BY seq`, table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]model.FieldMetadata)
	for rows.Next() {
		var campo string
		var descricao, tipo, obrigatorio *string
		if err := rows.Scan(&campo, &descricao, &tipo, &obrigatorio); err != nil {
			return nil, err
		}

		out[campo] = model.FieldMetadata{
			Descricao:   deref(descricao),
			Tipo:        deref(tipo),
			Obrigatorio: deref(obrigatorio) == "Sim",
		}
	}

	return out, rows.Err()
}

func (r *postgresRepo) CountRecords(ctx context.Context, table string, importID int) (int64, error) {
	var total int64
	err := r.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE id_importado = $1`, table),
		importID,
	).Scan(&total)
	return total, err
}

func (r *postgresRepo) FetchRecords(ctx context.Context, table string, importID, limit, offset int) ([]map[string]any, error) {
	rows, err := r.db.Query(ctx,
		fmt.Sprintf(`SELECT * FROM %s WHERE id_importado = $1 ORDER BY cod_id LIMIT $2 OFFSET $3`, table),
		importID, limit, offset,
	)
	if err != nil {
		return nil, err
	}

	return collectRows(rows)
}

func (r *postgresRepo) FetchRecord(ctx context.Context, table string, importID int, codID string) (map[string]any, error) {
	rows, err := r.db.Query(ctx,
		fmt.Sprintf(`SELECT * FROM %s WHERE id_importado = $1 AND cod_id = $2`, table),
		importID, codID,
	)
	if err != nil {
		return nil, err
	}

	records, err := collectRows(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, ErrNotFound
	}

	return records[0], nil
}

func (r *postgresRepo) RecordGeoJSON(ctx context.Context, table string, importID int, codID string) (json.RawMessage, error) {
	var geojson *string
	err := r.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT ST_AsGeoJSON(geom) FROM %s WHERE id_importado = $1 AND cod_id = $2`, table),
		importID, codID,
	).Scan(&geojson)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if geojson == nil {
		return nil, nil
	}

	return json.RawMessage(*geojson), nil
}

func (r *postgresRepo) ServiceArea(ctx context.Context, importID int) (*model.ServiceArea, error) {
	var geojson string
	var area model.ServiceArea
	err := r.db.QueryRow(ctx, `
		SELECT
			ST_AsGeoJSON(geom),
			ST_XMin(ST_Extent(geom)),
			ST_YMin(ST_Extent(geom)),
			ST_XMax(ST_Extent(geom)),
			ST_YMax(ST_Extent(geom))
		FROM arat
		WHERE id_importado = $1
		GROUP BY geom
		LIMIT 1`, importID,
	).Scan(&geojson, &area.BBox[0], &area.BBox[1], &area.BBox[2], &area.BBox[3])
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	area.GeoJSON = json.RawMessage(geojson)
	return &area, nil
}

// collectRows materializes rows as column-name keyed maps. Column sets
// are schema-driven and differ per table, so there is no struct to
// scan into.
func collectRows(rows pgx.Rows) ([]map[string]any, error) {
	defer rows.Close()

	fields := rows.FieldDescriptions()

	var out []map[string]any
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}

		record := make(map[string]any, len(fields))
		for i, f := range fields {
			record[f.Name] = values[i]
		}
		out = append(out, record)
	}

	return out, rows.Err()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
