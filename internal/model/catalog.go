package model

import "encoding/json"

// Import identifies one ingested BDGD snapshot. Every data query is
// scoped to exactly one import.
type Import struct {
	ID   int    `json:"id_importado"`
	Nome string `json:"nome"`
}

// GeoEntity is a catalog entry for a table carrying geometry,
// rendered as a map layer.
type GeoEntity struct {
	Nome      string `json:"nome"`
	Sigla     string `json:"sigla"`
	TipoGeom  string `json:"tipo_geom"`
	Descricao string `json:"descricao"`
}

// TabEntity is a catalog entry for a table without geometry.
type TabEntity struct {
	Nome      string `json:"nome"`
	Sigla     string `json:"sigla"`
	Descricao string `json:"descricao"`
}

// ServiceArea is the aggregated area of operation for one import:
// the bounding extent plus the outline geometry as GeoJSON.
type ServiceArea struct {
	BBox    [4]float64      `json:"bbox"`
	GeoJSON json.RawMessage `json:"geojson"`
}

// FieldMetadata describes one column of a catalog table.
type FieldMetadata struct {
	Descricao   string `json:"descricao"`
	Tipo        string `json:"tipo"`
	Obrigatorio bool   `json:"obrigatorio"`
}

// TileLayer tells the frontend where to fetch vector tiles for one
// geographic entity.
type TileLayer struct {
	ID       string `json:"id"`
	Nome     string `json:"nome"`
	TipoGeom string `json:"tipo_geom"`
	TileURL  string `json:"tile_url"`
}
