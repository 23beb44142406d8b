package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/bdgdview/bdgd-api/internal/auth"
	"github.com/bdgdview/bdgd-api/internal/middleware"
	"github.com/bdgdview/bdgd-api/internal/model"
	"github.com/bdgdview/bdgd-api/internal/repository"
	"github.com/bdgdview/bdgd-api/internal/tabledata"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"message": "BDGD read API",
		"version": "1.0.0",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type ssoLoginRequest struct {
	SSOToken  string `json:"sso_token"`
	ReturnURL string `json:"return_url"`
}

func (s *Server) handleSSOLogin(w http.ResponseWriter, r *http.Request) {
	var req ssoLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}

	user, sessionID, err := s.gateway.Login(r.Context(), req.SSOToken, req.ReturnURL)
	if err != nil {
		s.writeError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.CookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(s.sessionTTL.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	s.writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"user":    user,
	})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	user, ok := middleware.UserFrom(r.Context())
	if !ok {
		s.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authenticated"})
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(middleware.CookieName); err == nil {
		s.gateway.Logout(cookie.Value)
	}

	http.SetCookie(w, &http.Cookie{
		Name:     middleware.CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	s.writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleListImports(w http.ResponseWriter, r *http.Request) {
	imports, err := s.repo.ListImports(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"importados": imports})
}

func (s *Server) handleListGeoEntities(w http.ResponseWriter, r *http.Request) {
	entities, err := s.repo.ListGeoEntities(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"entidades": entities})
}

func (s *Server) handleListTabEntities(w http.ResponseWriter, r *http.Request) {
	entities, err := s.repo.ListTabEntities(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"entidades": entities})
}

func (s *Server) handleTabular(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "tabela")

	importID, err := intQuery(r, "id_importado", -1)
	if err != nil || importID < 0 {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id_importado is required"})
		return
	}

	limit, err := intQuery(r, "limit", tabledata.MaxLimit)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid limit"})
		return
	}

	offset, err := intQuery(r, "offset", 0)
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid offset"})
		return
	}

	total, records, err := s.tables.List(r.Context(), table, importID, limit, offset)
	if err != nil {
		s.writeError(w, err)
		return
	}

	if records == nil {
		records = []map[string]any{}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"tabela":    table,
		"total":     total,
		"limit":     limit,
		"offset":    offset,
		"registros": records,
	})
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "tabela")
	codID := chi.URLParam(r, "cod_id")

	importID, err := intQuery(r, "id_importado", -1)
	if err != nil || importID < 0 {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id_importado is required"})
		return
	}

	record, err := s.tables.Get(r.Context(), table, importID, codID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"tabela":   table,
		"registro": record,
	})
}

type geoFeature struct {
	Type       string          `json:"type"`
	Geometry   json.RawMessage `json:"geometry"`
	Properties map[string]any  `json:"properties"`
}

func (s *Server) handleServiceArea(w http.ResponseWriter, r *http.Request) {
	importID, err := strconv.Atoi(chi.URLParam(r, "id_importado"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id_importado"})
		return
	}

	area, err := s.tables.ServiceArea(r.Context(), importID)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"id_importado": importID,
		"bbox":         area.BBox,
		"geojson": geoFeature{
			Type:       "Feature",
			Geometry:   area.GeoJSON,
			Properties: map[string]any{"id_importado": importID},
		},
	})
}

func (s *Server) handleTilesConfig(w http.ResponseWriter, r *http.Request) {
	importID, err := strconv.Atoi(chi.URLParam(r, "id_importado"))
	if err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id_importado"})
		return
	}

	entities, err := s.repo.ListGeoEntities(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	layers := make([]model.TileLayer, 0, len(entities))
	for _, e := range entities {
		layers = append(layers, model.TileLayer{
			ID:       e.Sigla,
			Nome:     e.Nome,
			TipoGeom: e.TipoGeom,
			TileURL:  fmt.Sprintf("/public.%s/{z}/{x}/{y}.pbf?id_importado=%d", e.Sigla, importID),
		})
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"id_importado": importID,
		"layers":       layers,
	})
}

func (s *Server) handleTableMetadata(w http.ResponseWriter, r *http.Request) {
	table := chi.URLParam(r, "tabela")

	fields, err := s.repo.TableMetadata(r.Context(), table)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if fields == nil {
		fields = map[string]model.FieldMetadata{}
	}

	s.writeJSON(w, http.StatusOK, map[string]any{
		"tabela": table,
		"campos": fields,
	})
}

func intQuery(r *http.Request, name string, fallback int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("error encoding response", zap.Error(err))
	}
}

// writeError maps domain errors to their externally visible status.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, auth.ErrMissingToken),
		errors.Is(err, tabledata.ErrTableNotAllowed),
		errors.Is(err, tabledata.ErrBadPagination):
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, auth.ErrInvalidToken):
		s.writeJSON(w, http.StatusUnauthorized, map[string]string{"error": err.Error()})
	case errors.Is(err, auth.ErrUnavailable):
		s.writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
	case errors.Is(err, repository.ErrNotFound):
		s.writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	default:
		s.log.Error("internal error", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal server error"})
	}
}
