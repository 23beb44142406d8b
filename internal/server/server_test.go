package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bdgdview/bdgd-api/internal/auth"
	"github.com/bdgdview/bdgd-api/internal/config"
	"github.com/bdgdview/bdgd-api/internal/metrics"
	"github.com/bdgdview/bdgd-api/internal/middleware"
	"github.com/bdgdview/bdgd-api/internal/model"
	"github.com/bdgdview/bdgd-api/internal/registry"
	"github.com/bdgdview/bdgd-api/internal/repository"
	"github.com/bdgdview/bdgd-api/internal/session"
	"github.com/bdgdview/bdgd-api/internal/tabledata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx/fxtest"
	"go.uber.org/zap"
)

func seededRepo() *repository.Memory {
	return &repository.Memory{
		GeoNames: []string{"untrmt", "ssdmt"},
		TabNames: []string{"ucbt_tab"},
		Imports: []model.Import{
			{ID: 5, Nome: "BDGD_2024"},
		},
		GeoEntities: []model.GeoEntity{
			{Nome: "Unidade Transformadora MT", Sigla: "untrmt", TipoGeom: "POINT"},
		},
		TabEntities: []model.TabEntity{
			{Nome: "Unidade Consumidora BT", Sigla: "ucbt_tab"},
		},
		Metadata: map[string]map[string]model.FieldMetadata{
			"untrmt": {
				"pot_nom": {Descricao: "Potencia nominal", Tipo: "Numeric", Obrigatorio: true},
			},
		},
		Tables: map[string][]map[string]any{
			"untrmt": {
				{"cod_id": "u1", "id_importado": 5, "pot_nom": 75.0, "geom": []byte{1}},
				{"cod_id": "u2", "id_importado": 5, "pot_nom": 112.5, "geom": nil},
			},
		},
		GeoJSON: map[string]json.RawMessage{
			"untrmt/u1": json.RawMessage(`{"type":"Point","coordinates":[-48.5,-27.6]}`),
		},
		Areas: map[int]*model.ServiceArea{
			5: {
				BBox:    [4]float64{-49, -28, -48, -27},
				GeoJSON: json.RawMessage(`{"type":"Polygon","coordinates":[]}`),
			},
		},
	}
}

func newTestServer(t *testing.T, ssoURL string, repo *repository.Memory) *Server {
	t.Helper()

	cfg := &config.Config{
		Server: config.Server{Addr: ":0"},
		SSO: config.SSO{
			URL:     ssoURL,
			APIKey:  "test-key",
			Timeout: config.Duration(time.Second),
		},
		Session: config.Session{
			TTL:           config.Duration(8 * time.Hour),
			SweepInterval: config.Duration(30 * time.Minute),
		},
	}

	log := zap.NewNop()
	lc := fxtest.NewLifecycle(t)

	sessions := session.NewStore(session.Params{LC: lc, Log: log, Config: cfg})
	gateway := auth.NewGateway(auth.Params{Log: log, Config: cfg, Sessions: sessions})
	reg := registry.New(registry.Params{LC: lc, Log: log, Repo: repo})
	tables := tabledata.NewService(tabledata.Params{Log: log, Registry: reg, Repo: repo})

	return New(Params{
		Log:      log,
		Config:   cfg,
		Gateway:  gateway,
		Sessions: sessions,
		Tables:   tables,
		Repo:     repo,
		Metrics:  metrics.New(),
	})
}

func ssoStub(valid bool) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !valid {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{"success": false, "error": "invalid token"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data": map[string]any{
				"valid": true,
				"user": map[string]any{
					"id":    1,
					"email": "a@b.com",
					"name":  "A",
					"role":  "admin",
				},
			},
		})
	}))
}

func doRequest(s *Server, method, target, body string, cookie *http.Cookie) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}

	rr := httptest.NewRecorder()
	s.Handler().ServeHTTP(rr, req)
	return rr
}

func login(t *testing.T, s *Server) *http.Cookie {
	t.Helper()

	rr := doRequest(s, http.MethodPost, "/api/auth/sso", `{"sso_token":"abc"}`, nil)
	require.Equal(t, http.StatusOK, rr.Code)

	for _, c := range rr.Result().Cookies() {
		if c.Name == middleware.CookieName {
			return c
		}
	}

	t.Fatal("no session cookie set")
	return nil
}

func Test_SSOLoginFlow(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	sso := ssoStub(true)
	defer sso.Close()

	s := newTestServer(t, sso.URL, seededRepo())

	rr := doRequest(s, http.MethodPost, "/api/auth/sso", `{"sso_token":"abc","return_url":"/mapa"}`, nil)
	require.Equal(http.StatusOK, rr.Code)

	var body struct {
		Success bool       `json:"success"`
		User    model.User `json:"user"`
	}
	require.NoError(json.Unmarshal(rr.Body.Bytes(), &body))
	assert.True(body.Success)
	assert.Equal(1, body.User.ID)
	assert.Equal("/mapa", body.User.ReturnURL)

	var cookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == middleware.CookieName {
			cookie = c
		}
	}
	require.NotNil(cookie)
	assert.True(cookie.HttpOnly)
	assert.Equal(http.SameSiteLaxMode, cookie.SameSite)
	assert.Equal("/", cookie.Path)
	assert.Equal(int((8 * time.Hour).Seconds()), cookie.MaxAge)

	// the cookie authenticates /auth/me and yields the same user
	rr = doRequest(s, http.MethodGet, "/api/auth/me", "", cookie)
	require.Equal(http.StatusOK, rr.Code)

	var me struct {
		User model.User `json:"user"`
	}
	require.NoError(json.Unmarshal(rr.Body.Bytes(), &me))
	assert.Equal(body.User, me.User)
}

func Test_SSOLoginMissingToken(t *testing.T) {
	s := newTestServer(t, "http://localhost:0", seededRepo())

	rr := doRequest(s, http.MethodPost, "/api/auth/sso", `{"sso_token":""}`, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func Test_SSOLoginRejected(t *testing.T) {
	sso := ssoStub(false)
	defer sso.Close()

	s := newTestServer(t, sso.URL, seededRepo())

	rr := doRequest(s, http.MethodPost, "/api/auth/sso", `{"sso_token":"bad"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func Test_SSOLoginUpstreamDown(t *testing.T) {
	sso := ssoStub(true)
	sso.Close() // unreachable

	s := newTestServer(t, sso.URL, seededRepo())

	rr := doRequest(s, http.MethodPost, "/api/auth/sso", `{"sso_token":"abc"}`, nil)
	assert.Equal(t, http.StatusBadGateway, rr.Code)
}

func Test_UnauthenticatedRequests(t *testing.T) {
	s := newTestServer(t, "http://localhost:0", seededRepo())

	for _, target := range []string{
		"/api/auth/me",
		"/api/importados",
		"/api/entgeo",
		"/api/enttab",
		"/api/tabular/untrmt?id_importado=5",
		"/api/registro/untrmt/u1?id_importado=5",
		"/api/arat/5",
		"/api/tiles-config/5",
		"/api/metadados/untrmt",
	} {
		rr := doRequest(s, http.MethodGet, target, "", nil)
		assert.Equal(t, http.StatusUnauthorized, rr.Code, target)
	}

	// a made-up cookie is just as unauthenticated as none
	cookie := &http.Cookie{Name: middleware.CookieName, Value: "forged"}
	rr := doRequest(s, http.MethodGet, "/api/auth/me", "", cookie)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func Test_Logout(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	sso := ssoStub(true)
	defer sso.Close()

	s := newTestServer(t, sso.URL, seededRepo())
	cookie := login(t, s)

	rr := doRequest(s, http.MethodPost, "/api/auth/logout", "", cookie)
	require.Equal(http.StatusOK, rr.Code)

	for _, c := range rr.Result().Cookies() {
		if c.Name == middleware.CookieName {
			assert.Less(c.MaxAge, 0, "cookie must be cleared")
		}
	}

	// session is gone
	rr = doRequest(s, http.MethodGet, "/api/auth/me", "", cookie)
	assert.Equal(http.StatusUnauthorized, rr.Code)

	// logging out again still succeeds
	rr = doRequest(s, http.MethodPost, "/api/auth/logout", "", cookie)
	assert.Equal(http.StatusOK, rr.Code)
}

func Test_Tabular(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	sso := ssoStub(true)
	defer sso.Close()

	s := newTestServer(t, sso.URL, seededRepo())
	cookie := login(t, s)

	rr := doRequest(s, http.MethodGet, "/api/tabular/untrmt?id_importado=5", "", cookie)
	require.Equal(http.StatusOK, rr.Code)

	var body struct {
		Tabela    string           `json:"tabela"`
		Total     int64            `json:"total"`
		Limit     int              `json:"limit"`
		Offset    int              `json:"offset"`
		Registros []map[string]any `json:"registros"`
	}
	require.NoError(json.Unmarshal(rr.Body.Bytes(), &body))

	assert.Equal("untrmt", body.Tabela)
	assert.Equal(int64(2), body.Total)
	assert.Equal(200, body.Limit)
	assert.Equal(0, body.Offset)
	require.Len(body.Registros, 2)

	for _, record := range body.Registros {
		assert.NotContains(record, "id_importado")
		assert.NotContains(record, "geom")
	}
}

func Test_TabularForbiddenTable(t *testing.T) {
	sso := ssoStub(true)
	defer sso.Close()

	s := newTestServer(t, sso.URL, seededRepo())
	cookie := login(t, s)

	rr := doRequest(s, http.MethodGet, "/api/tabular/secret_table?id_importado=5", "", cookie)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func Test_TabularBadPagination(t *testing.T) {
	sso := ssoStub(true)
	defer sso.Close()

	s := newTestServer(t, sso.URL, seededRepo())
	cookie := login(t, s)

	for _, query := range []string{"limit=0", "limit=201", "offset=-1"} {
		rr := doRequest(s, http.MethodGet, "/api/tabular/untrmt?id_importado=5&"+query, "", cookie)
		assert.Equal(t, http.StatusBadRequest, rr.Code, query)
	}
}

func Test_Record(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	sso := ssoStub(true)
	defer sso.Close()

	s := newTestServer(t, sso.URL, seededRepo())
	cookie := login(t, s)

	rr := doRequest(s, http.MethodGet, "/api/registro/untrmt/u1?id_importado=5", "", cookie)
	require.Equal(http.StatusOK, rr.Code)

	var body struct {
		Tabela   string         `json:"tabela"`
		Registro map[string]any `json:"registro"`
	}
	require.NoError(json.Unmarshal(rr.Body.Bytes(), &body))

	assert.Equal("untrmt", body.Tabela)
	assert.NotContains(body.Registro, "id_importado")

	// geometry is GeoJSON, not a raw value
	geom, ok := body.Registro["geom"].(map[string]any)
	require.True(ok)
	assert.Equal("Point", geom["type"])
}

func Test_RecordNotFound(t *testing.T) {
	sso := ssoStub(true)
	defer sso.Close()

	s := newTestServer(t, sso.URL, seededRepo())
	cookie := login(t, s)

	rr := doRequest(s, http.MethodGet, "/api/registro/untrmt/nope?id_importado=5", "", cookie)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func Test_ServiceArea(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	sso := ssoStub(true)
	defer sso.Close()

	s := newTestServer(t, sso.URL, seededRepo())
	cookie := login(t, s)

	rr := doRequest(s, http.MethodGet, "/api/arat/5", "", cookie)
	require.Equal(http.StatusOK, rr.Code)

	var body struct {
		ImportID int        `json:"id_importado"`
		BBox     [4]float64 `json:"bbox"`
		GeoJSON  struct {
			Type       string         `json:"type"`
			Properties map[string]any `json:"properties"`
		} `json:"geojson"`
	}
	require.NoError(json.Unmarshal(rr.Body.Bytes(), &body))

	assert.Equal(5, body.ImportID)
	assert.Equal([4]float64{-49, -28, -48, -27}, body.BBox)
	assert.Equal("Feature", body.GeoJSON.Type)

	rr = doRequest(s, http.MethodGet, "/api/arat/99", "", cookie)
	assert.Equal(http.StatusNotFound, rr.Code)
}

func Test_CatalogEndpoints(t *testing.T) {
	require := require.New(t)
	assert := assert.New(t)

	sso := ssoStub(true)
	defer sso.Close()

	s := newTestServer(t, sso.URL, seededRepo())
	cookie := login(t, s)

	rr := doRequest(s, http.MethodGet, "/api/importados", "", cookie)
	require.Equal(http.StatusOK, rr.Code)
	assert.Contains(rr.Body.String(), "BDGD_2024")

	rr = doRequest(s, http.MethodGet, "/api/entgeo", "", cookie)
	require.Equal(http.StatusOK, rr.Code)
	assert.Contains(rr.Body.String(), "untrmt")

	rr = doRequest(s, http.MethodGet, "/api/enttab", "", cookie)
	require.Equal(http.StatusOK, rr.Code)
	assert.Contains(rr.Body.String(), "ucbt_tab")

	rr = doRequest(s, http.MethodGet, "/api/tiles-config/5", "", cookie)
	require.Equal(http.StatusOK, rr.Code)
	assert.Contains(rr.Body.String(), "/public.untrmt/{z}/{x}/{y}.pbf?id_importado=5")

	rr = doRequest(s, http.MethodGet, "/api/metadados/untrmt", "", cookie)
	require.Equal(http.StatusOK, rr.Code)
	assert.Contains(rr.Body.String(), "Potencia nominal")
}

func Test_HealthAndMetrics(t *testing.T) {
	s := newTestServer(t, "http://localhost:0", seededRepo())

	rr := doRequest(s, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(s, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = doRequest(s, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "bdgd_api_requests_total")
}
