package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lykmapipo/osm-analytics/internal/engine"
	"github.com/lykmapipo/osm-analytics/internal/models"
	"github.com/lykmapipo/osm-analytics/internal/stats"
	"github.com/lykmapipo/osm-analytics/internal/utils"
)

type fakeEngine struct {
	updateErr  error
	snapshot   *stats.Snapshot
	gotRegion  models.Region
	gotLayers  []models.Layer
	gotFilters models.FilterSelection
	gotSystem  string
}

func (f *fakeEngine) Update(ctx context.Context, region models.Region, layers []models.Layer, filters models.FilterSelection) error {
	f.gotRegion = region
	f.gotLayers = layers
	f.gotFilters = filters
	return f.updateErr
}

func (f *fakeEngine) SetFilters(filters models.FilterSelection) *stats.Snapshot {
	f.gotFilters = filters
	return f.snapshot
}

func (f *fakeEngine) SetUnitSystem(system string) (*stats.Snapshot, error) {
	if system != "metric" && system != "imperial" {
		return nil, utils.NewAppError(utils.ErrorTypeValidation, utils.CodeInvalidRequest, "bad system", "ENGINE")
	}
	f.gotSystem = system
	return f.snapshot, nil
}

func (f *fakeEngine) Snapshot() *stats.Snapshot { return f.snapshot }
func (f *fakeEngine) Updating() bool            { return false }

type fakeBroadcaster struct{}

func (fakeBroadcaster) UpgradeConnection(w http.ResponseWriter, r *http.Request) {
	http.Error(w, "not a websocket", http.StatusBadRequest)
}

func (fakeBroadcaster) GetClientCount() int { return 3 }

func newTestServer(eng *fakeEngine) http.Handler {
	s := NewServer(DefaultConfig(), eng, models.NewLayerCatalogue(models.DefaultLayers()), fakeBroadcaster{})
	return s.Handler()
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

const validUpdate = `{"region": {"type": "bbox", "bbox": [0, 0, 1, 1]}, "layers": ["buildings", "highways"],
  "filters": {"time": {"min": 200, "max": 100}}}`

func TestUpdateSuccess(t *testing.T) {
	eng := &fakeEngine{snapshot: &stats.Snapshot{ID: "snap_1", ContributorCount: 1200, Estimated: true}}
	rec := do(t, newTestServer(eng), http.MethodPost, "/api/update", validUpdate)

	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "published", body["status"])
	assert.Equal(t, "1,200+", body["contributorLabel"])

	assert.Equal(t, models.RegionBBox, eng.gotRegion.Type)
	require.Len(t, eng.gotLayers, 2)
	assert.True(t, eng.gotLayers[1].MeasuresLength)
	// reversed bounds are normalised
	assert.Equal(t, models.NewRange(100, 200), *eng.gotFilters.Time)
	assert.Nil(t, eng.gotFilters.Experience)
}

func TestUpdateErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
		code   string
	}{
		{"stale update", validUpdate, engine.ErrStaleUpdate, http.StatusAccepted, ""},
		{"fetch failure", validUpdate, utils.FeatureFetchFailure(errors.New("boom"), []string{"buildings"}), http.StatusBadGateway, utils.CodeFeatureFetch},
		{"region failure", validUpdate, utils.RegionResolutionFailure(errors.New("nope"), "bbox"), http.StatusUnprocessableEntity, utils.CodeRegionResolution},
		{"unexpected failure", validUpdate, errors.New("disk on fire"), http.StatusInternalServerError, "INTERNAL_ERROR"},
		{"unknown layer", `{"region": {"type": "bbox"}, "layers": ["volcanoes"]}`, nil, http.StatusBadRequest, utils.CodeInvalidRequest},
		{"no layers", `{"region": {"type": "bbox"}, "layers": []}`, nil, http.StatusBadRequest, utils.CodeInvalidRequest},
		{"bad region type", `{"region": {"type": "circle"}, "layers": ["pois"]}`, nil, http.StatusBadRequest, utils.CodeInvalidRequest},
		{"malformed json", `{"region":`, nil, http.StatusBadRequest, utils.CodeInvalidRequest},
		{"unknown field", `{"region": {"type": "bbox"}, "layers": ["pois"], "zoom": 3}`, nil, http.StatusBadRequest, utils.CodeInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, newTestServer(&fakeEngine{updateErr: tt.err}), http.MethodPost, "/api/update", tt.body)
			require.Equal(t, tt.status, rec.Code)

			body := decodeBody(t, rec)
			if tt.code == "" {
				assert.Equal(t, "stale", body["status"])
				return
			}
			errBody, ok := body["error"].(map[string]interface{})
			require.True(t, ok)
			assert.Equal(t, tt.code, errBody["code"])
		})
	}
}

func TestFilters(t *testing.T) {
	eng := &fakeEngine{snapshot: &stats.Snapshot{ID: "snap_2"}}
	rec := do(t, newTestServer(eng), http.MethodPost, "/api/filters", `{"experience": {"min": 1, "max": 10}}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, eng.gotFilters.Time)
	assert.Equal(t, models.NewRange(1, 10), *eng.gotFilters.Experience)

	body := decodeBody(t, rec)
	snap := body["snapshot"].(map[string]interface{})
	assert.Equal(t, "snap_2", snap["id"])
}

func TestUnits(t *testing.T) {
	eng := &fakeEngine{}
	h := newTestServer(eng)

	rec := do(t, h, http.MethodPost, "/api/units", `{"system": "imperial"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "imperial", eng.gotSystem)

	rec = do(t, h, http.MethodPost, "/api/units", `{"system": "cubits"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSnapshotBeforeFirstUpdate(t *testing.T) {
	rec := do(t, newTestServer(&fakeEngine{}), http.MethodGet, "/api/snapshot", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Nil(t, body["snapshot"])
	assert.Equal(t, false, body["updating"])
}

func TestLayers(t *testing.T) {
	rec := do(t, newTestServer(&fakeEngine{}), http.MethodGet, "/api/layers", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, float64(len(models.DefaultLayers())), body["count"])
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHealth(t *testing.T) {
	eng := &fakeEngine{snapshot: &stats.Snapshot{Generation: 4}}
	rec := do(t, newTestServer(eng), http.MethodGet, "/api/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(3), body["clients"])
	assert.Equal(t, float64(4), body["generation"])
}

func TestMetricsEndpoint(t *testing.T) {
	rec := do(t, newTestServer(&fakeEngine{}), http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestMethodNotAllowed(t *testing.T) {
	rec := do(t, newTestServer(&fakeEngine{}), http.MethodGet, "/api/update", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
