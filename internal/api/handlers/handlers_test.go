package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/orgstack/hrms/internal/alert"
	"github.com/orgstack/hrms/internal/audit"
	"github.com/orgstack/hrms/internal/models"
	"github.com/orgstack/hrms/internal/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testAPI struct {
	db     *gorm.DB
	engine *audit.Engine
	queue  *audit.QueueWorker
	router *gin.Engine
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&models.AuditRecord{},
		&models.DeadLetter{},
		&models.EmployeeProfile{},
		&models.AlertEvent{},
	))

	engine, err := audit.NewEngine(db, "test-secret")
	require.NoError(t, err)
	queue := audit.NewQueueWorker(db, alert.New(db, nil))

	r := gin.New()
	r.GET("/health", HealthHandler)
	group := r.Group("/api/v1/audit")
	NewIntegrityHandler(engine).RegisterRoutes(group)
	NewAuditHandler(services.NewAuditQueryService(db)).RegisterRoutes(group)
	NewDeadLetterHandler(queue).RegisterRoutes(group)

	return &testAPI{db: db, engine: engine, queue: queue, router: r}
}

func (a *testAPI) request(t *testing.T, method, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)

	var body map[string]any
	if strings.Contains(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w, body
}

// seed persists n records linked into a valid chain and returns them.
func (a *testAPI) seed(t *testing.T, n int) []models.AuditRecord {
	t.Helper()

	var prev *string
	records := make([]models.AuditRecord, 0, n)
	for i := 0; i < n; i++ {
		rec := models.AuditRecord{
			ID:         models.NewRecordID(),
			ActorID:    fmt.Sprintf("u%d", i%2),
			EntityType: "EmployeeProfile",
			EntityID:   fmt.Sprintf("e%d", i),
			Action:     models.ActionUpdate,
			Module:     "employee",
			OldValues:  models.JSONMap{"title": "Engineer"},
			NewValues:  models.JSONMap{"title": fmt.Sprintf("Engineer %d", i)},
			CreatedAt:  time.Now().UTC().Add(time.Duration(i-100) * time.Second),
		}
		audit.Attach(&rec, a.engine.GenerateLink(&rec, prev))
		require.NoError(t, a.db.Create(&rec).Error)

		h := rec.Hash
		prev = &h
		records = append(records, rec)
	}
	return records
}

func TestHealthHandler(t *testing.T) {
	api := newTestAPI(t)

	w, body := api.request(t, http.MethodGet, "/health")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "HRMS", body["service"])
}

func TestVerifyRecordEndpoint(t *testing.T) {
	api := newTestAPI(t)
	records := api.seed(t, 3)

	w, body := api.request(t, http.MethodGet, "/api/v1/audit/integrity/records/"+records[1].ID)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["is_valid"])
	assert.Equal(t, audit.ReasonVerified, body["reason"])
}

func TestVerifyRecordEndpointNotFound(t *testing.T) {
	api := newTestAPI(t)

	w, _ := api.request(t, http.MethodGet, "/api/v1/audit/integrity/records/missing")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestVerifyChainEndpoint(t *testing.T) {
	api := newTestAPI(t)
	api.seed(t, 5)

	w, body := api.request(t, http.MethodGet, "/api/v1/audit/integrity/chain")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, body["is_valid"])
	assert.EqualValues(t, 5, body["total_checked"])
}

func TestVerifyChainEndpointRejectsBadDates(t *testing.T) {
	api := newTestAPI(t)

	w, _ := api.request(t, http.MethodGet, "/api/v1/audit/integrity/chain?start=yesterday")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	start := time.Now().UTC().Format(time.RFC3339)
	end := time.Now().UTC().Add(-time.Hour).Format(time.RFC3339)
	w, _ = api.request(t, http.MethodGet, "/api/v1/audit/integrity/chain?start="+start+"&end="+end)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRepairChainEndpoint(t *testing.T) {
	api := newTestAPI(t)
	records := api.seed(t, 4)

	// Break the chain, then repair it over HTTP.
	require.NoError(t, api.db.Model(&models.AuditRecord{}).
		Where("id = ?", records[2].ID).
		Update("hash", "tampered").Error)

	w, body := api.request(t, http.MethodPost, "/api/v1/audit/integrity/repair")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 4, body["repaired"])

	report, err := api.engine.VerifyChain(nil, nil)
	require.NoError(t, err)
	assert.True(t, report.IsValid)
}

func TestIntegrityReportRecommendations(t *testing.T) {
	api := newTestAPI(t)
	records := api.seed(t, 3)

	w, body := api.request(t, http.MethodGet, "/api/v1/audit/integrity/report")
	require.Equal(t, http.StatusOK, w.Code)
	recs, ok := body["recommendations"].([]any)
	require.True(t, ok)
	require.Len(t, recs, 1)
	assert.Contains(t, recs[0], "no action required")

	require.NoError(t, api.db.Model(&models.AuditRecord{}).
		Where("id = ?", records[1].ID).
		Update("signature", "forged").Error)

	w, body = api.request(t, http.MethodGet, "/api/v1/audit/integrity/report")
	require.Equal(t, http.StatusOK, w.Code)
	recs, ok = body["recommendations"].([]any)
	require.True(t, ok)
	joined := fmt.Sprint(recs...)
	assert.Contains(t, joined, "tampering")
}

func TestAuditListEndpoint(t *testing.T) {
	api := newTestAPI(t)
	api.seed(t, 6)

	w, body := api.request(t, http.MethodGet, "/api/v1/audit/records?actor_id=u0&limit=2")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 3, body["total"])
	assert.Len(t, body["records"], 2)
}

func TestAuditListEndpointRejectsBadLimit(t *testing.T) {
	api := newTestAPI(t)

	w, _ := api.request(t, http.MethodGet, "/api/v1/audit/records?limit=lots")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAuditStatisticsEndpoint(t *testing.T) {
	api := newTestAPI(t)
	api.seed(t, 4)

	w, body := api.request(t, http.MethodGet, "/api/v1/audit/statistics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 4, body["total"])

	byAction, ok := body["by_action"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 4, byAction["UPDATE"])
}

func TestAuditExportCSV(t *testing.T) {
	api := newTestAPI(t)
	api.seed(t, 2)

	w, _ := api.request(t, http.MethodGet, "/api/v1/audit/export")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")

	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "previous_hash")
}

func TestAuditExportJSON(t *testing.T) {
	api := newTestAPI(t)
	api.seed(t, 2)

	w, body := api.request(t, http.MethodGet, "/api/v1/audit/export?format=json")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["records"], 2)
}

func TestAuditExportRejectsUnknownFormat(t *testing.T) {
	api := newTestAPI(t)

	w, _ := api.request(t, http.MethodGet, "/api/v1/audit/export?format=xml")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDeadLetterEndpoints(t *testing.T) {
	api := newTestAPI(t)

	rec := models.AuditRecord{
		ID:         models.NewRecordID(),
		ActorID:    "u1",
		EntityType: "EmployeeProfile",
		EntityID:   "e1",
		Action:     models.ActionDelete,
		Module:     "employee",
		CreatedAt:  time.Now().UTC(),
	}
	payload, err := json.Marshal(rec)
	require.NoError(t, err)
	dl := models.DeadLetter{RecordID: rec.ID, Payload: string(payload), Attempts: 3, LastError: "table missing"}
	require.NoError(t, api.db.Create(&dl).Error)

	w, body := api.request(t, http.MethodGet, "/api/v1/audit/dead-letters")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["count"])

	w, _ = api.request(t, http.MethodPost, "/api/v1/audit/dead-letters/"+dl.ID+"/reprocess")
	require.Equal(t, http.StatusOK, w.Code)

	var count int64
	require.NoError(t, api.db.Model(&models.AuditRecord{}).Where("id = ?", rec.ID).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	// A second attempt on the same letter is refused.
	w, _ = api.request(t, http.MethodPost, "/api/v1/audit/dead-letters/"+dl.ID+"/reprocess")
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w, body = api.request(t, http.MethodGet, "/api/v1/audit/dead-letters")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, body["count"])
}
