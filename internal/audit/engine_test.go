package audit

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/orgstack/hrms/internal/alert"
	"github.com/orgstack/hrms/internal/models"
)

func openTestDB(t *testing.T) *gorm.DB {
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
	return db
}

func newTestEngine(t *testing.T, db *gorm.DB) *Engine {
	t.Helper()
	engine, err := NewEngine(db, "test-secret")
	require.NoError(t, err)
	return engine
}

func newTestAlerts(db *gorm.DB) *alert.Service {
	return alert.New(db, nil)
}

func testRecord(i int) models.AuditRecord {
	return models.AuditRecord{
		ID:         models.NewRecordID(),
		ActorID:    "u1",
		EntityType: "School",
		EntityID:   fmt.Sprintf("s%d", i),
		Action:     models.ActionUpdate,
		Module:     "school",
		OldValues:  models.JSONMap{"name": "A"},
		NewValues:  models.JSONMap{"name": fmt.Sprintf("B%d", i)},
		CreatedAt:  time.Now().UTC().Add(time.Duration(i-100) * time.Second),
	}
}

// seedChain persists n records linked into a valid chain.
func seedChain(t *testing.T, db *gorm.DB, engine *Engine, n int) []models.AuditRecord {
	t.Helper()

	var prev *string
	records := make([]models.AuditRecord, 0, n)
	for i := 0; i < n; i++ {
		rec := testRecord(i)
		Attach(&rec, engine.GenerateLink(&rec, prev))
		require.NoError(t, db.Create(&rec).Error)

		h := rec.Hash
		prev = &h
		records = append(records, rec)
	}
	return records
}

func TestGenerateLinkDeterministic(t *testing.T) {
	engine := newTestEngine(t, openTestDB(t))

	rec := testRecord(1)
	prev := "abc123"

	first := engine.GenerateLink(&rec, &prev)
	second := engine.GenerateLink(&rec, &prev)

	assert.Equal(t, first.Hash, second.Hash)
	assert.Equal(t, first.Signature, second.Signature)
	require.NotNil(t, first.PreviousHash)
	assert.Equal(t, prev, *first.PreviousHash)
}

func TestGenerateLinkDependsOnPrevious(t *testing.T) {
	engine := newTestEngine(t, openTestDB(t))

	rec := testRecord(1)
	prevA := "aaa"
	prevB := "bbb"

	linkA := engine.GenerateLink(&rec, &prevA)
	linkB := engine.GenerateLink(&rec, &prevB)

	assert.NotEqual(t, linkA.Hash, linkB.Hash)
}

func TestGenerateLinkGenesis(t *testing.T) {
	engine := newTestEngine(t, openTestDB(t))

	rec := testRecord(1)
	link := engine.GenerateLink(&rec, nil)

	assert.Nil(t, link.PreviousHash)
	assert.NotEmpty(t, link.Hash)
	assert.NotEmpty(t, link.Signature)
}

func TestDifferentSecretsProduceDifferentSignatures(t *testing.T) {
	db := openTestDB(t)
	engineA := newTestEngine(t, db)
	engineB, err := NewEngine(db, "other-secret")
	require.NoError(t, err)

	rec := testRecord(1)
	linkA := engineA.GenerateLink(&rec, nil)
	linkB := engineB.GenerateLink(&rec, nil)

	assert.Equal(t, linkA.Hash, linkB.Hash, "hash does not depend on the secret")
	assert.NotEqual(t, linkA.Signature, linkB.Signature)
}

func TestVerifyOneValid(t *testing.T) {
	db := openTestDB(t)
	engine := newTestEngine(t, db)
	records := seedChain(t, db, engine, 3)

	for _, rec := range records {
		res, err := engine.VerifyOne(rec.ID)
		require.NoError(t, err)
		assert.True(t, res.IsValid)
		assert.Equal(t, ReasonVerified, res.Reason)
	}
}

func TestVerifyOneNoMetadata(t *testing.T) {
	db := openTestDB(t)
	engine := newTestEngine(t, db)

	rec := testRecord(1)
	require.NoError(t, db.Create(&rec).Error)

	res, err := engine.VerifyOne(rec.ID)
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	assert.Equal(t, ReasonNoMetadata, res.Reason)
}

func TestVerifyOneDetectsTamperedField(t *testing.T) {
	db := openTestDB(t)
	engine := newTestEngine(t, db)
	records := seedChain(t, db, engine, 2)

	require.NoError(t, db.Model(&models.AuditRecord{}).
		Where("id = ?", records[1].ID).
		Update("action", models.ActionApprove).Error)

	res, err := engine.VerifyOne(records[1].ID)
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	assert.Equal(t, ReasonHashMismatch, res.Reason)
}

func TestVerifyOneDetectsForgedSignature(t *testing.T) {
	db := openTestDB(t)
	engine := newTestEngine(t, db)
	records := seedChain(t, db, engine, 1)

	require.NoError(t, db.Model(&models.AuditRecord{}).
		Where("id = ?", records[0].ID).
		Update("signature", "deadbeef").Error)

	res, err := engine.VerifyOne(records[0].ID)
	require.NoError(t, err)
	assert.False(t, res.IsValid)
	assert.Equal(t, ReasonInvalidSignature, res.Reason)
}

func TestVerifyOneUnknownRecord(t *testing.T) {
	engine := newTestEngine(t, openTestDB(t))

	_, err := engine.VerifyOne("missing")
	assert.Error(t, err)
}

func TestVerifyChainHealthy(t *testing.T) {
	db := openTestDB(t)
	engine := newTestEngine(t, db)
	seedChain(t, db, engine, 10)

	report, err := engine.VerifyChain(nil, nil)
	require.NoError(t, err)
	assert.True(t, report.IsValid)
	assert.Equal(t, 10, report.TotalChecked)
	assert.Empty(t, report.InvalidEntries)
	assert.Empty(t, report.BrokenChainAt)
}

func TestVerifyChainReportsBrokenLink(t *testing.T) {
	db := openTestDB(t)
	engine := newTestEngine(t, db)
	records := seedChain(t, db, engine, 100)

	// Overwrite record 57's previous hash with an unrelated value.
	require.NoError(t, db.Model(&models.AuditRecord{}).
		Where("id = ?", records[56].ID).
		Update("previous_hash", "0000000000000000").Error)

	report, err := engine.VerifyChain(nil, nil)
	require.NoError(t, err)
	assert.False(t, report.IsValid)
	assert.Equal(t, records[56].ID, report.BrokenChainAt)
	assert.Equal(t, 100, report.TotalChecked)
}

func TestVerifyChainWindow(t *testing.T) {
	db := openTestDB(t)
	engine := newTestEngine(t, db)
	records := seedChain(t, db, engine, 10)

	// A window starting mid-chain seeds continuity from its first record.
	start := records[4].CreatedAt
	report, err := engine.VerifyChain(&start, nil)
	require.NoError(t, err)
	assert.True(t, report.IsValid)
	assert.Equal(t, 6, report.TotalChecked)
}

func TestRepairChainRestoresIntegrity(t *testing.T) {
	db := openTestDB(t)
	engine := newTestEngine(t, db)
	records := seedChain(t, db, engine, 5)

	require.NoError(t, db.Model(&models.AuditRecord{}).
		Where("id = ?", records[2].ID).
		Update("previous_hash", "bogus").Error)

	report, err := engine.RepairChain(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 5, report.Repaired)
	assert.Zero(t, report.Failed)

	chain, err := engine.VerifyChain(nil, nil)
	require.NoError(t, err)
	assert.True(t, chain.IsValid)
}

func TestRepairChainFillsMissingMetadata(t *testing.T) {
	db := openTestDB(t)
	engine := newTestEngine(t, db)

	rec := testRecord(1)
	require.NoError(t, db.Create(&rec).Error)

	report, err := engine.RepairChain(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Repaired)

	res, err := engine.VerifyOne(rec.ID)
	require.NoError(t, err)
	assert.True(t, res.IsValid)
}

func TestRepairChainNeverTouchesSemanticFields(t *testing.T) {
	db := openTestDB(t)
	engine := newTestEngine(t, db)
	records := seedChain(t, db, engine, 3)

	_, err := engine.RepairChain(nil, nil)
	require.NoError(t, err)

	var got models.AuditRecord
	require.NoError(t, db.First(&got, "id = ?", records[1].ID).Error)
	assert.Equal(t, records[1].ActorID, got.ActorID)
	assert.Equal(t, records[1].Action, got.Action)
	assert.Equal(t, records[1].NewValues["name"], got.NewValues["name"])
}

func TestLastChainHash(t *testing.T) {
	db := openTestDB(t)
	engine := newTestEngine(t, db)

	tail, err := engine.LastChainHash()
	require.NoError(t, err)
	assert.Nil(t, tail, "empty ledger has no tail")

	records := seedChain(t, db, engine, 3)

	tail, err = engine.LastChainHash()
	require.NoError(t, err)
	require.NotNil(t, tail)
	assert.Equal(t, records[2].Hash, *tail)
}
