package cleanup

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/yinz628/email-filter-sub001/internal/domain"
	"github.com/yinz628/email-filter-sub001/internal/rules"
)

type staticConfig struct{ cfg domain.DynamicConfig }

func (s staticConfig) Load(context.Context) (domain.DynamicConfig, error) {
	return s.cfg, nil
}

func TestCleanupExpiredDynamicRulesDisabled(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	cfg := domain.DefaultDynamicConfig()
	cfg.Enabled = false
	s := New(db, nil, staticConfig{cfg}, 30)

	n, err := s.CleanupExpiredDynamicRules(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("removed = %d, want 0", n)
	}
	// Disabled layer means no database traffic at all.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCleanupExpiredDynamicRules(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cfg := domain.DefaultDynamicConfig() // 48h retention

	cache := rules.NewCache()
	cache.ReplaceAll([]domain.FilterRule{
		{ID: "old", Category: domain.CategoryDynamic, Pattern: "a", CreatedAt: now.Add(-72 * time.Hour)},
		{ID: "fresh", Category: domain.CategoryDynamic, Pattern: "b", CreatedAt: now.Add(-time.Hour)},
	})

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, created_at, last_hit_at FROM filter_rules").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "last_hit_at"}).
			AddRow("old", now.Add(-72*time.Hour), nil).
			AddRow("fresh", now.Add(-time.Hour), nil))
	mock.ExpectExec("DELETE FROM filter_rules").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	s := New(db, cache, staticConfig{cfg}, 30)
	s.now = func() time.Time { return now }

	n, err := s.CleanupExpiredDynamicRules(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("removed = %d, want 1", n)
	}
	if _, ok := cache.FindDynamicByPattern("a"); ok {
		t.Error("expired rule still in cache")
	}
	if _, ok := cache.FindDynamicByPattern("b"); !ok {
		t.Error("fresh rule evicted")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

// A recently hit rule survives even when its creation is past the cutoff.
func TestCleanupExpiredDynamicRulesRecentHit(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, created_at, last_hit_at FROM filter_rules").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at", "last_hit_at"}).
			AddRow("hit", now.Add(-100*time.Hour), now.Add(-time.Hour)))
	mock.ExpectCommit()

	s := New(db, nil, staticConfig{domain.DefaultDynamicConfig()}, 30)
	s.now = func() time.Time { return now }

	n, err := s.CleanupExpiredDynamicRules(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("removed = %d, want 0", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCleanupIgnoredMerchantDataGlobal(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM merchants WHERE").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	s := New(db, nil, staticConfig{domain.DefaultDynamicConfig()}, 30)
	n, err := s.CleanupIgnoredMerchantData(context.Background(), domain.WorkerGlobal)
	if err != nil {
		t.Fatal(err)
	}
	if n != 3 {
		t.Errorf("deleted = %d, want 3", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestCleanupIgnoredMerchantDataWorker(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM campaign_emails e").
		WithArgs("w1").
		WillReturnResult(sqlmock.NewResult(0, 7))
	mock.ExpectExec("DELETE FROM merchant_worker_status ws").
		WithArgs("w1").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	s := New(db, nil, staticConfig{domain.DefaultDynamicConfig()}, 30)
	n, err := s.CleanupIgnoredMerchantData(context.Background(), "w1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 7 {
		t.Errorf("deleted = %d, want 7", n)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestDeleteMerchantDataNoCampaigns(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM campaigns WHERE merchant_id").
		WithArgs("m1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	mock.ExpectCommit()

	s := New(db, nil, staticConfig{domain.DefaultDynamicConfig()}, 30)
	res, err := s.DeleteMerchantData(context.Background(), "m1", "w1")
	if err != nil {
		t.Fatal(err)
	}
	if res.EmailsDeleted != 0 || res.PathsDeleted != 0 || res.MerchantDeleted {
		t.Errorf("result = %+v, want zero value", res)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestDeleteMerchantDataLastWorker(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id FROM campaigns WHERE merchant_id").
		WithArgs("m1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("c1").AddRow("c2"))
	mock.ExpectExec("DELETE FROM campaign_emails").
		WillReturnResult(sqlmock.NewResult(0, 10))
	mock.ExpectExec("DELETE FROM recipient_paths p").
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec("UPDATE campaigns c SET").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery(`SELECT COALESCE\(SUM\(total_emails\), 0\) FROM campaigns`).
		WithArgs("m1").
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(int64(0)))
	mock.ExpectExec("DELETE FROM merchants WHERE id").
		WithArgs("m1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	s := New(db, nil, staticConfig{domain.DefaultDynamicConfig()}, 30)
	res, err := s.DeleteMerchantData(context.Background(), "m1", "w1")
	if err != nil {
		t.Fatal(err)
	}
	if res.EmailsDeleted != 10 || res.PathsDeleted != 4 || !res.MerchantDeleted {
		t.Errorf("result = %+v", res)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}
