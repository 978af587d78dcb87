package worker

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/yinz628/email-filter-sub001/internal/domain"
	"github.com/yinz628/email-filter-sub001/internal/rules"
	"github.com/yinz628/email-filter-sub001/internal/stats"
)

func sha256hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

// One rule increment, two global increments, one last-hit touch, one subject
// upsert, no matter how many decisions the batch folds together.
func TestStatsHandlerBatchAggregation(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Minute)
	t2 := t0.Add(2 * time.Minute)

	mock.MatchExpectationsInOrder(false)
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO filter_rule_stats").
		WithArgs("r1", int64(2), int64(1), int64(0)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO global_counters").
		WithArgs(CounterForwarded, int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO global_counters").
		WithArgs(CounterDeleted, int64(1)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec("UPDATE filter_rules").
		WithArgs("r1", t2).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO subject_stats").
		WithArgs(sqlmock.AnyArg(), "Flash Sale", sha256hex("Flash Sale"), "shop.com", "w1", int64(3), t2).
		WillReturnResult(sqlmock.NewResult(0, 1))

	h := NewStatsHandler(db, rules.NewStore(db), stats.NewStore(db))
	batch := []Envelope{
		{Type: TaskStats, Data: StatsTask{
			RuleID: "r1", Processed: 1, Deleted: 1, GlobalDeleted: 1, HitAt: t1,
			From: "a@mail.shop.com", Subject: "Flash Sale", WorkerName: "w1",
		}},
		{Type: TaskStats, Data: StatsTask{
			RuleID: "r1", Processed: 1, GlobalForwarded: 1, HitAt: t2,
			From: "b@shop.com", Subject: "Flash Sale", WorkerName: "w1",
		}},
		{Type: TaskStats, Data: StatsTask{
			Processed: 1, GlobalForwarded: 1, HitAt: t0,
			From: "c@shop.com", Subject: "Flash Sale", WorkerName: "w1",
		}},
	}
	if err := h.HandleBatch(context.Background(), batch); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestLogHandlerDefaultsWorker(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	mock.ExpectBegin()
	prep := mock.ExpectPrepare("INSERT INTO filter_logs")
	prep.ExpectExec().
		WithArgs(sqlmock.AnyArg(), string(domain.LogEmailForward), "w1", "forward", "no rule matched").
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().
		WithArgs(sqlmock.AnyArg(), string(domain.LogEmailDrop), "global", "drop", "matched blacklist").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	h := NewLogHandler(db)
	batch := []Envelope{
		{Type: TaskLog, Data: LogTask{
			Category: domain.LogEmailForward, WorkerName: "w1",
			Message: "forward", Detail: "no rule matched",
		}},
		{Type: TaskLog, Data: LogTask{
			Category: domain.LogEmailDrop,
			Message:  "drop", Detail: "matched blacklist",
		}},
	}
	if err := h.HandleBatch(context.Background(), batch); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestWatchHandlerRematchAndBulkIncrement(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	cache := rules.NewCache()
	cache.ReplaceAll([]domain.FilterRule{
		{ID: "watch-1", Category: domain.CategoryWatch, MatchType: domain.MatchSubject,
			MatchMode: domain.ModeContains, Pattern: "sale", Enabled: true},
		{ID: "watch-off", Category: domain.CategoryWatch, MatchType: domain.MatchSubject,
			MatchMode: domain.ModeContains, Pattern: "sale", Enabled: false},
		{ID: "watch-w2", Category: domain.CategoryWatch, MatchType: domain.MatchSubject,
			MatchMode: domain.ModeContains, Pattern: "sale", Enabled: true, WorkerID: "w2"},
	})

	t1 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	// Only the enabled, in-scope rule counts: two hits, newest receipt wins.
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO filter_rule_stats").
		WithArgs("watch-1", int64(2), int64(0), int64(0)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()
	mock.ExpectExec("UPDATE filter_rules").
		WithArgs("watch-1", t2).
		WillReturnResult(sqlmock.NewResult(0, 1))

	h := NewWatchHandler(db, rules.NewStore(db), cache)
	batch := []Envelope{
		{Type: TaskWatch, Data: WatchTask{From: "a@x.com", Subject: "Summer SALE", WorkerName: "w1", ReceivedAt: t2}},
		{Type: TaskWatch, Data: WatchTask{From: "b@x.com", Subject: "Mid-sale reminder", WorkerName: "w1", ReceivedAt: t1}},
		{Type: TaskWatch, Data: WatchTask{From: "c@x.com", Subject: "Your receipt", WorkerName: "w1", ReceivedAt: t2}},
	}
	if err := h.HandleBatch(context.Background(), batch); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestWatchHandlerNoWatchRulesNoTraffic(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	h := NewWatchHandler(db, rules.NewStore(db), rules.NewCache())
	batch := []Envelope{
		{Type: TaskWatch, Data: WatchTask{From: "a@x.com", Subject: "Summer SALE", ReceivedAt: time.Now()}},
	}
	if err := h.HandleBatch(context.Background(), batch); err != nil {
		t.Fatal(err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Error(err)
	}
}

func TestRequeueOnce(t *testing.T) {
	q := NewQueue(4, OverflowDrop)
	ctx := context.Background()
	cause := errors.New("transient")

	requeueOnce(ctx, q, Envelope{ID: "e-1", Type: TaskCampaign}, cause)
	if q.Len() != 1 {
		t.Fatalf("queue depth = %d, want 1", q.Len())
	}
	e := <-q.ch
	if e.ID != "e-1" || e.Attempt != 1 {
		t.Fatalf("requeued envelope = %+v", e)
	}

	// A second failure abandons the envelope.
	requeueOnce(ctx, q, e, cause)
	if q.Len() != 0 {
		t.Errorf("retried envelope requeued again, depth = %d", q.Len())
	}
}

func TestRequeueOnceNilQueue(t *testing.T) {
	requeueOnce(context.Background(), nil, Envelope{ID: "e-1"}, errors.New("x"))
}
