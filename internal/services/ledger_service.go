package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/justsurfingit/jobquest-hive/internal/models"
	"gorm.io/gorm"
)

// Ledger records every publish attempt with what the backend accepted.
type Ledger interface {
	Record(ctx context.Context, rec *models.SyncRecord) error
	History(ctx context.Context, jobID string, limit int) ([]models.SyncRecord, error)
}

type GormLedger struct {
	DB *gorm.DB
}

func NewGormLedger(db *gorm.DB) *GormLedger {
	return &GormLedger{DB: db}
}

func (l *GormLedger) Record(ctx context.Context, rec *models.SyncRecord) error {
	return l.DB.WithContext(ctx).Create(rec).Error
}

// History lists the records of a job, newest first.
func (l *GormLedger) History(ctx context.Context, jobID string, limit int) ([]models.SyncRecord, error) {
	var recs []models.SyncRecord
	q := l.DB.WithContext(ctx).Where("job_id = ?", jobID).Order("created_at DESC, id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// MemoryLedger keeps the most recent records in process memory. It backs the
// desk when no database is configured.
type MemoryLedger struct {
	mu      sync.Mutex
	max     int
	nextID  uint
	records []models.SyncRecord
	now     func() time.Time
}

func NewMemoryLedger(max int) *MemoryLedger {
	return &MemoryLedger{max: max, now: time.Now}
}

func (l *MemoryLedger) Record(_ context.Context, rec *models.SyncRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	rec.ID = l.nextID
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = l.now()
	}
	rec.UpdatedAt = rec.CreatedAt
	l.records = append(l.records, *rec)
	if l.max > 0 && len(l.records) > l.max {
		l.records = append([]models.SyncRecord(nil), l.records[len(l.records)-l.max:]...)
	}
	return nil
}

func (l *MemoryLedger) History(_ context.Context, jobID string, limit int) ([]models.SyncRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := []models.SyncRecord{}
	for _, r := range l.records {
		if r.JobID == jobID {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
