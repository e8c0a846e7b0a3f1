package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/classworks/edumarket-api/internal/models"
	"github.com/classworks/edumarket-api/pkg/jobs"
)

const taskKindPurchasedStudent = "purchased_student_sync"

type purchasedStudentWriter interface {
	SyncPurchasedStudent(ctx context.Context, entry models.PurchasedStudentEntry) error
}

// PurchasedStudentSyncer keeps the denormalized purchased-students read model
// in step with the ledger. Sync runs in the background; the ledger stays
// authoritative and a lost resync only delays the reporting view.
type PurchasedStudentSyncer struct {
	queue *jobs.Queue
}

// NewPurchasedStudentSyncer builds the syncer and its worker queue.
func NewPurchasedStudentSyncer(repo purchasedStudentWriter, cfg jobs.QueueConfig, logger *zap.Logger) *PurchasedStudentSyncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.Logger = logger

	handler := func(ctx context.Context, task jobs.Task) error {
		entry, ok := task.Payload.(models.PurchasedStudentEntry)
		if !ok {
			return fmt.Errorf("unexpected payload type %T", task.Payload)
		}
		return repo.SyncPurchasedStudent(ctx, entry)
	}
	return &PurchasedStudentSyncer{
		queue: jobs.NewQueue("purchased-students", handler, cfg),
	}
}

// Start launches the background workers.
func (s *PurchasedStudentSyncer) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop drains the workers.
func (s *PurchasedStudentSyncer) Stop() {
	s.queue.Stop()
}

// EnqueueSync schedules one read-model upsert.
func (s *PurchasedStudentSyncer) EnqueueSync(entry models.PurchasedStudentEntry) error {
	return s.queue.Enqueue(jobs.Task{
		ID:      uuid.NewString(),
		Kind:    taskKindPurchasedStudent,
		Payload: entry,
	})
}
