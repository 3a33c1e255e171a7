package dump

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/indexlake/indexlake/internal/recovery"
)

// FailureSink receives the error of a dump pass that could not complete.
// The background task never crashes the process; the next insert
// that crosses the inline threshold re-enqueues the table.
type FailureSink func(tableID int64, err error)

// Scheduler serializes dump passes per table: Enqueue is idempotent while a
// pass for the same table is in flight, realized with a singleflight group
// keyed by table id. Passes for different tables run in parallel.
type Scheduler struct {
	logger   *slog.Logger
	failures FailureSink

	group singleflight.Group
	wg    sync.WaitGroup
}

// NewScheduler creates a Scheduler. logger may be nil (slog.Default is
// used); failures may be nil (failures are only logged).
func NewScheduler(logger *slog.Logger, failures FailureSink) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{logger: logger, failures: failures}
}

// Enqueue schedules run for tableID unless a pass for that table is
// already in flight, in which case the call starts no new pass: it joins
// the in-flight one and shares its outcome, so a failure of that pass is
// logged and sent to the FailureSink once for every joined call. run receives a
// context detached from the enqueuing operation's cancellation: the insert
// that triggered the dump has already committed and returned by the time
// the pass executes.
func (s *Scheduler) Enqueue(tableID int64, run func(ctx context.Context) error) {
	key := strconv.FormatInt(tableID, 10)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		_, err, _ := s.group.Do(key, func() (any, error) {
			return nil, recovery.ToError(s.logger, "dump:"+key, func() error {
				return run(context.Background())
			})
		})
		if err != nil {
			s.logger.Error("dump failed", "table_id", tableID, "error", err)
			if s.failures != nil {
				s.failures(tableID, err)
			}
		}
	}()
}

// Wait blocks until every enqueued pass has finished, for orderly
// shutdown and deterministic tests.
func (s *Scheduler) Wait() { s.wg.Wait() }
