package deploy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/hashicorp/terraform-plugin-log/tflog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/sitepublish/terraform-provider-sitepublish/internal/bundle"
	"github.com/sitepublish/terraform-provider-sitepublish/internal/hosting"
	"github.com/sitepublish/terraform-provider-sitepublish/internal/retry"
)

// DefaultConcurrency is the number of parallel uploads when none is given.
const DefaultConcurrency = 10

// UploadTask tracks one required file through its attempts.
type UploadTask struct {
	Path    string
	Content []byte
	Attempt int
	LastErr error
}

// Scheduler uploads the files a host asked for.
type Scheduler struct {
	client hosting.Client

	// Policy governs per-file retries. Defaults to retry.Upload().
	Policy retry.Policy
	// Retryable decides which upload errors are worth another attempt.
	// Defaults to hosting.IsTransient.
	Retryable func(error) bool
}

// NewScheduler returns a Scheduler using the default upload policy.
func NewScheduler(client hosting.Client) *Scheduler {
	return &Scheduler{
		client:    client,
		Policy:    retry.Upload(),
		Retryable: hosting.IsTransient,
	}
}

// Upload sends every path in requiredPaths, at most concurrency at a time.
// It always attempts every file and reports failures instead of stopping at
// the first one.
//
// Once ctx is done no new upload starts. Uploads already on the wire finish
// their current attempt but are not retried; files never started are
// reported failed with the context error.
func (s *Scheduler) Upload(ctx context.Context, deployID string, files *bundle.FileSet, requiredPaths []string, concurrency int) (uploaded int, failed []FailedUpload) {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}

	var (
		mu  sync.Mutex
		g   errgroup.Group
		sem = semaphore.NewWeighted(int64(concurrency))
	)
	record := func(t *UploadTask) {
		mu.Lock()
		defer mu.Unlock()
		if t.LastErr == nil {
			uploaded++
			return
		}
		failed = append(failed, FailedUpload{Path: t.Path, Attempts: t.Attempt, Err: t.LastErr})
	}

	for i, p := range requiredPaths {
		content, ok := files.Get(p)
		if !ok {
			record(&UploadTask{Path: p, LastErr: fmt.Errorf("%w: %s", ErrMissingContent, p)})
			continue
		}

		if err := sem.Acquire(ctx, 1); err != nil {
			for _, rest := range requiredPaths[i:] {
				record(&UploadTask{Path: rest, LastErr: err})
			}
			break
		}

		task := &UploadTask{Path: p, Content: content}
		g.Go(func() error {
			defer sem.Release(1)
			s.run(ctx, deployID, task)
			record(task)
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(failed, func(i, j int) bool { return failed[i].Path < failed[j].Path })

	tflog.Debug(ctx, "upload finished", map[string]interface{}{
		"deploy_id": deployID,
		"required":  len(requiredPaths),
		"uploaded":  uploaded,
		"failed":    len(failed),
	})
	return uploaded, failed
}

// run drives one task to success or its final error. The host call itself
// never sees ctx cancellation; only the waits between attempts do.
func (s *Scheduler) run(ctx context.Context, deployID string, task *UploadTask) {
	callCtx := context.WithoutCancel(ctx)
	retryable := s.Retryable
	if retryable == nil {
		retryable = hosting.IsTransient
	}

	err := s.Policy.Do(ctx, retryable, func(attempt int) error {
		task.Attempt = attempt
		err := s.client.UploadFile(callCtx, deployID, task.Path, task.Content)
		if err != nil {
			tflog.Debug(ctx, "upload attempt failed", map[string]interface{}{
				"deploy_id": deployID,
				"path":      task.Path,
				"attempt":   attempt,
				"error":     err.Error(),
			})
		}
		return err
	})
	task.LastErr = err
}
