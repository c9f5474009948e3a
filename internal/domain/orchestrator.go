package domain

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// Attachment is a raw user-supplied image file, not yet normalized for any
// platform.
type Attachment struct {
	Filename string
	MimeType string
	Data     []byte
}

// PublishJob tracks one platform's upload-then-publish pipeline for a
// submitted post. Status only moves forward; a job is never reused.
type PublishJob struct {
	ID          string
	Platform    Platform
	SessionID   string
	Content     string
	Attachments []Attachment
	Options     PublishOptions

	// CreatedRefs are the attachment references uploaded so far. On upload
	// failure the already-created remote blobs are orphaned, not rolled back.
	CreatedRefs []AttachmentRef
}

// Orchestrator fans a single authored post out into independent per-platform
// jobs and reports their progress into the publish queue. It reads the
// session to resolve credentials and never writes to it.
type Orchestrator struct {
	adapters map[Platform]Adapter
	sessions SessionRepository
	preparer AttachmentPreparer
	queue    *PublishQueue
	logger   *slog.Logger

	wg sync.WaitGroup
}

// NewOrchestrator creates an Orchestrator over the given adapters.
func NewOrchestrator(
	adapters []Adapter,
	sessions SessionRepository,
	preparer AttachmentPreparer,
	queue *PublishQueue,
	logger *slog.Logger,
) *Orchestrator {
	byPlatform := make(map[Platform]Adapter, len(adapters))
	for _, a := range adapters {
		byPlatform[a.Platform()] = a
	}
	return &Orchestrator{
		adapters: byPlatform,
		sessions: sessions,
		preparer: preparer,
		queue:    queue,
		logger:   logger,
	}
}

// Queue returns the publish queue the orchestrator reports into.
func (o *Orchestrator) Queue() *PublishQueue {
	return o.queue
}

// SubmitPost creates one job per selected platform and runs them
// concurrently. It returns the new job ids immediately; progress is observed
// through the queue. Jobs are independent: one platform's failure never
// blocks another's. Jobs outlive the caller's context.
func (o *Orchestrator) SubmitPost(
	ctx context.Context,
	sessionID string,
	content string,
	attachments []Attachment,
	platforms []Platform,
	opts PublishOptions,
) []string {
	jobCtx := context.WithoutCancel(ctx)

	ids := make([]string, 0, len(platforms))
	for _, platform := range platforms {
		job := &PublishJob{
			ID:          uuid.NewString(),
			Platform:    platform,
			SessionID:   sessionID,
			Content:     content,
			Attachments: attachments,
			Options:     opts,
		}
		ids = append(ids, job.ID)

		o.queue.Append(QueueItem{
			ID:        job.ID,
			SessionID: sessionID,
			Platform:  platform,
			Status:    StatusPending,
			Message:   "publishing...",
			Content:   content,
		})

		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			o.runJob(jobCtx, job)
		}()
	}
	return ids
}

// Wait blocks until all submitted jobs have reached a terminal state.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) runJob(ctx context.Context, job *PublishJob) {
	adapter, ok := o.adapters[job.Platform]
	if !ok {
		o.failJob(job, NewConfigurationError(job.Platform, "no adapter configured for %s", job.Platform))
		return
	}

	account, err := o.sessions.GetAccount(ctx, job.SessionID, job.Platform)
	if err != nil {
		o.failJob(job, fmt.Errorf("load account: %w", err))
		return
	}
	if account == nil {
		o.failJob(job, NewConfigurationError(job.Platform, "no linked %s account", job.Platform))
		return
	}

	// Excess attachments are dropped silently, keeping the original order.
	attachments := job.Attachments
	if max := adapter.MaxAttachments(); len(attachments) > max {
		attachments = attachments[:max]
	}

	if len(attachments) > 0 {
		o.setProgress(job, fmt.Sprintf("uploading %d attachment(s)...", len(attachments)))

		refs := make([]AttachmentRef, len(attachments))
		g, gctx := errgroup.WithContext(ctx)
		for i, att := range attachments {
			g.Go(func() error {
				prepared, err := o.preparer.Prepare(gctx, att.Data, adapter.MaxAttachmentBytes())
				if err != nil {
					return fmt.Errorf("prepare attachment %s: %w", att.Filename, err)
				}
				ref, err := adapter.UploadAttachment(gctx, account, prepared.Data, prepared.MimeType)
				if err != nil {
					return err
				}
				ref.Width = prepared.Width
				ref.Height = prepared.Height
				refs[i] = *ref
				return nil
			})
		}
		// All uploads must succeed before publish; the first failure aborts
		// the job and orphans any blobs already uploaded.
		if err := g.Wait(); err != nil {
			o.failJob(job, err)
			return
		}
		job.CreatedRefs = refs
	}

	o.setProgress(job, "publishing...")

	result, err := adapter.Publish(ctx, account, job.Content, job.CreatedRefs, job.Options)
	if err != nil {
		o.failJob(job, err)
		return
	}

	o.logger.Info("publish succeeded",
		"job", job.ID,
		"platform", job.Platform,
		"remote_id", result.RemoteID,
	)

	status := StatusSuccess
	message := "published"
	o.queue.Update(job.ID, QueuePatch{
		Status:  &status,
		Message: &message,
		Link:    &result.Permalink,
	})
}

func (o *Orchestrator) setProgress(job *PublishJob, message string) {
	o.queue.Update(job.ID, QueuePatch{Message: &message})
}

func (o *Orchestrator) failJob(job *PublishJob, err error) {
	o.logger.Error("publish job failed",
		"job", job.ID,
		"platform", job.Platform,
		"kind", KindOf(err),
		"error", err,
	)

	status := StatusError
	message := err.Error()
	o.queue.Update(job.ID, QueuePatch{
		Status:  &status,
		Message: &message,
	})
}
