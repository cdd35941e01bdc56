package worker

import (
	"FetchVault/config"
	"FetchVault/internal/downloader"
	"FetchVault/internal/events"
	"FetchVault/internal/mq"
	"FetchVault/internal/notify"
	"FetchVault/internal/provider"
	"FetchVault/internal/repo"
	"FetchVault/internal/resolver"
	"FetchVault/internal/service"
	"FetchVault/model"
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"gorm.io/gorm"
)

type dlqMessage struct {
	TaskID   string    `json:"task_id"`
	Attempt  int       `json:"attempt"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// RunResolveWorker consumes resolve jobs from RabbitMQ and drives the
// resolver. Faults in one task never take the loop down.
func RunResolveWorker(ctx context.Context, r *resolver.Resolver) error {
	client, err := mq.Dial()
	if err != nil {
		return err
	}
	defer client.Close()

	if err := client.DeclareTopology(); err != nil {
		return err
	}

	prefetch := config.AppConfig.RabbitMQPrefetch
	if prefetch <= 0 {
		prefetch = 1
	}
	if err := client.Channel.Qos(prefetch, 0, false); err != nil {
		return err
	}

	deliveries, err := client.Channel.Consume(
		mq.QueueResolve,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		return err
	}

	concurrency := config.AppConfig.ResolveWorkerConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)

	for {
		select {
		case <-ctx.Done():
			return nil
		case delivery, ok := <-deliveries:
			if !ok {
				return errors.New("resolve worker: delivery channel closed")
			}
			sem <- struct{}{}
			go func(d amqp.Delivery) {
				defer func() { <-sem }()
				handleResolveMessage(ctx, client, r, d)
			}(delivery)
		}
	}
}

func handleResolveMessage(ctx context.Context, client *mq.Client, r *resolver.Resolver, delivery amqp.Delivery) {
	var msg service.ResolveMessage
	if err := json.Unmarshal(delivery.Body, &msg); err != nil {
		log.Printf("resolve worker: invalid message: %v", err)
		_ = delivery.Ack(false)
		return
	}

	if err := r.Process(ctx, msg.TaskID); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			_ = delivery.Nack(false, true)
			return
		}
		if shouldRetry(err) {
			if err := scheduleRetry(ctx, client, msg, err); err != nil {
				log.Printf("resolve worker: retry schedule failed: %v", err)
				_ = delivery.Nack(false, true)
				return
			}
		} else {
			if err := markFailed(ctx, client, msg, err); err != nil {
				log.Printf("resolve worker: mark failed failed: %v", err)
				_ = delivery.Nack(false, true)
				return
			}
		}
	}

	_ = delivery.Ack(false)
}

// shouldRetry separates transient faults (retried through the delayed
// queue) from permanent rejections.
func shouldRetry(err error) bool {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false
	}
	if errors.Is(err, resolver.ErrResolutionTimeout) {
		return false
	}
	var pe *provider.Error
	if errors.As(err, &pe) {
		return pe.Transient
	}
	return true
}

func scheduleRetry(ctx context.Context, client *mq.Client, msg service.ResolveMessage, procErr error) error {
	maxRetry := config.AppConfig.ResolveRetryMax
	if maxRetry < 0 {
		maxRetry = 0
	}
	nextAttempt := msg.Attempt + 1
	if maxRetry == 0 || nextAttempt > maxRetry {
		return markFailed(ctx, client, msg, procErr)
	}

	delay := pickRetryDelay(nextAttempt, config.AppConfig.ResolveRetryDelays)
	if err := repo.Db.Model(&model.Task{}).
		Where("id = ? AND status NOT IN ?", msg.TaskID, model.TerminalStatuses).
		Updates(map[string]interface{}{
			"status":    model.TaskQueued,
			"error_msg": procErr.Error(),
		}).Error; err != nil {
		return err
	}

	msg.Attempt = nextAttempt
	body, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return client.PublishRetry(ctx, body, delay)
}

func markFailed(ctx context.Context, client *mq.Client, msg service.ResolveMessage, procErr error) error {
	reason := procErr.Error()
	var pe *provider.Error
	if errors.As(procErr, &pe) {
		// Keep the provider's own words on the record.
		reason = pe.Message
	}
	if errors.Is(procErr, resolver.ErrResolutionTimeout) {
		reason = resolver.ErrResolutionTimeout.Error()
	}
	res := repo.Db.Model(&model.Task{}).
		Where("id = ? AND status NOT IN ?", msg.TaskID, model.TerminalStatuses).
		Updates(map[string]interface{}{
			"status":    model.TaskFailed,
			"error_msg": reason,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		events.PublishState(ctx, msg.TaskID, model.TaskFailed, reason)
		var task model.Task
		if err := repo.Db.Where("id = ?", msg.TaskID).First(&task).Error; err == nil {
			notify.TaskTerminal(task.ID, model.TaskFailed, task.Label)
		}
	}

	dlq := dlqMessage{
		TaskID:   msg.TaskID,
		Attempt:  msg.Attempt,
		Error:    reason,
		FailedAt: time.Now(),
	}
	body, err := json.Marshal(dlq)
	if err != nil {
		return err
	}
	if err := client.PublishDLQ(ctx, body); err != nil {
		log.Printf("resolve worker: dlq publish failed: %v", err)
	}
	return nil
}

func pickRetryDelay(attempt int, delays []time.Duration) time.Duration {
	if len(delays) == 0 {
		return 0
	}
	index := attempt - 1
	if index < 0 {
		index = 0
	}
	if index >= len(delays) {
		return delays[len(delays)-1]
	}
	return delays[index]
}

// RunScheduler runs the download driver's scheduling and progress loops
// until the context ends.
func RunScheduler(ctx context.Context, d *downloader.Driver) {
	schedule := time.NewTicker(config.AppConfig.SchedulerInterval)
	defer schedule.Stop()
	progress := time.NewTicker(config.AppConfig.ProgressPollInterval)
	defer progress.Stop()
	reclaim := time.NewTicker(config.AppConfig.StaleClaimTimeout / 2)
	defer reclaim.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-schedule.C:
			if err := d.SchedulePass(ctx); err != nil {
				log.Printf("scheduler: schedule pass failed: %v", err)
			}
		case <-progress.C:
			if err := d.ProgressPass(ctx); err != nil {
				log.Printf("scheduler: progress pass failed: %v", err)
			}
		case <-reclaim.C:
			ReclaimStale(ctx)
		}
	}
}

// ReclaimStale puts abandoned resolving claims back in the queue so a
// crashed worker never leaves a task stuck. Also run once at startup to
// resume queued work from persisted state.
func ReclaimStale(ctx context.Context) {
	cutoff := time.Now().Add(-config.AppConfig.StaleClaimTimeout)
	var stale []model.Task
	if err := repo.Db.
		Where("status = ? AND updated_at < ?", model.TaskResolving, cutoff).
		Find(&stale).Error; err != nil {
		log.Printf("reclaim: scan failed: %v", err)
		return
	}
	for _, task := range stale {
		res := repo.Db.Model(&model.Task{}).
			Where("id = ? AND status = ?", task.ID, model.TaskResolving).
			Update("status", model.TaskQueued)
		if res.Error != nil || res.RowsAffected == 0 {
			continue
		}
		log.Printf("reclaim: task %s returned to queue", task.ID)
		if err := service.EnqueueResolve(ctx, task.ID, 0); err != nil {
			log.Printf("reclaim: enqueue failed for task %s: %v", task.ID, err)
		}
	}
}

// ResumeQueued re-enqueues every queued task. Called on worker startup;
// duplicate deliveries are harmless because the resolver claim is atomic.
func ResumeQueued(ctx context.Context) {
	var queued []model.Task
	if err := repo.Db.Where("status = ?", model.TaskQueued).Find(&queued).Error; err != nil {
		log.Printf("resume: scan failed: %v", err)
		return
	}
	for _, task := range queued {
		if err := service.EnqueueResolve(ctx, task.ID, 0); err != nil {
			log.Printf("resume: enqueue failed for task %s: %v", task.ID, err)
		}
	}
}
