package events

import (
	"FetchVault/config"
	"FetchVault/internal/repo"
	"FetchVault/model"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
)

// topicKey is the pub/sub channel carrying a task's events.
func topicKey(taskID string) string {
	return fmt.Sprintf("task:%s:events", taskID)
}

// terminalKey retains the last terminal STATE event for late subscribers.
func terminalKey(taskID string) string {
	return fmt.Sprintf("task:%s:terminal", taskID)
}

// cancelKey flags a cooperative cancellation request.
func cancelKey(taskID string) string {
	return fmt.Sprintf("task:%s:cancel", taskID)
}

// Publish appends an event to the task topic. Terminal STATE events are
// additionally retained with a TTL so observers connecting in the window
// around completion still see them.
func Publish(ctx context.Context, e Event) {
	if e.Ts.IsZero() {
		e.Ts = time.Now()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		log.Printf("events: marshal failed for task %s: %v", e.TaskID, err)
		return
	}
	if err := repo.Redis.Publish(ctx, topicKey(e.TaskID), payload).Err(); err != nil {
		log.Printf("events: publish failed for task %s: %v", e.TaskID, err)
	}
	if e.Type == TypeState && model.IsTerminalStatus(e.Status) {
		retention := config.AppConfig.TerminalRetention
		if err := repo.Redis.Set(ctx, terminalKey(e.TaskID), payload, retention).Err(); err != nil {
			log.Printf("events: retain terminal failed for task %s: %v", e.TaskID, err)
		}
	}
}

// PublishState publishes a STATE event.
func PublishState(ctx context.Context, taskID, status, message string) {
	Publish(ctx, Event{
		Type:    TypeState,
		TaskID:  taskID,
		Status:  status,
		Message: message,
	})
}

// PublishError publishes an ERROR event.
func PublishError(ctx context.Context, taskID, message string) {
	Publish(ctx, Event{
		Type:    TypeError,
		TaskID:  taskID,
		Message: message,
	})
}

// RetainedTerminal returns the retained terminal event, if any.
func RetainedTerminal(ctx context.Context, taskID string) (Event, bool) {
	raw, err := repo.Redis.Get(ctx, terminalKey(taskID)).Bytes()
	if err == redis.Nil {
		return Event{}, false
	}
	if err != nil {
		log.Printf("events: read retained terminal failed for task %s: %v", taskID, err)
		return Event{}, false
	}
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return Event{}, false
	}
	return e, true
}

// RequestCancel sets the cooperative cancel flag and tells observers.
// Every worker loop checks the flag at its iteration boundary.
func RequestCancel(ctx context.Context, taskID string) error {
	ttl := config.AppConfig.CancelFlagTTL
	if err := repo.Redis.Set(ctx, cancelKey(taskID), "1", ttl).Err(); err != nil {
		return err
	}
	PublishError(ctx, taskID, "cancel requested")
	return nil
}

// IsCanceled reports whether cancellation was requested for the task.
func IsCanceled(ctx context.Context, taskID string) bool {
	n, err := repo.Redis.Exists(ctx, cancelKey(taskID)).Result()
	if err != nil {
		log.Printf("events: cancel check failed for task %s: %v", taskID, err)
		return false
	}
	return n > 0
}

// ClearTopic retires a task topic after cleanup: observers get a final
// CLEARED event and retained state is dropped.
func ClearTopic(ctx context.Context, taskID string) {
	Publish(ctx, Event{Type: TypeCleared, TaskID: taskID})
	if err := repo.Redis.Del(ctx, terminalKey(taskID), cancelKey(taskID)).Err(); err != nil {
		log.Printf("events: clear topic failed for task %s: %v", taskID, err)
	}
}
