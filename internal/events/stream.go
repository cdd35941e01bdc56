package events

import (
	"FetchVault/config"
	"FetchVault/internal/repo"
	"FetchVault/model"
	"context"
	"encoding/json"
	"log"
	"time"
)

// SnapshotFunc builds the current persisted picture of a task so late
// joiners never start from silence. Provided by the caller to keep this
// package free of store access.
type SnapshotFunc func(ctx context.Context) (Event, error)

// Subscription is one observer's view of a task topic.
type Subscription struct {
	Events <-chan Event
	stop   context.CancelFunc
}

// Close detaches the observer. Safe to call more than once.
func (s *Subscription) Close() {
	s.stop()
}

// Subscribe attaches an observer to a task topic. The observer first
// receives a SNAPSHOT event, then a retained terminal STATE event if one
// exists, then the live tail. HEARTBEAT events are injected on an interval
// regardless of producer activity. A terminal STATE event is delivered at
// most once per subscription.
func Subscribe(ctx context.Context, taskID string, snapshot SnapshotFunc) *Subscription {
	ctx, stop := context.WithCancel(ctx)
	out := make(chan Event, 16)
	sub := &Subscription{Events: out, stop: stop}

	go func() {
		defer close(out)

		pubsub := repo.Redis.Subscribe(ctx, topicKey(taskID))
		defer pubsub.Close()

		terminalSent := false
		send := func(e Event) bool {
			if e.Type == TypeState && model.IsTerminalStatus(e.Status) {
				if terminalSent {
					return true
				}
				terminalSent = true
			}
			select {
			case out <- e:
				return true
			case <-ctx.Done():
				return false
			}
		}

		snap, err := snapshot(ctx)
		if err != nil {
			log.Printf("stream: snapshot failed for task %s: %v", taskID, err)
			return
		}
		if !send(snap) {
			return
		}
		if retained, ok := RetainedTerminal(ctx, taskID); ok {
			if !send(retained) {
				return
			}
		}

		heartbeat := time.NewTicker(config.AppConfig.StreamHeartbeat)
		defer heartbeat.Stop()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				if !send(Event{Type: TypeHeartbeat, TaskID: taskID, Ts: time.Now()}) {
					return
				}
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var e Event
				if err := json.Unmarshal([]byte(msg.Payload), &e); err != nil {
					log.Printf("stream: bad event on task %s: %v", taskID, err)
					continue
				}
				if !send(e) {
					return
				}
				if e.Type == TypeCleared {
					return
				}
			}
		}
	}()

	return sub
}
