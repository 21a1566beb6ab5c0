package messaging

import (
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/taskboard/project/internal/sharding"
)

const eventsStream = "BOARD_EVENTS"

// AllEventsWildcard matches every board event regardless of shard or scope.
const AllEventsWildcard = "board.event.>"

// EnsureStream creates (or validates) the single stream carrying all board
// push events under board.event.>.
func EnsureStream(js nats.JetStreamContext) error {
	if _, err := js.StreamInfo(eventsStream); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return err
		}
		if _, addErr := js.AddStream(&nats.StreamConfig{
			Name:      eventsStream,
			Subjects:  []string{AllEventsWildcard},
			Retention: nats.LimitsPolicy,
			Storage:   nats.FileStorage,
			Replicas:  1,
		}); addErr != nil {
			return addErr
		}
	}
	return nil
}

// UserEventSubject is the publish subject for events scoped to one user.
// Subscribers do not know shard assignments, so they use the wildcard form.
func UserEventSubject(userID string) string {
	return fmt.Sprintf("board.event.%d.user.%s", sharding.GetShardID(userID), userID)
}

func UserEventWildcard(userID string) string {
	return fmt.Sprintf("board.event.*.user.%s", userID)
}

// TaskEventSubject is the publish subject for comment events scoped to one
// open task thread.
func TaskEventSubject(taskID string) string {
	return fmt.Sprintf("board.event.%d.task.%s", sharding.GetShardID(taskID), taskID)
}

func TaskEventWildcard(taskID string) string {
	return fmt.Sprintf("board.event.*.task.%s", taskID)
}
