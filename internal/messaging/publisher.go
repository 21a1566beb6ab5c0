package messaging

import (
	"encoding/json"
	"time"

	"github.com/taskboard/project/internal/contracts"
)

// PublishFunc sends a raw payload to one subject. Both the JetStream client
// and test fakes satisfy it.
type PublishFunc func(subject string, payload []byte) error

// EventPublisher fans board events out to user and task subjects.
type EventPublisher struct {
	Publish PublishFunc
	Now     func() time.Time
}

func NewEventPublisher(publish PublishFunc) *EventPublisher {
	return &EventPublisher{
		Publish: publish,
		Now:     func() time.Time { return time.Now().UTC() },
	}
}

// ToUsers delivers one event to every listed user, deduplicating IDs so a
// user who is both assignee and creator gets a single copy.
func (p *EventPublisher) ToUsers(event contracts.Event, userIDs []string) error {
	payload, err := p.encode(event)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(userIDs))
	for _, userID := range userIDs {
		if userID == "" || seen[userID] {
			continue
		}
		seen[userID] = true
		if err := p.Publish(UserEventSubject(userID), payload); err != nil {
			return err
		}
	}
	return nil
}

// ToTask delivers one event to the subject shared by everyone who has the
// task's thread open.
func (p *EventPublisher) ToTask(event contracts.Event, taskID string) error {
	payload, err := p.encode(event)
	if err != nil {
		return err
	}
	return p.Publish(TaskEventSubject(taskID), payload)
}

func (p *EventPublisher) encode(event contracts.Event) ([]byte, error) {
	if event.EmittedAt.IsZero() {
		event.EmittedAt = p.Now()
	}
	return json.Marshal(event)
}
