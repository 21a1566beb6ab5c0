package archiver

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/taskboard/project/internal/contracts"
)

var ErrInvalidEventPayload = errors.New("invalid event payload")
var ErrUnnamedEvent = errors.New("event has no name")

// Service writes every published board event into the activity log, which
// the API serves back to managers through the activity-log endpoint.
type Service struct {
	Repository Repository
}

func NewService(repository Repository) *Service {
	return &Service{Repository: repository}
}

func (s *Service) Handle(ctx context.Context, subject string, payload []byte, eventSeq uint64) error {
	var event contracts.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return ErrInvalidEventPayload
	}
	if event.Name == "" {
		return ErrUnnamedEvent
	}

	entry := Entry{
		EventSeq:  eventSeq,
		Subject:   subject,
		EventName: event.Name,
		ActorID:   event.ActorID,
		TaskID:    event.TaskID,
		CommentID: event.CommentID,
		TeamID:    event.TeamID,
		Message:   event.Message,
		Payload:   payload,
		EmittedAt: event.EmittedAt,
	}
	if entry.TaskID == "" && event.Task != nil {
		entry.TaskID = event.Task.ID
	}
	if entry.CommentID == "" && event.Comment != nil {
		entry.CommentID = event.Comment.ID
	}
	if entry.TeamID == "" && event.Team != nil {
		entry.TeamID = event.Team.ID
	}
	return s.Repository.InsertEntry(ctx, entry)
}
