package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/isdelr/ender-auth/internal/models"
)

// Auth event types.
const (
	EventRegister    = "auth.register"
	EventLogin       = "auth.login"
	EventLoginFailed = "auth.login.failed"
	EventLogout      = "auth.logout"
)

// EventServiceProvider defines the interface for event services.
type EventServiceProvider interface {
	CreateEvent(ctx context.Context, eventType, level, message string, userID *string) error
	GetUserEvents(ctx context.Context, userID string, limit int) ([]models.Event, error)
}

// EventNotifier receives every event after it is stored.
type EventNotifier interface {
	NotifyEvent(event models.Event)
}

// EventService records auth events.
type EventService struct {
	db        *sql.DB
	notifiers []EventNotifier
}

// NewEventService creates a new EventService.
func NewEventService(db *sql.DB, notifiers ...EventNotifier) *EventService {
	return &EventService{db: db, notifiers: notifiers}
}

// CreateEvent logs a new event to the database.
func (s *EventService) CreateEvent(ctx context.Context, eventType, level, message string, userID *string) error {
	event := models.Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Level:     level,
		Message:   message,
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}

	_, err := s.db.ExecContext(ctx,
		"INSERT INTO events (id, type, level, message, user_id, created_at) VALUES (?, ?, ?, ?, ?, ?)",
		event.ID, event.Type, event.Level, event.Message, event.UserID, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	for _, n := range s.notifiers {
		n.NotifyEvent(event)
	}
	return nil
}

// GetUserEvents retrieves the most recent events of a user.
func (s *EventService) GetUserEvents(ctx context.Context, userID string, limit int) ([]models.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, type, level, message, user_id, created_at FROM events WHERE user_id = ? ORDER BY created_at DESC LIMIT ?",
		userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []models.Event
	for rows.Next() {
		var event models.Event
		if err := rows.Scan(&event.ID, &event.Type, &event.Level, &event.Message, &event.UserID, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}
