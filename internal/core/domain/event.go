package domain

import "fmt"

type EventType string

const (
	EventInsert EventType = "Insert"
	EventUpdate EventType = "Update"
	EventDelete EventType = "Delete"
)

// ChangeEvent is one notification on the change feed. New is nil for
// deletes; Old is nil for inserts.
type ChangeEvent struct {
	EventType EventType `json:"eventType"`
	New       *Item     `json:"new"`
	Old       *Item     `json:"old"`
}

func InsertEvent(item Item) ChangeEvent {
	return ChangeEvent{EventType: EventInsert, New: &item}
}

func UpdateEvent(old, updated Item) ChangeEvent {
	return ChangeEvent{EventType: EventUpdate, New: &updated, Old: &old}
}

func DeleteEvent(old Item) ChangeEvent {
	return ChangeEvent{EventType: EventDelete, Old: &old}
}

// ItemID returns the identity of the item the event is about.
func (e ChangeEvent) ItemID() string {
	if e.New != nil {
		return e.New.ID
	}
	if e.Old != nil {
		return e.Old.ID
	}
	return ""
}

func (e ChangeEvent) Validate() error {
	switch e.EventType {
	case EventInsert, EventUpdate:
		if e.New == nil {
			return fmt.Errorf("%w: %s event without new item", ErrValidation, e.EventType)
		}
	case EventDelete:
		if e.Old == nil {
			return fmt.Errorf("%w: delete event without old item", ErrValidation)
		}
	default:
		return fmt.Errorf("%w: unknown event type %q", ErrValidation, e.EventType)
	}
	return nil
}

// Summary aggregates the whole catalog.
type Summary struct {
	TotalSKUs  int `json:"totalSKUs"`
	TotalStock int `json:"totalStock"`
	LowCount   int `json:"lowCount"`
}
