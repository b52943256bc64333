package netbios

import "fmt"

// Status is the outcome reported by a NameEvent.
type Status uint8

const (
	AddSuccess Status = iota
	AddFailed
	AddDuplicate
	AddIOError
	QueryName
	RegisterName
	RefreshName
	RefreshIOError
)

func (s Status) String() string {
	switch s {
	case AddSuccess:
		return "AddSuccess"
	case AddFailed:
		return "AddFailed"
	case AddDuplicate:
		return "AddDuplicate"
	case AddIOError:
		return "AddIOError"
	case QueryName:
		return "QueryName"
	case RegisterName:
		return "RegisterName"
	case RefreshName:
		return "RefreshName"
	case RefreshIOError:
		return "RefreshIOError"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// NameEvent pairs a snapshot of a name with the status of a transition.
// Events are values and are never modified after delivery.
type NameEvent struct {
	Name   Name
	Status Status
}

func (e NameEvent) String() string {
	return e.Name.String() + " " + e.Status.String()
}

// Listener receives every event emitted by a NameTable. Listeners run on
// the goroutine that caused the transition, after the table lock has been
// released, and must not block.
type Listener interface {
	NameEvent(NameEvent)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(NameEvent)

func (f ListenerFunc) NameEvent(ev NameEvent) { f(ev) }
