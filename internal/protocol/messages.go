package protocol

import (
	"fmt"

	"github.com/haskel/branchsim/internal/simulation"
)

// Tag is the single byte preceding every frame.
type Tag byte

const (
	TagClientName   Tag = 1
	TagTaskRequest  Tag = 2
	TagTask         Tag = 3
	TagResult       Tag = 4
	TagNewSession   Tag = 5
	TagAbortSession Tag = 6
)

func (t Tag) String() string {
	switch t {
	case TagClientName:
		return "ClientName"
	case TagTaskRequest:
		return "TaskRequest"
	case TagTask:
		return "Task"
	case TagResult:
		return "Result"
	case TagNewSession:
		return "NewSession"
	case TagAbortSession:
		return "AbortSession"
	default:
		return fmt.Sprintf("Tag(%d)", byte(t))
	}
}

// Message is a decoded frame.
type Message interface {
	Tag() Tag
	appendPayload(b []byte) []byte
}

// ClientName is the first message a client sends on a new connection.
type ClientName struct {
	Name string
}

// TaskRequest grants the client one credit: the sending worker is idle.
type TaskRequest struct {
	SessionID uint32
}

type TaskMessage struct {
	Task simulation.Task
}

type ResultMessage struct {
	Result simulation.Result
}

type NewSession struct {
	Session simulation.Session
}

type AbortSession struct {
	SessionID uint32
}

func (ClientName) Tag() Tag    { return TagClientName }
func (TaskRequest) Tag() Tag   { return TagTaskRequest }
func (TaskMessage) Tag() Tag   { return TagTask }
func (ResultMessage) Tag() Tag { return TagResult }
func (NewSession) Tag() Tag    { return TagNewSession }
func (AbortSession) Tag() Tag  { return TagAbortSession }
