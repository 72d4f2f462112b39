package domain

import "encoding/json"

// Command — что оркестратор просит сделать с заявкой.
type Command string

const (
	CommandCreateIssue    Command = "CREATE_ISSUE"
	CommandGetIssueStatus Command = "GET_ISSUE_STATUS"
)

func (c Command) String() string { return string(c) }

func (c Command) IsValid() bool {
	switch c {
	case CommandCreateIssue, CommandGetIssueStatus:
		return true
	}
	return false
}

// MessageBody — тело сообщения в очереди в том виде, в каком его кладет оркестратор.
type MessageBody struct {
	TaskToken string          `json:"TaskToken"`
	Command   Command         `json:"Command"`
	Payload   json.RawMessage `json:"Payload"`
}

// QueueMessage — одно сообщение пачки.
// В рамках одной доставки на messageId обрабатывается ровно один экземпляр.
type QueueMessage struct {
	MessageID         string
	GroupID           string
	ContinuationToken string
	Command           Command
	Payload           json.RawMessage

	// ReceiveCount — сколько раз сообщение уже выдавалось консьюмерам (включая текущую доставку).
	ReceiveCount int64
}

// BatchItemFailure — идентификатор сообщения, которое должно остаться в очереди.
type BatchItemFailure struct {
	ItemIdentifier string `json:"itemIdentifier"`
}

// BatchOutcome — результат обработки пачки: сообщения, которые нельзя подтверждать.
// Все остальные сообщения пачки считаются полностью обработанными.
type BatchOutcome struct {
	BatchItemFailures []BatchItemFailure `json:"batchItemFailures"`
}

// Unresolved возвращает идентификаторы неподтвержденных сообщений в исходном порядке.
func (o BatchOutcome) Unresolved() []string {
	ids := make([]string, 0, len(o.BatchItemFailures))
	for _, f := range o.BatchItemFailures {
		ids = append(ids, f.ItemIdentifier)
	}
	return ids
}

// IsUnresolved проверяет, остается ли сообщение в очереди.
func (o BatchOutcome) IsUnresolved(messageID string) bool {
	for _, f := range o.BatchItemFailures {
		if f.ItemIdentifier == messageID {
			return true
		}
	}
	return false
}
