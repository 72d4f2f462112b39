package domain

// Ticket — тикет во внешней системе согласования (Jira).
// Источник истины — бэкенд, локально тикет никогда не изменяется.
type Ticket struct {
	Key string `json:"issue_key"`

	// Status и Assignee могут отсутствовать в ответе бэкенда.
	// nil означает "поле не пришло", и мы его не выдумываем.
	Status   *string `json:"status,omitempty"`
	Assignee *string `json:"assignee,omitempty"`
}
