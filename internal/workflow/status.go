package workflow

import (
	"fmt"
	"strings"

	"github.com/xela07ax/dz-approval-bridge/internal/domain"
)

// StatusProjector переводит сырой статус бэкенда в словарь каталога.
// Известные статусы становятся Accepted/Rejected, остальные возвращаются как есть:
// оркестратор воспринимает их как "решения еще нет" и продолжает опрос.
type StatusProjector struct {
	mapping map[string]domain.ApprovalStatus
}

// NewStatusProjector принимает таблицу "сырой статус -> Accepted|Rejected".
// Сравнение ключей без учета регистра. Пустая таблица — тождественное отображение.
func NewStatusProjector(mapping map[string]string) (*StatusProjector, error) {
	p := &StatusProjector{mapping: map[string]domain.ApprovalStatus{
		"accepted": domain.StatusAccepted,
		"rejected": domain.StatusRejected,
	}}
	if len(mapping) == 0 {
		return p, nil
	}

	p.mapping = make(map[string]domain.ApprovalStatus, len(mapping))
	for raw, target := range mapping {
		status := domain.ApprovalStatus(target)
		if !status.IsDecision() {
			return nil, fmt.Errorf("status mapping %q -> %q: target must be %s or %s",
				raw, target, domain.StatusAccepted, domain.StatusRejected)
		}
		p.mapping[normalize(raw)] = status
	}
	return p, nil
}

// Project никогда не выдумывает статус: nil остается nil.
func (p *StatusProjector) Project(raw *string) *string {
	if raw == nil {
		return nil
	}
	if status, ok := p.mapping[normalize(*raw)]; ok {
		return domain.StrPtr(string(status))
	}
	return domain.StrPtr(*raw)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
