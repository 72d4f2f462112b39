package infra

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// JiraCredentials — содержимое секрета Jira: админ проекта и API токен.
type JiraCredentials struct {
	Admin string `json:"Admin"`
	Token string `json:"Token"`
}

// LoadJiraCredentials читает секрет один раз при старте.
// Сначала смотрим JIRA_SECRET_DATA (Docker/K8s кладут JSON прямо в ENV), иначе secretRef — путь к файлу.
func LoadJiraCredentials(secretRef string) (*JiraCredentials, error) {
	data := loadKeyResource(secretRef, "JIRA_SECRET_DATA")
	if len(data) == 0 {
		return nil, fmt.Errorf("jira secret %q is empty or unreadable", secretRef)
	}

	var creds JiraCredentials
	if err := json.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("jira secret %q is not valid JSON: %w", secretRef, err)
	}
	if creds.Admin == "" || creds.Token == "" {
		return nil, errors.New("jira secret must contain two values under keys Admin and Token; " +
			"the admin is the email of a project admin, the token is generated in the Jira project settings")
	}
	return &creds, nil
}

// loadKeyResource — ресурс из ENV или из файла по пути из конфига
func loadKeyResource(path string, envDataKey string) []byte {
	// Если ресурс прилетел напрямую в ENV
	if data := os.Getenv(envDataKey); data != "" {
		return []byte(data)
	}
	// Иначе читаем файл по пути из конфига
	if path != "" {
		data, err := os.ReadFile(path)
		if err == nil {
			return data
		}
	}
	return nil
}
