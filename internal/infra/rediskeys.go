package infra

import "fmt"

const (
	// RedisNamespace Базовый префикс для изоляции данных проекта в Redis
	RedisNamespace = "bridge"
)

// Streams (очередь команд)
const (
	RedisStreamCommands   = RedisNamespace + ":commands"
	RedisStreamDeadLetter = RedisNamespace + ":commands:dlq"
)

// Каналы Pub/Sub (колбэки оркестратору)
const (
	// RedisChanCallbacks — общий канал, на который подписан оркестратор.
	RedisChanCallbacks = RedisNamespace + ":callbacks"
)

// Пауза чтения очереди (оператор останавливает консьюмеров на время работ в Jira)
const (
	// RedisKeyPausedGroups — Set групп, которые не читают очередь. Источник истины при старте.
	RedisKeyPausedGroups = RedisNamespace + ":queue:paused_set"
	// RedisChanPause — сигнал "group:true|false" для уже запущенных воркеров.
	RedisChanPause = RedisNamespace + ":queue:pause"
)

// Ключи леджера тикетов
const (
	RedisKeyTicketsPrefix = RedisNamespace + ":tickets:"
)

// CallbackChannel — персональный канал ожидающего шага оркестратора.
func CallbackChannel(taskToken string) string {
	return fmt.Sprintf("%s:%s", RedisChanCallbacks, taskToken)
}

// TicketKey — ключ леджера для пары домен + заявка.
func TicketKey(domainID, requestID string) string {
	return fmt.Sprintf("%s%s:%s", RedisKeyTicketsPrefix, domainID, requestID)
}
