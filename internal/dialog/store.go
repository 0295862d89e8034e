package dialog

import (
	"context"
	"time"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message одна реплика диалога.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Store хранит историю диалогов по идентификатору сессии.
type Store interface {
	// Get возвращает историю сессии; bool сообщает, найдена ли она.
	Get(ctx context.Context, sessionID string) ([]Message, bool, error)

	// Append добавляет сообщения, создавая сессию при необходимости.
	Append(ctx context.Context, sessionID string, messages ...Message) error

	// Delete удаляет сессию.
	Delete(ctx context.Context, sessionID string) error

	// ClearExpired удаляет сессии с истёкшим TTL и возвращает их количество.
	ClearExpired(ctx context.Context, now time.Time) (int, error)
}
