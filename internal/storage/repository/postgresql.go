// Package repository реализует хранилище данных на основе PostgreSQL
// для участников клуба, постов и лайков. Предоставляет методы создания,
// чтения и обновления записей, а также транзакционные операции
// (выдача пробного слота, вставка ответа с инкрементом счетчика).
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	// Регистрация драйвера pgx для использования с database/sql.
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Ошибки уровня хранилища. Сервисы сопоставляют их со своими ошибками
// доступа и валидации.
var (
	// ErrUserNotFound участник не найден
	ErrUserNotFound = errors.New("user not found")
	// ErrPostNotFound пост не найден или удален
	ErrPostNotFound = errors.New("post not found")
	// ErrNoTrialSlots пробные слоты закончились
	ErrNoTrialSlots = errors.New("no trial slots left")
)

// Storage инкапсулирует соединение с базой данных PostgreSQL
// и реализует методы работы с участниками, постами и лайками.
type Storage struct {
	DB *sql.DB
}

// New создаёт подключение к PostgreSQL.
func New(storageConnectionString string) (*Storage, error) {
	const op = "storage.New"

	db, err := sql.Open("pgx", storageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = db.PingContext(context.Background()); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{
		DB: db,
	}, nil
}

// CheckDatabaseReady проверяет готовность базы данных.
func CheckDatabaseReady(storage *Storage) error {
	var exists bool
	err := storage.DB.QueryRow(`SELECT EXISTS (
        SELECT FROM information_schema.tables
        WHERE table_name = 'users'
    )`).Scan(&exists)
	if err != nil || !exists {
		return fmt.Errorf("required table users missing or query error: %w", err)
	}
	return nil
}
