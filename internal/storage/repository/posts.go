package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/betrezv/trezv-club-bot/internal/models"
)

const postColumns = `id, author_id, thread_id, parent_id, text, reply_count, created_at, deleted`

func scanPost(row interface{ Scan(...any) error }) (*models.Post, error) {
	p := &models.Post{}
	var parentID sql.NullInt64
	if err := row.Scan(&p.ID, &p.AuthorID, &p.ThreadID, &parentID, &p.Text,
		&p.ReplyCount, &p.CreatedAt, &p.Deleted); err != nil {
		return nil, err
	}
	if parentID.Valid {
		p.ParentID = &parentID.Int64
	}
	return p, nil
}

// CreatePost сохраняет корневой пост. Запись создается после успешной
// публикации в группе, поэтому ID приходит готовым (message_id Telegram).
func (s *Storage) CreatePost(ctx context.Context, post *models.Post) error {
	const op = "storage.CreatePost"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO posts (id, author_id, thread_id, parent_id, text)
			  VALUES ($1, $2, $3, $4, $5)`
	if _, err := s.DB.ExecContext(ctx, query,
		post.ID, post.AuthorID, post.ThreadID, post.ParentID, post.Text); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// GetPost возвращает пост по его идентификатору, включая удаленные.
func (s *Storage) GetPost(ctx context.Context, id int64) (*models.Post, error) {
	const op = "storage.GetPost"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + postColumns + `
			  FROM posts
			  WHERE id = $1`
	p, err := scanPost(s.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, ErrPostNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return p, nil
}

// InsertReply сохраняет ответ и в той же транзакции инкрементирует счетчик
// ответов родителя. Возвращает новое значение счетчика. Конкурентные ответы
// на один пост сериализуются на строке родителя.
func (s *Storage) InsertReply(ctx context.Context, reply *models.Post) (int, error) {
	const op = "storage.InsertReply"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}
	if reply.ParentID == nil {
		return 0, fmt.Errorf("%s: reply without parent", op)
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var newCount int
	err = tx.QueryRowContext(ctx,
		`UPDATE posts
		 SET reply_count = reply_count + 1
		 WHERE id = $1 AND deleted = FALSE
		 RETURNING reply_count`,
		*reply.ParentID).Scan(&newCount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%s: %w", op, ErrPostNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO posts (id, author_id, thread_id, parent_id, text)
		 VALUES ($1, $2, $3, $4, $5)`,
		reply.ID, reply.AuthorID, reply.ThreadID, reply.ParentID, reply.Text); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return newCount, nil
}

// SoftDeletePost помечает пост удаленным. Физически запись не удаляется.
// Для ответа в той же транзакции откатывается счетчик ответов родителя,
// чтобы reply_count продолжал совпадать с числом живых ответов. Конкурентные
// удаления и вставки сериализуются на строке родителя, как в InsertReply.
func (s *Storage) SoftDeletePost(ctx context.Context, id int64) error {
	const op = "storage.SoftDeletePost"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var parentID sql.NullInt64
	err = tx.QueryRowContext(ctx,
		`UPDATE posts
		 SET deleted = TRUE
		 WHERE id = $1 AND deleted = FALSE
		 RETURNING parent_id`,
		id).Scan(&parentID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrPostNotFound)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	if parentID.Valid {
		if _, err = tx.ExecContext(ctx,
			`UPDATE posts
			 SET reply_count = GREATEST(reply_count - 1, 0)
			 WHERE id = $1`,
			parentID.Int64); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// ToggleLike переключает лайк пары (пост, участник): вставляет при отсутствии,
// удаляет при повторном нажатии. Дубликаты при конкурентных нажатиях гасятся
// уникальным ограничением: второй писатель попадает в ветку удаления либо в
// ON CONFLICT DO NOTHING. Возвращает итоговое состояние и живой счетчик.
func (s *Storage) ToggleLike(ctx context.Context, postID, userID int64) (liked bool, count int, err error) {
	const op = "storage.ToggleLike"
	select {
	case <-ctx.Done():
		return false, 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	var inserted int64
	res, err := tx.ExecContext(ctx,
		`INSERT INTO post_likes (post_id, user_id)
		 VALUES ($1, $2)
		 ON CONFLICT (post_id, user_id) DO NOTHING`,
		postID, userID)
	if err != nil {
		return false, 0, fmt.Errorf("%s: %w", op, err)
	}
	inserted, _ = res.RowsAffected()

	if inserted == 0 {
		if _, err = tx.ExecContext(ctx,
			`DELETE FROM post_likes WHERE post_id = $1 AND user_id = $2`,
			postID, userID); err != nil {
			return false, 0, fmt.Errorf("%s: %w", op, err)
		}
		liked = false
	} else {
		liked = true
	}

	if err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM post_likes WHERE post_id = $1`, postID).Scan(&count); err != nil {
		return false, 0, fmt.Errorf("%s: %w", op, err)
	}
	if err = tx.Commit(); err != nil {
		return false, 0, fmt.Errorf("%s: %w", op, err)
	}
	return liked, count, nil
}

// AddLike ставит лайк строго один раз (политика single). Повторное нажатие
// не ошибка: added=false означает «уже в нужном конечном состоянии».
func (s *Storage) AddLike(ctx context.Context, postID, userID int64) (added bool, count int, err error) {
	const op = "storage.AddLike"
	select {
	case <-ctx.Done():
		return false, 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	res, err := s.DB.ExecContext(ctx,
		`INSERT INTO post_likes (post_id, user_id)
		 VALUES ($1, $2)
		 ON CONFLICT (post_id, user_id) DO NOTHING`,
		postID, userID)
	if err != nil {
		return false, 0, fmt.Errorf("%s: %w", op, err)
	}
	n, _ := res.RowsAffected()

	count, err = s.CountLikes(ctx, postID)
	if err != nil {
		return false, 0, fmt.Errorf("%s: %w", op, err)
	}
	return n > 0, count, nil
}

// CountLikes возвращает число живых лайков поста.
func (s *Storage) CountLikes(ctx context.Context, postID int64) (int, error) {
	const op = "storage.CountLikes"
	var count int
	query := `SELECT COUNT(*) FROM post_likes WHERE post_id = $1`
	if err := s.DB.QueryRowContext(ctx, query, postID).Scan(&count); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return count, nil
}

// ListRootPostsByAuthor возвращает неудаленные корневые посты участника
// с пагинацией, новые сверху.
func (s *Storage) ListRootPostsByAuthor(ctx context.Context, authorID int64, limit, offset int) ([]*models.Post, error) {
	const op = "storage.ListRootPostsByAuthor"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + postColumns + `
			  FROM posts
			  WHERE author_id = $1 AND parent_id IS NULL AND deleted = FALSE
			  ORDER BY created_at DESC
			  LIMIT $2 OFFSET $3`
	rows, err := s.DB.QueryContext(ctx, query, authorID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()
	var result []*models.Post
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, p)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// CountRootPostsByAuthor возвращает число неудаленных корневых постов участника.
func (s *Storage) CountRootPostsByAuthor(ctx context.Context, authorID int64) (int, error) {
	const op = "storage.CountRootPostsByAuthor"
	var n int
	query := `SELECT COUNT(*)
			  FROM posts
			  WHERE author_id = $1 AND parent_id IS NULL AND deleted = FALSE`
	if err := s.DB.QueryRowContext(ctx, query, authorID).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

// CountReplies возвращает число неудаленных ответов на пост.
func (s *Storage) CountReplies(ctx context.Context, parentID int64) (int, error) {
	const op = "storage.CountReplies"
	var n int
	query := `SELECT COUNT(*)
			  FROM posts
			  WHERE parent_id = $1 AND deleted = FALSE`
	if err := s.DB.QueryRowContext(ctx, query, parentID).Scan(&n); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}
