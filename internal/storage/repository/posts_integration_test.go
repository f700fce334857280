package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betrezv/trezv-club-bot/internal/models"
)

func TestInsertReply_CounterMatchesRows(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()
	factory := NewTestDataFactory(storage)
	ctx := context.Background()

	authorID := factory.CreateMember(t, 100, true, nil)
	factory.CreateRootPost(t, 1000, authorID, 11, "держусь третий день")

	parentID := int64(1000)
	for i, wantCount := range []int{1, 2, 3} {
		newCount, err := storage.InsertReply(ctx, &models.Post{
			ID:       2000 + int64(i),
			AuthorID: authorID,
			ThreadID: 11,
			ParentID: &parentID,
			Text:     "держись",
		})
		require.NoError(t, err)
		assert.Equal(t, wantCount, newCount)
	}

	replies, err := storage.CountReplies(ctx, parentID)
	require.NoError(t, err)
	assert.Equal(t, 3, replies, "stored counter must match actual rows")

	parent, err := storage.GetPost(ctx, parentID)
	require.NoError(t, err)
	assert.Equal(t, 3, parent.ReplyCount)
}

func TestInsertReply_DeletedParentIsRejected(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()
	factory := NewTestDataFactory(storage)
	ctx := context.Background()

	authorID := factory.CreateMember(t, 100, true, nil)
	factory.CreateRootPost(t, 1000, authorID, 11, "пост")
	require.NoError(t, storage.SoftDeletePost(ctx, 1000))

	parentID := int64(1000)
	_, err := storage.InsertReply(ctx, &models.Post{
		ID:       2000,
		AuthorID: authorID,
		ThreadID: 11,
		ParentID: &parentID,
		Text:     "ответ",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPostNotFound))

	// Пост не вставился, счетчик не тронут.
	_, err = storage.GetPost(ctx, 2000)
	assert.True(t, errors.Is(err, ErrPostNotFound))
}

func TestInsertReply_MissingParent(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()
	factory := NewTestDataFactory(storage)
	ctx := context.Background()

	authorID := factory.CreateMember(t, 100, true, nil)

	parentID := int64(777)
	_, err := storage.InsertReply(ctx, &models.Post{
		ID:       2000,
		AuthorID: authorID,
		ThreadID: 11,
		ParentID: &parentID,
		Text:     "ответ в пустоту",
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPostNotFound))
}

func TestToggleLike_RoundTrip(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()
	factory := NewTestDataFactory(storage)
	ctx := context.Background()

	authorID := factory.CreateMember(t, 100, true, nil)
	factory.CreateRootPost(t, 1000, authorID, 11, "пост")

	liked, count, err := storage.ToggleLike(ctx, 1000, 42)
	require.NoError(t, err)
	assert.True(t, liked)
	assert.Equal(t, 1, count)

	liked, count, err = storage.ToggleLike(ctx, 1000, 42)
	require.NoError(t, err)
	assert.False(t, liked)
	assert.Equal(t, 0, count)

	// Лайки разных участников не мешают друг другу.
	_, _, err = storage.ToggleLike(ctx, 1000, 42)
	require.NoError(t, err)
	liked, count, err = storage.ToggleLike(ctx, 1000, 43)
	require.NoError(t, err)
	assert.True(t, liked)
	assert.Equal(t, 2, count)
}

func TestAddLike_SecondPressIsNoOp(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()
	factory := NewTestDataFactory(storage)
	ctx := context.Background()

	authorID := factory.CreateMember(t, 100, true, nil)
	factory.CreateRootPost(t, 1000, authorID, 11, "пост")

	added, count, err := storage.AddLike(ctx, 1000, 42)
	require.NoError(t, err)
	assert.True(t, added)
	assert.Equal(t, 1, count)

	added, count, err = storage.AddLike(ctx, 1000, 42)
	require.NoError(t, err)
	assert.False(t, added)
	assert.Equal(t, 1, count)
}

func TestSoftDeletePost(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()
	factory := NewTestDataFactory(storage)
	ctx := context.Background()

	authorID := factory.CreateMember(t, 100, true, nil)
	factory.CreateRootPost(t, 1000, authorID, 11, "пост")

	require.NoError(t, storage.SoftDeletePost(ctx, 1000))

	// Запись остается читаемой, но помечена удаленной.
	p, err := storage.GetPost(ctx, 1000)
	require.NoError(t, err)
	assert.True(t, p.Deleted)

	err = storage.SoftDeletePost(ctx, 1000)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrPostNotFound))
}

func TestSoftDeletePost_ReplyRollsBackParentCounter(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()
	factory := NewTestDataFactory(storage)
	ctx := context.Background()

	authorID := factory.CreateMember(t, 100, true, nil)
	factory.CreateRootPost(t, 1000, authorID, 11, "тяжело сегодня")

	parentID := int64(1000)
	for i := range 2 {
		_, err := storage.InsertReply(ctx, &models.Post{
			ID:       2000 + int64(i),
			AuthorID: authorID,
			ThreadID: 11,
			ParentID: &parentID,
			Text:     "держись",
		})
		require.NoError(t, err)
	}

	require.NoError(t, storage.SoftDeletePost(ctx, 2000))

	// Счетчик родителя совпадает с числом живых ответов.
	parent, err := storage.GetPost(ctx, parentID)
	require.NoError(t, err)
	assert.Equal(t, 1, parent.ReplyCount)
	replies, err := storage.CountReplies(ctx, parentID)
	require.NoError(t, err)
	assert.Equal(t, parent.ReplyCount, replies)

	// Удаление корневого поста чужие счетчики не трогает.
	require.NoError(t, storage.SoftDeletePost(ctx, parentID))
	reloaded, err := storage.GetPost(ctx, parentID)
	require.NoError(t, err)
	assert.Equal(t, 1, reloaded.ReplyCount)
}

func TestListRootPostsByAuthor(t *testing.T) {
	storage, cleanup := setupTestDatabase(t)
	defer cleanup()
	factory := NewTestDataFactory(storage)
	ctx := context.Background()

	authorID := factory.CreateMember(t, 100, true, nil)
	otherID := factory.CreateMember(t, 101, true, nil)

	factory.CreateRootPost(t, 1000, authorID, 11, "первый")
	factory.CreateRootPost(t, 1001, authorID, 11, "второй")
	factory.CreateRootPost(t, 1002, authorID, 12, "третий")
	factory.CreateRootPost(t, 1003, otherID, 11, "чужой")

	// Ответы и удаленные корни в список не попадают.
	parentID := int64(1000)
	_, err := storage.InsertReply(ctx, &models.Post{
		ID: 2000, AuthorID: authorID, ThreadID: 11, ParentID: &parentID, Text: "ответ",
	})
	require.NoError(t, err)
	require.NoError(t, storage.SoftDeletePost(ctx, 1002))

	posts, err := storage.ListRootPostsByAuthor(ctx, authorID, 10, 0)
	require.NoError(t, err)
	require.Len(t, posts, 2)
	for _, p := range posts {
		assert.Equal(t, authorID, p.AuthorID)
		assert.Nil(t, p.ParentID)
		assert.False(t, p.Deleted)
	}

	total, err := storage.CountRootPostsByAuthor(ctx, authorID)
	require.NoError(t, err)
	assert.Equal(t, 2, total)

	page, err := storage.ListRootPostsByAuthor(ctx, authorID, 1, 1)
	require.NoError(t, err)
	assert.Len(t, page, 1)
}
