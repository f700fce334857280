// Package interaction реализует модель взаимодействий клуба: публикацию
// постов в темы супергруппы, ответы с инкрементом счетчика, лайки и
// мягкое удаление. Сообщение сначала публикуется в группу, и только
// после успеха пишется запись с присвоенным Telegram message_id.
package interaction

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/betrezv/trezv-club-bot/internal/config"
	"github.com/betrezv/trezv-club-bot/internal/lib/render"
	"github.com/betrezv/trezv-club-bot/internal/lib/sl"
	"github.com/betrezv/trezv-club-bot/internal/metrics"
	"github.com/betrezv/trezv-club-bot/internal/models"
	"github.com/betrezv/trezv-club-bot/internal/storage/repository"
)

var (
	// ErrNotMember доступ участника не действует.
	ErrNotMember = errors.New("not an active member")
	// ErrEmptyPost текст поста пуст после нормализации.
	ErrEmptyPost = errors.New("post text is empty")
	// ErrForbidden участник не автор поста и не администратор.
	ErrForbidden = errors.New("operation is not allowed")
)

// PostRepository описывает операции хранилища постов и лайков.
type PostRepository interface {
	CreatePost(ctx context.Context, post *models.Post) error
	GetPost(ctx context.Context, id int64) (*models.Post, error)
	InsertReply(ctx context.Context, reply *models.Post) (int, error)
	SoftDeletePost(ctx context.Context, id int64) error
	ToggleLike(ctx context.Context, postID, userID int64) (bool, int, error)
	AddLike(ctx context.Context, postID, userID int64) (bool, int, error)
	CountLikes(ctx context.Context, postID int64) (int, error)
	CountReplies(ctx context.Context, parentID int64) (int, error)
	ListRootPostsByAuthor(ctx context.Context, authorID int64, limit, offset int) ([]*models.Post, error)
	CountRootPostsByAuthor(ctx context.Context, authorID int64) (int, error)
}

// UserProvider описывает доступ к участникам.
type UserProvider interface {
	GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
}

// MembershipChecker проверяет, действует ли доступ участника.
type MembershipChecker interface {
	IsActive(ctx context.Context, telegramID int64, now time.Time) (bool, error)
}

// Gateway описывает операции канала, нужные модели взаимодействий.
type Gateway interface {
	Publish(ctx context.Context, topicID int, html string, controls models.ControlSet) (int64, error)
	EditBody(ctx context.Context, messageID int64, html string, controls models.ControlSet) error
	EditControls(ctx context.Context, messageID int64, controls models.ControlSet) error
}

// Service модель взаимодействий клуба.
type Service struct {
	log     *slog.Logger
	posts   PostRepository
	users   UserProvider
	members MembershipChecker
	gateway Gateway
	tg      config.Telegram
	cfg     config.Membership
}

// New создает модель взаимодействий.
func New(log *slog.Logger, posts PostRepository, users UserProvider,
	members MembershipChecker, gateway Gateway, tg config.Telegram, cfg config.Membership) *Service {
	return &Service{
		log:     log,
		posts:   posts,
		users:   users,
		members: members,
		gateway: gateway,
		tg:      tg,
		cfg:     cfg,
	}
}

// ControlsFor возвращает набор кнопок для поста в теме: «Ответить» и лайк
// везде, «Поддержать» только в теме SOS.
func (s *Service) ControlsFor(topicID, likeCount int) models.ControlSet {
	return models.ControlSet{
		Reply:     true,
		Support:   topicID == s.tg.Topics.SOS,
		Like:      true,
		LikeCount: likeCount,
	}
}

// Publish публикует корневой пост от имени участника. Текст обрезается до
// настроенного лимита, подпись собирается из профиля автора. Запись в
// хранилище создается после успешной публикации, уже с message_id.
func (s *Service) Publish(ctx context.Context, telegramID int64, topicID int, text string, now time.Time) (*models.Post, error) {
	const op = "services.interaction.Publish"

	if err := s.requireActive(ctx, telegramID, now); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	author, err := s.users.GetUserByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	text = render.Truncate(text, s.cfg.MaxPostLength)
	if text == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrEmptyPost)
	}

	body := render.PostBody(text, author, 0, now)
	messageID, err := s.gateway.Publish(ctx, topicID, body, s.ControlsFor(topicID, 0))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	post := &models.Post{
		ID:       messageID,
		AuthorID: author.ID,
		ThreadID: topicID,
		Text:     text,
	}
	if err = s.posts.CreatePost(ctx, post); err != nil {
		// Сообщение в группе уже висит, но записи нет: кнопки под ним
		// останутся мертвыми. Фиксируем и отдаем ошибку вызывающему.
		s.log.Error("published message has no stored post",
			slog.Int64("message_id", messageID), sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	metrics.PostsPublished.WithLabelValues(s.topicName(topicID)).Inc()
	s.log.Info("post published",
		slog.Int64("message_id", messageID),
		slog.String("topic", s.topicName(topicID)))
	return post, nil
}

// Reply публикует ответ на пост, наращивает счетчик ответов родителя и
// перерисовывает его подпись. Ответ на удаленный или несуществующий пост
// возвращает ErrPostNotFound.
func (s *Service) Reply(ctx context.Context, telegramID, parentID int64, text string, now time.Time) (*models.Post, error) {
	const op = "services.interaction.Reply"

	if err := s.requireActive(ctx, telegramID, now); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	parent, err := s.posts.GetPost(ctx, parentID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if parent.Deleted {
		return nil, fmt.Errorf("%s: %w", op, repository.ErrPostNotFound)
	}
	author, err := s.users.GetUserByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	text = render.Truncate(text, s.cfg.MaxPostLength)
	if text == "" {
		return nil, fmt.Errorf("%s: %w", op, ErrEmptyPost)
	}

	body := render.ReplyBody(text, author, s.tg.SuperGroup, parentID, now)
	messageID, err := s.gateway.Publish(ctx, parent.ThreadID, body, s.ControlsFor(parent.ThreadID, 0))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	reply := &models.Post{
		ID:       messageID,
		AuthorID: author.ID,
		ThreadID: parent.ThreadID,
		ParentID: &parentID,
		Text:     text,
	}
	newCount, err := s.posts.InsertReply(ctx, reply)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.refreshParent(ctx, parent, newCount, now); err != nil {
		// Счетчик в хранилище уже верный, подпись догонит следующая правка.
		s.log.Warn("failed to refresh parent footer",
			slog.Int64("parent_id", parentID), sl.Err(err))
	}
	s.log.Info("reply published",
		slog.Int64("message_id", messageID),
		slog.Int64("parent_id", parentID),
		slog.Int("reply_count", newCount))
	return reply, nil
}

// Like обрабатывает нажатие лайка согласно настроенной политике:
// toggle — повторное нажатие снимает лайк, single — лайк ставится один
// раз, повторное нажатие ничего не меняет. Возвращает итоговое состояние
// пары и живой счетчик.
func (s *Service) Like(ctx context.Context, telegramID, postID int64, now time.Time) (bool, int, error) {
	const op = "services.interaction.Like"

	if err := s.requireActive(ctx, telegramID, now); err != nil {
		return false, 0, fmt.Errorf("%s: %w", op, err)
	}
	user, err := s.users.GetUserByTelegramID(ctx, telegramID)
	if err != nil {
		return false, 0, fmt.Errorf("%s: %w", op, err)
	}
	post, err := s.posts.GetPost(ctx, postID)
	if err != nil {
		return false, 0, fmt.Errorf("%s: %w", op, err)
	}
	if post.Deleted {
		return false, 0, fmt.Errorf("%s: %w", op, repository.ErrPostNotFound)
	}

	var liked bool
	var count int
	if s.cfg.LikePolicy == "single" {
		liked, count, err = s.posts.AddLike(ctx, postID, user.ID)
	} else {
		liked, count, err = s.posts.ToggleLike(ctx, postID, user.ID)
	}
	if err != nil {
		return false, 0, fmt.Errorf("%s: %w", op, err)
	}

	if err := s.gateway.EditControls(ctx, postID, s.ControlsFor(post.ThreadID, count)); err != nil {
		s.log.Warn("failed to refresh like counter",
			slog.Int64("post_id", postID), sl.Err(err))
	}
	metrics.LikesToggled.Inc()
	return liked, count, nil
}

// SoftDelete помечает пост удаленным. Разрешено автору и администраторам.
// Тело в группе заменяется заглушкой, кнопки снимаются. Для ответа счетчик
// родителя откатывается в хранилище, и подпись родителя перерисовывается.
func (s *Service) SoftDelete(ctx context.Context, telegramID, postID int64) error {
	const op = "services.interaction.SoftDelete"

	requester, err := s.users.GetUserByTelegramID(ctx, telegramID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	post, err := s.posts.GetPost(ctx, postID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if post.AuthorID != requester.ID && !s.isAdmin(telegramID) {
		return fmt.Errorf("%s: %w", op, ErrForbidden)
	}

	if err = s.posts.SoftDeletePost(ctx, postID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err = s.gateway.EditBody(ctx, postID, render.DeletedPlaceholder, models.NoControls); err != nil {
		s.log.Warn("failed to redact deleted post",
			slog.Int64("post_id", postID), sl.Err(err))
	}
	if post.ParentID != nil {
		if err = s.refreshDeletedReplyParent(ctx, *post.ParentID); err != nil {
			// Счетчик в хранилище уже верный, подпись догонит следующая правка.
			s.log.Warn("failed to refresh parent footer",
				slog.Int64("parent_id", *post.ParentID), sl.Err(err))
		}
	}
	s.log.Info("post deleted", slog.Int64("post_id", postID))
	return nil
}

// PublishMilestone публикует праздничный пост о вехе в тему побед.
// Кнопки те же, что у обычного поста вне SOS: «Ответить» и лайк. Иначе
// первый лайк перерисовал бы клавиатуру через ControlsFor и добавил бы
// «Ответить» задним числом.
func (s *Service) PublishMilestone(ctx context.Context, user *models.User, days int) (int64, error) {
	const op = "services.interaction.PublishMilestone"

	body := render.MilestoneBody(user, days)
	controls := models.ControlSet{Reply: true, Like: true}
	messageID, err := s.gateway.Publish(ctx, s.tg.Topics.Wins, body, controls)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	post := &models.Post{
		ID:       messageID,
		AuthorID: user.ID,
		ThreadID: s.tg.Topics.Wins,
		Text:     body,
	}
	if err = s.posts.CreatePost(ctx, post); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	metrics.PostsPublished.WithLabelValues("wins").Inc()
	return messageID, nil
}

// LivePost возвращает неудаленный пост. Для удаленного или несуществующего
// поста возвращает ErrPostNotFound.
func (s *Service) LivePost(ctx context.Context, postID int64) (*models.Post, error) {
	const op = "services.interaction.LivePost"

	post, err := s.posts.GetPost(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if post.Deleted {
		return nil, fmt.Errorf("%s: %w", op, repository.ErrPostNotFound)
	}
	return post, nil
}

// ListPosts возвращает страницу корневых постов участника и их общее число.
func (s *Service) ListPosts(ctx context.Context, telegramID int64, limit, offset int) ([]*models.Post, int, error) {
	const op = "services.interaction.ListPosts"

	user, err := s.users.GetUserByTelegramID(ctx, telegramID)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}
	posts, err := s.posts.ListRootPostsByAuthor(ctx, user.ID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}
	total, err := s.posts.CountRootPostsByAuthor(ctx, user.ID)
	if err != nil {
		return nil, 0, fmt.Errorf("%s: %w", op, err)
	}
	return posts, total, nil
}

func (s *Service) requireActive(ctx context.Context, telegramID int64, now time.Time) error {
	active, err := s.members.IsActive(ctx, telegramID, now)
	if err != nil {
		return err
	}
	if !active {
		return ErrNotMember
	}
	return nil
}

func (s *Service) isAdmin(telegramID int64) bool {
	for _, id := range s.tg.AdminIDs {
		if id == telegramID {
			return true
		}
	}
	return false
}

// refreshParent перерисовывает подпись родителя со свежим счетчиком ответов.
func (s *Service) refreshParent(ctx context.Context, parent *models.Post, replyCount int, now time.Time) error {
	author, err := s.users.GetUserByID(ctx, parent.AuthorID)
	if err != nil {
		return err
	}
	likes, err := s.posts.CountLikes(ctx, parent.ID)
	if err != nil {
		return err
	}
	body := render.PostBody(parent.Text, author, replyCount, now)
	return s.gateway.EditBody(ctx, parent.ID, body, s.ControlsFor(parent.ThreadID, likes))
}

// refreshDeletedReplyParent перечитывает родителя после удаления ответа и
// перерисовывает его подпись со свежим числом живых ответов. Удаленный
// родитель уже заменен заглушкой, его трогать не нужно.
func (s *Service) refreshDeletedReplyParent(ctx context.Context, parentID int64) error {
	parent, err := s.posts.GetPost(ctx, parentID)
	if err != nil {
		return err
	}
	if parent.Deleted {
		return nil
	}
	replies, err := s.posts.CountReplies(ctx, parentID)
	if err != nil {
		return err
	}
	return s.refreshParent(ctx, parent, replies, time.Now().UTC())
}

func (s *Service) topicName(topicID int) string {
	switch topicID {
	case s.tg.Topics.SOS:
		return "sos"
	case s.tg.Topics.Wins:
		return "wins"
	case s.tg.Topics.Announces:
		return "announces"
	default:
		return strconv.Itoa(topicID)
	}
}
