package models

import "time"

// Post представляет сообщение в супергруппе: корневой пост или ответ.
// ID совпадает с message_id Telegram, поэтому запись создается только после
// успешной публикации. ParentID nil означает корневой пост.
type Post struct {
	ID         int64
	AuthorID   int64 // ссылка на users.id
	ThreadID   int   // message_thread_id темы
	ParentID   *int64
	Text       string
	ReplyCount int
	CreatedAt  time.Time
	Deleted    bool
}

// IsRoot сообщает, является ли пост корневым.
func (p *Post) IsRoot() bool { return p.ParentID == nil }

// Like один лайк участника на пост. Пара (PostID, UserID) уникальна.
type Like struct {
	PostID int64
	UserID int64
}

// ControlSet описывает набор кнопок под сообщением в группе.
// Передается явно в шлюз канала вместо динамической конфигурации.
type ControlSet struct {
	Reply     bool
	Support   bool
	Like      bool
	LikeCount int
}

// NoControls пустой набор кнопок (используется после удаления поста).
var NoControls = ControlSet{}
