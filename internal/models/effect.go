package models

// EffectKind вид побочного эффекта, который движок членства возвращает
// вызывающему. Эффекты не выполняются внутри движка: переход состояния в
// хранилище первичен, внешние вызовы вторичны и повторяемы по отдельности.
type EffectKind string

const (
	// EffectSendDirect личное сообщение участнику
	EffectSendDirect EffectKind = "send_direct"
	// EffectRemoveAccess обратимое удаление из группы (ban+unban)
	EffectRemoveAccess EffectKind = "remove_access"
	// EffectInviteLink одноразовая ссылка-приглашение в группу
	EffectInviteLink EffectKind = "invite_link"
)

// Effect одно отложенное внешнее действие.
type Effect struct {
	Kind       EffectKind
	TelegramID int64
	Text       string // текст для send_direct, пусто для остальных
}

// MembershipState состояние участника, вычисленное движком членства.
type MembershipState string

const (
	StateUnregistered  MembershipState = "unregistered"
	StateTrialEligible MembershipState = "trial_eligible"
	StateActive        MembershipState = "active"
	StateGracePeriod   MembershipState = "grace_period"
	StateExpired       MembershipState = "expired"
)

// Notice задание на доставку личного сообщения, публикуемое в очередь
// уведомлений и потребляемое сервисом-отправителем.
type Notice struct {
	TelegramID int64  `json:"telegram_id"`
	Kind       string `json:"kind"` // milestone | reminder | renewal
	Text       string `json:"text"`
}
