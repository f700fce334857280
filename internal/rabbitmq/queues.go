package rabbitmq

// NoticeExchange обменник заданий на доставку личных уведомлений.
const NoticeExchange = "notifications"

type QueueConfig struct {
	QueueName  string
	RoutingKey string
}

// GetNoticeQueues описывает очереди личных уведомлений: вехи, ежедневные
// напоминания и уведомления об истечении доступа.
func GetNoticeQueues() []QueueConfig {
	return []QueueConfig{
		{QueueName: "notices.milestone", RoutingKey: "milestone"},
		{QueueName: "notices.reminder", RoutingKey: "reminder"},
		{QueueName: "notices.renewal", RoutingKey: "renewal"},
	}
}
