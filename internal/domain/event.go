package domain

// EventType 推送给在线查看者的事件类型
type EventType string

const (
	EventNewEmail EventType = "NEW_EMAIL"
)

// Event 是发布到邮箱主题上的通知载荷
type Event struct {
	Type EventType `json:"type"`
	Data *Message  `json:"data"`
}

// TopicPrefix 邮箱通知主题前缀，主题格式为 inbox:<address>
const TopicPrefix = "inbox:"

// InboxTopic 返回邮箱对应的通知主题
func InboxTopic(address string) string {
	return TopicPrefix + address
}

// InboxPattern 匹配所有邮箱主题的订阅模式
const InboxPattern = TopicPrefix + "*"
