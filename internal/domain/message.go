package domain

import "time"

// Message 表示投递到某一个收件人邮箱的一封邮件，写入后不再修改。
//
// 同一封邮件抄送给多个邮箱时，每个收件人各保存一份独立记录。
type Message struct {
	ID      string              `json:"id"`
	From    string              `json:"from"`
	To      string              `json:"to"`
	Subject string              `json:"subject"`
	Text    string              `json:"text"`
	HTML    string              `json:"html"`
	Raw     string              `json:"raw"`
	Headers map[string][]string `json:"headers,omitempty"`
	Date    time.Time           `json:"date"`
}

// MessageSummary 邮件列表中的摘要，不含 HTML、原文和邮件头
type MessageSummary struct {
	ID      string    `json:"id"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	Subject string    `json:"subject"`
	Text    string    `json:"text"`
	HasHTML bool      `json:"hasHtml"`
	Date    time.Time `json:"date"`
}

// Summary 生成邮件摘要
func (m *Message) Summary() MessageSummary {
	return MessageSummary{
		ID:      m.ID,
		From:    m.From,
		To:      m.To,
		Subject: m.Subject,
		Text:    m.Text,
		HasHTML: m.HTML != "",
		Date:    m.Date,
	}
}
