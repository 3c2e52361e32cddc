package llm

import "voice-gateway/model"

// DefaultMaxHistory 对话历史的最大轮数（含system）
const DefaultMaxHistory = 10

// DefaultSystemPrompt 默认系统提示词
const DefaultSystemPrompt = "你是一个专业的网络小说助理，熟悉各大网站的网络小说信息。你可以：\n" +
	"1. 推荐热门或符合特定要求的网络小说\n" +
	"2. 解答关于网络小说的问题\n" +
	"3. 分析网络小说的情节和写作特点\n" +
	"请用简洁专业的语气回答问题，每次回答内容不超过100字。"

// Conversation 有界的对话历史
// 第一条永远是system，超过上限后淘汰最早的一问一答。非并发安全，由会话的识别协程独占。
type Conversation struct {
	dialogues []model.Dialogue
	maxTurns  int
}

// NewConversation 创建只包含system的对话
func NewConversation(systemPrompt string, maxTurns int) *Conversation {
	if maxTurns < 3 {
		maxTurns = DefaultMaxHistory
	}
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	return &Conversation{
		dialogues: []model.Dialogue{{Role: model.RoleSystem, Content: systemPrompt}},
		maxTurns:  maxTurns,
	}
}

// AddUser 追加用户发言
func (c *Conversation) AddUser(text string) {
	c.dialogues = append(c.dialogues, model.Dialogue{Role: model.RoleUser, Content: text})
}

// AddAssistant 追加助手回复，并在超出上限时淘汰最早的一问一答
func (c *Conversation) AddAssistant(text string) {
	c.dialogues = append(c.dialogues, model.Dialogue{Role: model.RoleAssistant, Content: text})
	for len(c.dialogues) > c.maxTurns {
		c.dialogues = append(c.dialogues[:1], c.dialogues[3:]...)
	}
}

// RollbackUser 回复失败时撤回最后一条用户发言，保持一问一答交替
func (c *Conversation) RollbackUser() {
	if n := len(c.dialogues); n > 1 && c.dialogues[n-1].Role == model.RoleUser {
		c.dialogues = c.dialogues[:n-1]
	}
}

// Reset 清空历史，只保留system
func (c *Conversation) Reset() {
	c.dialogues = c.dialogues[:1]
}

// History 返回历史拷贝
func (c *Conversation) History() []model.Dialogue {
	return append([]model.Dialogue(nil), c.dialogues...)
}

func (c *Conversation) Len() int { return len(c.dialogues) }
