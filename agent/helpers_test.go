package agent

import "github.com/LunaDeerTech/Agentex/llms"

func llmMessage(content string) llms.Message {
	return llms.Message{Role: llms.RoleUser, Content: content}
}
