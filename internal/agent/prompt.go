package agent

import (
	"fmt"
	"strings"

	"cliexplainer/internal/domain"
	"cliexplainer/internal/tool"
)

const systemPromptTemplate = `You are a CLI tool expert. You are tasked with explaining how to use a given command-line tool, based on a user's query.

You have access to the following tools:

- %[1]s: Gets help text for a tool or subcommand using the '-h' flag. This tool takes the tool name and an *optional* subcommand as arguments.
- %[2]s: Gets the man page for a tool. This tool takes the tool name.

Here's your strategy:

1. **Initial Help:** Start by getting the help text for the main tool (using ` + "`%[1]s`" + ` without a subcommand).
2. **Identify Subcommands:** Carefully examine the help text you receive. Look for sections describing subcommands. These might be indicated by indentation, keywords like "Commands:", or a list of command names.
3. **Recursive Exploration:** For *each* potential subcommand you identify, call ` + "`%[1]s`" + ` again, this time passing the subcommand as an argument. This will give you the help text for that subcommand.
4. **Man Page (If Needed):** If ` + "`%[1]s`" + ` returns an error, or if the help text seems incomplete, use ` + "`%[2]s`" + ` to get more information about the main tool.
5. **Repeat:** Continue steps 2 and 3 recursively until you believe you have explored all subcommands (you no longer find new subcommands in the help text).
6. **Answer the Question:** Once you have gathered all the relevant help text (for the main tool and all subcommands), synthesize this information and provide a clear and concise answer to the user's original query, formatted as Markdown. Include relevant examples from the help text where appropriate. Be as comprehensive as possible.
7. **Do not call a tool if it has already been called with the same inputs.**

Users Query:
Tool: %[3]s`

const budgetExhaustedPrompt = "You have used all available tool calls. Do not request more tools. Answer the original question now using only the help text and manual pages gathered above."

const inlineHelpTemplate = `Below is the output of ` + "`%s`" + `. Use it to answer the question that follows.

<help>
%s
</help>

Question: %s`

// PromptBuilder assembles the messages for one explanation turn.
type PromptBuilder struct {
	systemPromptExtra string // custom text appended to system prompt
}

func NewPromptBuilder(systemPromptExtra string) *PromptBuilder {
	return &PromptBuilder{systemPromptExtra: strings.TrimSpace(systemPromptExtra)}
}

// BuildSystemPrompt embeds the tool name; the question travels as the user message.
func (p *PromptBuilder) BuildSystemPrompt(toolName string) string {
	prompt := fmt.Sprintf(systemPromptTemplate, tool.HelpToolName, tool.ManToolName, toolName)
	if p.systemPromptExtra != "" {
		prompt += "\n\n## Custom Instructions\n" + p.systemPromptExtra
	}
	return prompt
}

// BuildMessages constructs [system, history..., user] for a tool-calling
// turn. history is an earlier turn about the same tool, without its system message.
func (p *PromptBuilder) BuildMessages(q domain.Query, history []domain.Message) []domain.Message {
	msgs := make([]domain.Message, 0, len(history)+2)
	msgs = append(msgs, domain.Message{Role: "system", Content: p.BuildSystemPrompt(q.ToolName())})
	msgs = append(msgs, history...)
	return append(msgs, domain.Message{Role: "user", Content: q.Query()})
}

// BuildInlineMessages is the single-request form for providers without tool
// calling: the top-level help text is pasted into the user message.
func (p *PromptBuilder) BuildInlineMessages(q domain.Query, helpText string, history []domain.Message) []domain.Message {
	system := "You are a CLI tool expert. Explain how to use the command-line tool " + q.ToolName() +
		" based on its help text. Answer in Markdown and include examples from the help text where appropriate."
	if p.systemPromptExtra != "" {
		system += "\n\n## Custom Instructions\n" + p.systemPromptExtra
	}
	argv := strings.Join(tool.HelpArgs(q.ToolName(), ""), " ")
	msgs := make([]domain.Message, 0, len(history)+2)
	msgs = append(msgs, domain.Message{Role: "system", Content: system})
	msgs = append(msgs, history...)
	return append(msgs, domain.Message{Role: "user", Content: fmt.Sprintf(inlineHelpTemplate, argv, helpText, q.Query())})
}

func (p *PromptBuilder) AddAssistantMessage(messages []domain.Message, content string, toolCalls []domain.ToolCall) []domain.Message {
	msg := domain.Message{Role: "assistant", Content: content}
	if len(toolCalls) > 0 {
		msg.ToolCalls = toolCalls
	}
	return append(messages, msg)
}

func (p *PromptBuilder) AddToolResult(messages []domain.Message, toolCallID, toolName, result string) []domain.Message {
	return append(messages, domain.Message{
		Role:       "tool",
		ToolCallID: toolCallID,
		ToolName:   toolName,
		Content:    result,
	})
}
