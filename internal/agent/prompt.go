package agent

import (
	"fmt"
	"strings"
	"time"
)

// 提示词模板中的占位符。
const (
	PlaceholderGoal             = "{goal}"
	PlaceholderToolDescriptions = "{tool_descriptions}"
	PlaceholderToolNames        = "{tool_names}"
	PlaceholderHistory          = "{history}"
	PlaceholderDatetime         = "{current_datetime}"
	PlaceholderDirectory        = "{current_directory}"
)

const datetimeLayout = "2006-01-02 15:04:05"

// DefaultPromptTemplate 是未配置模板时使用的 ReAct 提示词。
const DefaultPromptTemplate = `You are an autonomous agent that pursues a goal by reasoning step by step and using tools.

Current date and time: {current_datetime}
Current working directory: {current_directory}

You have access to the following tools:
{tool_descriptions}

Use exactly this format:

Thought: reason about what to do next
Action: the tool to use, one of [{tool_names}]
Action Input: the input for the tool, either plain text or a JSON object of named arguments
Observation: the result of the action (provided to you, never write it yourself)
... (Thought/Action/Action Input/Observation can repeat)
Thought: I now know the final answer
Final Answer: the answer to the goal

Goal: {goal}

Previous steps:
{history}

Thought:`

// promptContext 汇总单次迭代填充模板所需的数据。
type promptContext struct {
	goal             string
	toolDescriptions string
	toolNames        []string
	history          string
	now              time.Time
	directory        string
}

// CheckTemplate 校验模板至少包含目标与历史占位符。
func CheckTemplate(template string) error {
	if strings.TrimSpace(template) == "" {
		return fmt.Errorf("提示词模板为空")
	}
	for _, placeholder := range []string{PlaceholderGoal, PlaceholderHistory} {
		if !strings.Contains(template, placeholder) {
			return fmt.Errorf("提示词模板缺少占位符 %s", placeholder)
		}
	}
	return nil
}

// formatPrompt 一次性替换全部占位符，替换结果中的花括号不会被再次解析。
func formatPrompt(template string, pc promptContext) string {
	replacer := strings.NewReplacer(
		PlaceholderGoal, pc.goal,
		PlaceholderToolDescriptions, pc.toolDescriptions,
		PlaceholderToolNames, strings.Join(pc.toolNames, ", "),
		PlaceholderHistory, pc.history,
		PlaceholderDatetime, pc.now.Format(datetimeLayout),
		PlaceholderDirectory, pc.directory,
	)
	return replacer.Replace(template)
}
