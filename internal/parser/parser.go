// Package parser 将大模型的自由文本回复解析为结构化的意图。
package parser

import (
	"regexp"
	"strings"
)

// ObservationBoundary 是模型回复中引出工具结果的标记，也用作默认停止序列。
const ObservationBoundary = "\nObservation:"

var (
	thoughtPattern     = regexp.MustCompile(`(?is)Thought:[ \t]*(.*?)(?:\n[ \t]*Action:|\n[ \t]*Action Input:|\n[ \t]*Observation:|\n[ \t]*Final Answer:|\z)`)
	actionPattern      = regexp.MustCompile(`(?is)Action:[ \t]*(.*?)(?:\n[ \t]*Action Input:|\n[ \t]*Observation:|\z)`)
	actionInputPattern = regexp.MustCompile(`(?is)Action Input:[ \t]*(.*?)(?:\n[ \t]*Observation:|\z)`)
	finalAnswerPattern = regexp.MustCompile(`(?is)Final Answer:[ \t]*(.*)`)
)

// Parsed 是解析结果的标签联合：FinalAnswer、ActionStep 或 NoAction。
type Parsed interface {
	// Thought 返回模型给出的推理文本，可能为空。
	Thought() string
	isParsed()
}

// FinalAnswer 表示模型宣布任务完成。
type FinalAnswer struct {
	Reasoning string
	Answer    string
}

// ActionStep 表示模型选择调用某个工具。
type ActionStep struct {
	Reasoning string
	Action    string
	Input     string
}

// NoAction 表示回复中既没有动作也没有最终答案。
type NoAction struct {
	Reasoning string
}

func (f FinalAnswer) Thought() string { return f.Reasoning }
func (a ActionStep) Thought() string  { return a.Reasoning }
func (n NoAction) Thought() string    { return n.Reasoning }

func (FinalAnswer) isParsed() {}
func (ActionStep) isParsed()  {}
func (NoAction) isParsed()    {}

// Parse 从模型回复中提取 Thought/Action/Action Input/Final Answer。
// 各标签相互独立且均可缺省；只要出现 Final Answer，就忽略任何动作。
func Parse(text string) Parsed {
	thought := capture(thoughtPattern, text)

	if answer, ok := find(finalAnswerPattern, text); ok {
		return FinalAnswer{Reasoning: thought, Answer: answer}
	}

	action := capture(actionPattern, text)
	if action == "" {
		return NoAction{Reasoning: thought}
	}
	return ActionStep{
		Reasoning: thought,
		Action:    action,
		Input:     capture(actionInputPattern, text),
	}
}

func capture(pattern *regexp.Regexp, text string) string {
	value, _ := find(pattern, text)
	return value
}

func find(pattern *regexp.Regexp, text string) (string, bool) {
	match := pattern.FindStringSubmatch(text)
	if match == nil {
		return "", false
	}
	return strings.TrimSpace(match[1]), true
}
