// Package knowledge 提供本地静态知识库检索，并以 knowledge_lookup 工具暴露给智能体。
package knowledge

import (
	"cmp"
	"encoding/json"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	xerrors "AutoAgent/internal/errors"
)

// Provider 按查询文本返回相关的知识条目。
type Provider interface {
	Query(text string) []Snippet
}

// Snippet 是一条知识。Keywords 与 Tags 都为空的条目对任何查询都可见。
type Snippet struct {
	Title    string   `json:"title" yaml:"title"`
	Content  string   `json:"content" yaml:"content"`
	Keywords []string `json:"keywords" yaml:"keywords"`
	Tags     []string `json:"tags" yaml:"tags"`
}

const defaultMaxResults = 3

// StaticProvider 在加载时把检索词统一为小写，查询时按命中数排序。
type StaticProvider struct {
	entries []indexed
	limit   int
}

type indexed struct {
	Snippet
	terms []string
}

// NewStaticProvider 创建静态知识库，maxResults 非正数时使用默认值。
func NewStaticProvider(items []Snippet, maxResults int) *StaticProvider {
	p := &StaticProvider{entries: make([]indexed, 0, len(items)), limit: cmp.Or(max(maxResults, 0), defaultMaxResults)}
	for _, item := range items {
		var terms []string
		for _, term := range slices.Concat(item.Keywords, item.Tags) {
			if term = strings.ToLower(strings.TrimSpace(term)); term != "" && !slices.Contains(terms, term) {
				terms = append(terms, term)
			}
		}
		p.entries = append(p.entries, indexed{Snippet: item, terms: terms})
	}
	return p
}

// LoadStaticProvider 读取 JSON 或 YAML 格式的条目列表，.yaml/.yml 以外的扩展名按 JSON 解析。
func LoadStaticProvider(path string, maxResults int) (*StaticProvider, error) {
	if strings.TrimSpace(path) == "" {
		return nil, xerrors.New(xerrors.CodeConfigInvalid, "知识库文件路径不能为空")
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfigInvalid, err, "解析知识库路径失败")
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeSetupFailure, err, "读取知识库文件失败", xerrors.WithMetadata("path", absPath))
	}

	decode := json.Unmarshal
	if ext := strings.ToLower(filepath.Ext(absPath)); ext == ".yaml" || ext == ".yml" {
		decode = yaml.Unmarshal
	}
	var items []Snippet
	if err := decode(data, &items); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeConfigInvalid, err, "解析知识库文件失败", xerrors.WithMetadata("path", absPath))
	}
	return NewStaticProvider(items, maxResults), nil
}

// Len 返回条目数量。
func (p *StaticProvider) Len() int {
	if p == nil {
		return 0
	}
	return len(p.entries)
}

// Query 返回命中的条目，命中检索词越多越靠前，同分保持文件中的顺序。
func (p *StaticProvider) Query(text string) []Snippet {
	text = strings.ToLower(strings.TrimSpace(text))
	if p == nil || text == "" {
		return nil
	}

	type hit struct {
		snippet Snippet
		score   int
	}
	var hits []hit
	for _, entry := range p.entries {
		score := 0
		for _, term := range entry.terms {
			if strings.Contains(text, term) {
				score++
			}
		}
		if score > 0 || len(entry.terms) == 0 {
			hits = append(hits, hit{entry.Snippet, score})
		}
	}
	slices.SortStableFunc(hits, func(a, b hit) int { return cmp.Compare(b.score, a.score) })

	out := make([]Snippet, 0, min(len(hits), p.limit))
	for _, h := range hits[:min(len(hits), p.limit)] {
		out = append(out, h.snippet)
	}
	return out
}

var _ Provider = (*StaticProvider)(nil)
