// Package rules 提供声明式拦截规则：按条件匹配请求，
// 编译为拦截控制器的请求处理器执行放行 / 中止 / 合成响应。
package rules

import (
	"strings"
	"sync"

	"github.com/tidwall/gjson"

	"cdpdriver/pkg/domain"
	"cdpdriver/pkg/traffic"
)

// RuleSet 规则集合
type RuleSet struct {
	Rules []Rule `yaml:"rules" json:"rules"`
}

// Rule 单条规则。Priority 越大越优先；Mode 为 short_circuit 时命中即止。
type Rule struct {
	ID       string `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	Priority int    `yaml:"priority" json:"priority"`
	Mode     string `yaml:"mode" json:"mode"`
	Match    Match  `yaml:"match" json:"match"`
	Action   Action `yaml:"action" json:"action"`
}

// Match 条件组合：AllOf 全满足、AnyOf 任一满足、NoneOf 全不满足
type Match struct {
	AllOf  []Condition `yaml:"allOf" json:"allOf"`
	AnyOf  []Condition `yaml:"anyOf" json:"anyOf"`
	NoneOf []Condition `yaml:"noneOf" json:"noneOf"`
}

// Condition 单个匹配条件
type Condition struct {
	// Type：url / method / resource_type / header / body_json
	Type string `yaml:"type" json:"type"`
	// Mode 仅 url 条件使用：glob（默认）/ prefix / suffix / regex / exact
	Mode    string `yaml:"mode" json:"mode"`
	Pattern string `yaml:"pattern" json:"pattern"`
	// Key 仅 header 条件使用；Path 仅 body_json 条件使用（gjson 路径）
	Key  string `yaml:"key" json:"key"`
	Path string `yaml:"path" json:"path"`
	// Op：equals（默认）/ contains / regex
	Op     string   `yaml:"op" json:"op"`
	Value  string   `yaml:"value" json:"value"`
	Values []string `yaml:"values" json:"values"`
}

// Action 命中后的行为
type Action struct {
	// Type：continue / abort / respond
	Type     string          `yaml:"type" json:"type"`
	Abort    *AbortAction    `yaml:"abort" json:"abort"`
	Respond  *RespondAction  `yaml:"respond" json:"respond"`
	Continue *ContinueAction `yaml:"continue" json:"continue"`
}

// AbortAction 中止行为参数
type AbortAction struct {
	Reason string `yaml:"reason" json:"reason"`
}

// RespondAction 合成响应行为参数
type RespondAction struct {
	Status      int               `yaml:"status" json:"status"`
	Headers     map[string]string `yaml:"headers" json:"headers"`
	ContentType string            `yaml:"contentType" json:"contentType"`
	Body        string            `yaml:"body" json:"body"`
}

// ContinueAction 放行行为参数，可携带覆盖
type ContinueAction struct {
	URL     string            `yaml:"url" json:"url"`
	Method  string            `yaml:"method" json:"method"`
	Headers map[string]string `yaml:"headers" json:"headers"`
	// PatchJSON 对 JSON 请求体按 sjson 路径打补丁
	PatchJSON map[string]any `yaml:"patchJSON" json:"patchJSON"`
}

// Result 规则求值结果
type Result struct {
	Rule   *Rule
	Action *Action
}

// Stats 规则命中统计
type Stats struct {
	Total   int64            `json:"total"`
	Matched int64            `json:"matched"`
	ByRule  map[string]int64 `json:"byRule"`
}

// Engine 规则引擎
type Engine struct {
	mu sync.RWMutex
	rs RuleSet

	statsMu sync.Mutex
	total   int64
	matched int64
	byRule  map[string]int64
}

// New 创建规则引擎
func New(rs RuleSet) *Engine {
	return &Engine{rs: rs, byRule: make(map[string]int64)}
}

// Update 整体替换规则集
func (e *Engine) Update(rs RuleSet) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rs = rs
}

// Stats 返回命中统计快照
func (e *Engine) Stats() Stats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	out := Stats{Total: e.total, Matched: e.matched, ByRule: make(map[string]int64, len(e.byRule))}
	for k, v := range e.byRule {
		out.ByRule[k] = v
	}
	return out
}

// Eval 求值请求，返回优先级最高的命中规则
func (e *Engine) Eval(req *traffic.Request) *Result {
	e.mu.RLock()
	rs := e.rs
	e.mu.RUnlock()

	e.statsMu.Lock()
	e.total++
	e.statsMu.Unlock()

	if len(rs.Rules) == 0 {
		return nil
	}
	var chosen *Rule
	for i := range rs.Rules {
		r := &rs.Rules[i]
		if matchRule(req, r.Match) {
			if chosen == nil || r.Priority > chosen.Priority {
				chosen = r
				if r.Mode == "short_circuit" {
					break
				}
			}
		}
	}
	if chosen == nil {
		return nil
	}

	e.statsMu.Lock()
	e.matched++
	e.byRule[chosen.ID]++
	e.statsMu.Unlock()

	return &Result{Rule: chosen, Action: &chosen.Action}
}

func matchRule(req *traffic.Request, m Match) bool {
	ok := true
	if len(m.AllOf) > 0 {
		ok = ok && allOf(req, m.AllOf)
	}
	if len(m.AnyOf) > 0 {
		ok = ok && anyOf(req, m.AnyOf)
	}
	if len(m.NoneOf) > 0 {
		ok = ok && !anyOf(req, m.NoneOf)
	}
	return ok
}

func allOf(req *traffic.Request, cs []Condition) bool {
	for i := range cs {
		if !cond(req, cs[i]) {
			return false
		}
	}
	return true
}

func anyOf(req *traffic.Request, cs []Condition) bool {
	for i := range cs {
		if cond(req, cs[i]) {
			return true
		}
	}
	return false
}

func cond(req *traffic.Request, c Condition) bool {
	switch c.Type {
	case "url":
		switch c.Mode {
		case "prefix":
			return strings.HasPrefix(req.URL, c.Pattern)
		case "suffix":
			return strings.HasSuffix(req.URL, c.Pattern)
		case "regex":
			return matchRegex(req.URL, c.Pattern)
		case "exact":
			return req.URL == c.Pattern
		default:
			return glob(req.URL, c.Pattern)
		}
	case "method":
		for _, v := range c.Values {
			if strings.EqualFold(req.Method, v) {
				return true
			}
		}
		return strings.EqualFold(req.Method, c.Value)
	case "resource_type":
		for _, v := range c.Values {
			if strings.EqualFold(string(req.ResourceType), v) {
				return true
			}
		}
		return strings.EqualFold(string(req.ResourceType), c.Value)
	case "header":
		v := req.Headers.Get(c.Key)
		if v == "" && !req.Headers.Has(c.Key) {
			return false
		}
		return opMatch(v, c)
	case "body_json":
		if len(req.PostData) == 0 || c.Path == "" {
			return false
		}
		res := gjson.GetBytes(req.PostData, c.Path)
		if !res.Exists() {
			return false
		}
		return opMatch(res.String(), c)
	default:
		return false
	}
}

func opMatch(v string, c Condition) bool {
	switch c.Op {
	case "contains":
		return strings.Contains(v, c.Value)
	case "regex":
		return matchRegex(v, c.Value)
	case "equals":
		return v == c.Value
	default:
		return true
	}
}

func matchRegex(s, pattern string) bool {
	re, err := regexCache.Get(pattern)
	if err != nil {
		return false
	}
	return re.MatchString(s)
}

func glob(s, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasPrefix(pattern, "*") && strings.HasSuffix(s, strings.TrimPrefix(pattern, "*")) {
		return true
	}
	if strings.HasSuffix(pattern, "*") && strings.HasPrefix(s, strings.TrimSuffix(pattern, "*")) {
		return true
	}
	return s == pattern
}

// abortReason 把规则里的原因字符串规范为枚举
func abortReason(s string) domain.AbortReason {
	if s == "" {
		return domain.AbortFailed
	}
	r := domain.AbortReason(strings.ToLower(s))
	if !r.Valid() {
		return domain.AbortFailed
	}
	return r
}
