package rules

import (
	"regexp"
	"sync"
)

// regexCache 正则编译缓存，规则求值在热路径上反复使用同一批模式
var regexCache = &compiledCache{entries: make(map[string]*regexp.Regexp)}

type compiledCache struct {
	mu      sync.RWMutex
	entries map[string]*regexp.Regexp
}

func (c *compiledCache) Get(pattern string) (*regexp.Regexp, error) {
	c.mu.RLock()
	re, ok := c.entries[pattern]
	c.mu.RUnlock()
	if ok {
		return re, nil
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.entries[pattern] = re
	c.mu.Unlock()
	return re, nil
}
