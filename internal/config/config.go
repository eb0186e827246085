package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config 配置文件结构体
type Config struct {
	Version string `yaml:"version"`

	DevTools struct {
		URL string `yaml:"url"`
	} `yaml:"devtools"`

	Sqlite struct {
		Dsn    string `yaml:"dsn"`
		Prefix string `yaml:"prefix"`
	} `yaml:"sqlite"`

	Log struct {
		Level  string   `yaml:"level"`
		Writer []string `yaml:"writer"`
		File   string   `yaml:"file"`
	} `yaml:"log"`

	Timeouts struct {
		// ProcessMS 单次拦截事件的处理超时
		ProcessMS int `yaml:"processMS"`
		// NavigationMS 导航默认超时
		NavigationMS int `yaml:"navigationMS"`
		// WaitMS 选择器等待默认超时
		WaitMS int `yaml:"waitMS"`
	} `yaml:"timeouts"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	c := &Config{Version: "1.0.0"}
	c.DevTools.URL = "http://127.0.0.1:9222"
	c.Sqlite.Dsn = "db.sqlite3"
	c.Sqlite.Prefix = "cdpdriver_"
	c.Log.Level = "debug"
	c.Log.Writer = []string{"console", "file"}
	c.Log.File = "cdpdriver.log"
	c.Timeouts.ProcessMS = 3000
	c.Timeouts.NavigationMS = 30000
	c.Timeouts.WaitMS = 30000
	return c
}

// Load 从文件加载配置，缺失字段使用默认值
func Load(path string) (*Config, error) {
	c := NewConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return c, nil
}
