package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Logging struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"logging"`
	Server struct {
		Enabled             bool     `yaml:"enabled"`
		Addr                string   `yaml:"addr"`
		Pprof               bool     `yaml:"pprof"`
		ReadTimeoutSeconds  int      `yaml:"read_timeout_seconds"`
		WriteTimeoutSeconds int      `yaml:"write_timeout_seconds"`
		IdleTimeoutSeconds  int      `yaml:"idle_timeout_seconds"`
		AdminAllowCIDRs     []string `yaml:"admin_allow_cidrs"`
	} `yaml:"server"`
	Engine struct {
		DepthLevels int    `yaml:"depth_levels"`
		Strict      bool   `yaml:"strict"`
		PendingCap  int    `yaml:"pending_cap"`
		OutputPath  string `yaml:"output_path"`
	} `yaml:"engine"`
}

func defaultConfig() Config {
	var c Config
	c.Logging.Level = "info"
	c.Logging.Pretty = false
	c.Server.Enabled = false
	c.Server.Addr = ":9090"
	c.Server.Pprof = false
	c.Server.ReadTimeoutSeconds = 5
	c.Server.WriteTimeoutSeconds = 10
	c.Server.IdleTimeoutSeconds = 60
	c.Server.AdminAllowCIDRs = []string{"127.0.0.0/8", "::1/128"}
	c.Engine.DepthLevels = 10
	c.Engine.Strict = true
	c.Engine.PendingCap = 0 // unbounded
	c.Engine.OutputPath = "output.csv"
	return c
}

func Load() Config {
	c := defaultConfig()
	if path := os.Getenv("BOOKREC_CONFIG"); path != "" {
		if b, err := os.ReadFile(path); err == nil {
			_ = yaml.Unmarshal(b, &c)
		}
	}
	if v := os.Getenv("BOOKREC_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("BOOKREC_LOG_PRETTY"); v == "1" || v == "true" {
		c.Logging.Pretty = true
	}
	if v := os.Getenv("BOOKREC_SERVER_ENABLED"); v == "1" || v == "true" {
		c.Server.Enabled = true
	}
	if v := os.Getenv("BOOKREC_HTTP_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("BOOKREC_PPROF"); v == "1" || v == "true" {
		c.Server.Pprof = true
	}
	if v := os.Getenv("BOOKREC_ADMIN_ALLOW_CIDRS"); v != "" {
		c.Server.AdminAllowCIDRs = splitCSV(v)
	}
	if v := os.Getenv("BOOKREC_DEPTH_LEVELS"); v != "" {
		var n int
		_, _ = fmt.Sscan(v, &n)
		if n > 0 {
			c.Engine.DepthLevels = n
		}
	}
	if v := os.Getenv("BOOKREC_STRICT"); v == "0" || v == "false" {
		c.Engine.Strict = false
	}
	if v := os.Getenv("BOOKREC_PENDING_CAP"); v != "" {
		var n int
		_, _ = fmt.Sscan(v, &n)
		if n > 0 {
			c.Engine.PendingCap = n
		}
	}
	if v := os.Getenv("BOOKREC_OUTPUT"); v != "" {
		c.Engine.OutputPath = v
	}
	return c
}

func splitCSV(s string) []string {
	var out []string
	buf := []rune{}
	for _, r := range s {
		if r == ',' {
			if len(buf) > 0 {
				out = append(out, string(buf))
				buf = buf[:0]
			}
			continue
		}
		buf = append(buf, r)
	}
	if len(buf) > 0 {
		out = append(out, string(buf))
	}
	return out
}
