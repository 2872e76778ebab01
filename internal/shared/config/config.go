package config

import (
	"os"
	"strconv"
	"strings"

	"gopkg.in/ini.v1"
	"proxychecker/internal/shared/types"
)

// DefaultSourceURL 是默认的代理列表地址
const DefaultSourceURL = "https://raw.githubusercontent.com/dpangestuw/Free-Proxy/refs/heads/main/allive.txt"

// LoadIni 加载 proxychecker.ini, 并用环境变量覆盖部分字段。
func LoadIni(cfg *types.Config, fileName string) error {
	iniFile, err := ini.Load(fileName)
	if err != nil {
		return err
	}
	if err := iniFile.MapTo(cfg); err != nil {
		return err
	}
	applyDefaults(cfg)
	overrideFromEnvString(&cfg.CheckerConf.SourceURL, "PROXYCHECKER_SOURCE_URL")
	overrideFromEnvInt(&cfg.WebConf.WebPort, "PROXYCHECKER_WEB_PORT")
	return nil
}

// Default 返回未加载任何文件时的配置。
func Default() *types.Config {
	cfg := new(types.Config)
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *types.Config) {
	if cfg.CheckerConf.SourceURL == "" {
		cfg.CheckerConf.SourceURL = DefaultSourceURL
	}
	if cfg.CheckerConf.SourceFormat == "" {
		cfg.CheckerConf.SourceFormat = "text"
	}
	if cfg.LogConf.Level == "" {
		cfg.LogConf.Level = "info"
	}
}

// SplitList 将逗号分隔的配置值拆分为去除空白后的非空项。
func SplitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// SplitLines 按行拆分代理列表, 去除空白和空行。
func SplitLines(value string) []string {
	var out []string
	for _, line := range strings.Split(strings.ReplaceAll(value, "\r\n", "\n"), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func overrideFromEnvString(target *string, envName string) {
	if envValue := os.Getenv(envName); envValue != "" {
		*target = envValue
	}
}

func overrideFromEnvInt(target *int, envName string) {
	envValue := os.Getenv(envName)
	if envValue != "" {
		if intValue, err := strconv.Atoi(envValue); err == nil {
			*target = intValue
		}
	}
}
