package version

import (
	"runtime"
	"runtime/debug"
	"strings"
)

var (
	// Version 版本号，构建时通过 -ldflags "-X poolnet/internal/version.Version=..." 注入
	Version = "dev"

	// BuildTime 构建时间，通过 -ldflags 注入
	BuildTime = ""

	// GitCommit Git 提交哈希，通过 -ldflags 注入；为空时从模块构建信息读取
	GitCommit = ""
)

func init() {
	if GitCommit == "" {
		GitCommit = vcsRevision()
	}
	Version = strings.TrimPrefix(Version, "v")
}

func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			return s.Value
		}
	}
	return ""
}

func shortCommit(c string) string {
	if len(c) > 8 {
		return c[:8]
	}
	return c
}

// GetVersion 完整版本信息
func GetVersion() string {
	version := "v" + Version
	if BuildTime != "" {
		version += " (built " + BuildTime + ")"
	}
	if GitCommit != "" {
		version += " commit " + shortCommit(GitCommit)
	}
	return version
}

// GetShortVersion 简短版本号
func GetShortVersion() string {
	return "v" + Version
}

// Platform 运行平台，例如 linux/amd64 go1.24.4
func Platform() string {
	return runtime.GOOS + "/" + runtime.GOARCH + " " + runtime.Version()
}
