package cli

import (
	"sort"
	"strings"

	"github.com/chzyer/readline"
)

// CommandCompleter Tab 补全
type CommandCompleter struct {
	names []string
}

func NewCommandCompleter() *CommandCompleter {
	return &CommandCompleter{names: AllCommands()}
}

// BuildCompleter 每个命令一项，带固定参数的命令附带子项
func (c *CommandCompleter) BuildCompleter() *readline.PrefixCompleter {
	items := make([]readline.PrefixCompleterInterface, 0, len(commands))
	for _, cmd := range commands {
		children := make([]readline.PrefixCompleterInterface, 0, len(cmd.params))
		for _, p := range cmd.params {
			children = append(children, readline.PcItem(p))
		}
		items = append(items, readline.PcItem(cmd.name, children...))
	}
	return readline.NewPrefixCompleter(items...)
}

// Filter 以 prefix 开头的命令名和别名
func (c *CommandCompleter) Filter(prefix string) []string {
	return FilterCommands(prefix, c.names)
}

func FilterCommands(prefix string, names []string) []string {
	prefix = strings.ToLower(prefix)
	matches := make([]string, 0)
	for _, name := range names {
		if strings.HasPrefix(strings.ToLower(name), prefix) {
			matches = append(matches, name)
		}
	}
	return matches
}

// AllCommands 全部命令名和别名，按字母排序
func AllCommands() []string {
	var out []string
	for _, c := range commands {
		out = append(out, c.name)
		out = append(out, c.aliases...)
	}
	sort.Strings(out)
	return out
}
