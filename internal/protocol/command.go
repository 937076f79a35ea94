// Package protocol 定义 pool TCP 协议的命令码、命令集、retort 和握手问候字节
package protocol

import (
	"fmt"
	"sort"
	"strings"
)

// Command 命令码
type Command int32

const (
	CmdCreate                Command = 0
	CmdDispose               Command = 1
	CmdParticipate           Command = 2
	CmdParticipateCreatingly Command = 3
	CmdWithdraw              Command = 4
	CmdDeposit               Command = 5
	CmdNthProtein            Command = 6
	CmdNext                  Command = 7
	CmdProbeFrwd             Command = 8
	CmdNewestIndex           Command = 9
	CmdOldestIndex           Command = 10
	CmdAwaitNextSingle       Command = 11
	CmdMultiAddAwaiter       Command = 12
	CmdResult                Command = 14
	CmdInfo                  Command = 15
	CmdList                  Command = 16
	CmdIndexLookup           Command = 17
	CmdProbeBack             Command = 18
	CmdPrev                  Command = 19
	CmdFancyAddAwaiter       Command = 20
	CmdSetHoseName           Command = 21
	CmdSubFetch              Command = 22
	CmdRename                Command = 23
	CmdAdvanceOldest         Command = 24
	CmdSleep                 Command = 25
	CmdChangeOptions         Command = 27
	CmdListEx                Command = 28
	CmdSubFetchEx            Command = 29
	CmdStartTLS              Command = 30
	CmdGreenhouse            Command = 31

	// 以下只由服务端发出
	CmdFancyResult1 Command = 64
	CmdFancyResult2 Command = 65
	CmdFancyResult3 Command = 66
)

var commandNames = map[Command]string{
	CmdCreate:                "create",
	CmdDispose:               "dispose",
	CmdParticipate:           "participate",
	CmdParticipateCreatingly: "participate_creatingly",
	CmdWithdraw:              "withdraw",
	CmdDeposit:               "deposit",
	CmdNthProtein:            "nth_protein",
	CmdNext:                  "next",
	CmdProbeFrwd:             "probe_frwd",
	CmdNewestIndex:           "newest_index",
	CmdOldestIndex:           "oldest_index",
	CmdAwaitNextSingle:       "await_next_single",
	CmdMultiAddAwaiter:       "multi_add_awaiter",
	CmdResult:                "result",
	CmdInfo:                  "info",
	CmdList:                  "list",
	CmdIndexLookup:           "index_lookup",
	CmdProbeBack:             "probe_back",
	CmdPrev:                  "prev",
	CmdFancyAddAwaiter:       "fancy_add_awaiter",
	CmdSetHoseName:           "set_hose_name",
	CmdSubFetch:              "sub_fetch",
	CmdRename:                "rename",
	CmdAdvanceOldest:         "advance_oldest",
	CmdSleep:                 "sleep",
	CmdChangeOptions:         "change_options",
	CmdListEx:                "list_ex",
	CmdSubFetchEx:            "sub_fetch_ex",
	CmdStartTLS:              "starttls",
	CmdGreenhouse:            "greenhouse",
	CmdFancyResult1:          "fancy_result_1",
	CmdFancyResult2:          "fancy_result_2",
	CmdFancyResult3:          "fancy_result_3",
}

func (c Command) String() string {
	if n, ok := commandNames[c]; ok {
		return n
	}
	return fmt.Sprintf("command(%d)", int32(c))
}

// ParseCommand 按名称查找命令码，用于配置文件
func ParseCommand(name string) (Command, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for c, n := range commandNames {
		if n == name {
			return c, nil
		}
	}
	return 0, fmt.Errorf("unknown command %q", name)
}

const maxCommands = 256

// CommandSet 服务端支持的命令集合，以小端位图表示：第 i 字节的第 j 位对应命令 8i+j
type CommandSet struct {
	bits [maxCommands / 8]byte
}

// NewCommandSet 由命令列表构造集合
func NewCommandSet(cmds ...Command) CommandSet {
	var s CommandSet
	for _, c := range cmds {
		s = s.With(c)
	}
	return s
}

// CommandSetFromBitmask 由握手收到的位图构造集合，超出部分忽略
func CommandSetFromBitmask(mask []byte) CommandSet {
	var s CommandSet
	copy(s.bits[:], mask)
	return s
}

// Has 是否支持命令 c
func (s CommandSet) Has(c Command) bool {
	if c < 0 || c >= maxCommands {
		return false
	}
	return s.bits[c/8]&(1<<(uint(c)%8)) != 0
}

// With 返回加入命令 c 后的集合
func (s CommandSet) With(c Command) CommandSet {
	if c >= 0 && c < maxCommands {
		s.bits[c/8] |= 1 << (uint(c) % 8)
	}
	return s
}

// Without 返回去掉命令 c 后的集合
func (s CommandSet) Without(c Command) CommandSet {
	if c >= 0 && c < maxCommands {
		s.bits[c/8] &^= 1 << (uint(c) % 8)
	}
	return s
}

// Bitmask 返回去掉尾部零字节的位图
func (s CommandSet) Bitmask() []byte {
	n := len(s.bits)
	for n > 0 && s.bits[n-1] == 0 {
		n--
	}
	return append([]byte(nil), s.bits[:n]...)
}

// Commands 按命令码升序列出集合成员
func (s CommandSet) Commands() []Command {
	var out []Command
	for c := Command(0); c < maxCommands; c++ {
		if s.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

func (s CommandSet) String() string {
	cmds := s.Commands()
	names := make([]string, len(cmds))
	for i, c := range cmds {
		names[i] = c.String()
	}
	sort.Strings(names)
	return "{" + strings.Join(names, ",") + "}"
}

// LegacyCommands 老服务端（握手回复 0,0）默认被认为支持的命令
// info 和 list 在老服务端上未必可靠，可以通过配置去掉
func LegacyCommands() CommandSet {
	s := NewCommandSet(CmdInfo, CmdList)
	for c := CmdCreate; c <= CmdMultiAddAwaiter; c++ {
		s = s.With(c)
	}
	return s
}

// AllCommands 当前版本客户端会用到的全部命令
func AllCommands() CommandSet {
	s := LegacyCommands()
	for _, c := range []Command{
		CmdIndexLookup, CmdProbeBack, CmdPrev, CmdFancyAddAwaiter, CmdSetHoseName,
		CmdSubFetch, CmdRename, CmdAdvanceOldest, CmdSleep, CmdChangeOptions,
		CmdListEx, CmdSubFetchEx, CmdStartTLS,
	} {
		s = s.With(c)
	}
	return s
}
