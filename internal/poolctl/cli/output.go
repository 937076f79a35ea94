package cli

import (
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"golang.org/x/term"

	"poolnet/internal/client"
	coreerrors "poolnet/internal/core/errors"
	"poolnet/internal/packet"
)

var (
	colorSuccess = color.New(color.FgGreen).SprintFunc()
	colorError   = color.New(color.FgRed).SprintFunc()
	colorWarning = color.New(color.FgYellow).SprintFunc()
	colorInfo    = color.New(color.FgCyan).SprintFunc()
	colorBold    = color.New(color.Bold).SprintFunc()
	colorFaint   = color.New(color.Faint).SprintFunc()
)

const defaultWidth = 80

// Output 面向终端的输出
type Output struct {
	w       io.Writer
	noColor bool
	width   int
}

// NewOutput 输出到 stdout；stdout 不是终端时自动关闭颜色
func NewOutput(noColor bool) *Output {
	fd := os.Stdout.Fd()
	if !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd) {
		noColor = true
	}
	width := defaultWidth
	if w, _, err := term.GetSize(int(fd)); err == nil && w > 0 {
		width = w
	}
	return NewOutputTo(os.Stdout, noColor, width)
}

// NewOutputTo 输出到 w，width 小于等于 0 时使用 80
func NewOutputTo(w io.Writer, noColor bool, width int) *Output {
	color.NoColor = noColor
	if width <= 0 {
		width = defaultWidth
	}
	return &Output{w: w, noColor: noColor, width: width}
}

func (o *Output) Writer() io.Writer { return o.w }

func (o *Output) Width() int { return o.width }

func (o *Output) Success(format string, args ...interface{}) {
	fmt.Fprintf(o.w, "%s %s\n", colorSuccess("ok"), fmt.Sprintf(format, args...))
}

func (o *Output) Error(format string, args ...interface{}) {
	fmt.Fprintf(o.w, "%s %s\n", colorError("error"), fmt.Sprintf(format, args...))
}

func (o *Output) Warning(format string, args ...interface{}) {
	fmt.Fprintf(o.w, "%s %s\n", colorWarning("warn"), fmt.Sprintf(format, args...))
}

func (o *Output) Info(format string, args ...interface{}) {
	fmt.Fprintf(o.w, "%s %s\n", colorInfo("info"), fmt.Sprintf(format, args...))
}

// Plain 无颜色
func (o *Output) Plain(format string, args ...interface{}) {
	fmt.Fprintf(o.w, format+"\n", args...)
}

func (o *Output) Header(title string) {
	fmt.Fprintln(o.w)
	fmt.Fprintln(o.w, colorBold(title))
	fmt.Fprintln(o.w, strings.Repeat("━", min(utf8.RuneCountInString(title), o.width)))
}

func (o *Output) KeyValue(key, value string) {
	fmt.Fprintf(o.w, "  %-20s %s\n", colorBold(key+":"), value)
}

func (o *Output) Separator() {
	fmt.Fprintln(o.w, colorFaint(strings.Repeat("━", o.width)))
}

// PoolError 输出错误码和分类，便于定位是地址、网络还是服务端的问题
func (o *Output) PoolError(err error) {
	code := coreerrors.GetCode(err)
	cat := coreerrors.CategoryFor(err)
	fmt.Fprintf(o.w, "%s [%s/%s] %v\n", colorError("error"), cat, code, err)
}

// Protein 一行显示一条 protein，内容按终端宽度截断
func (o *Output) Protein(p client.Protein) {
	prefix := fmt.Sprintf("%8d  %s  ", p.Index, formatTimestamp(p.Timestamp))
	body := FormatData(p.Data)
	if room := o.width - utf8.RuneCountInString(prefix); room > 3 && utf8.RuneCountInString(body) > room {
		body = string([]rune(body)[:room-3]) + "..."
	}
	fmt.Fprintf(o.w, "%s%s\n", colorFaint(prefix), body)
}

// ProteinRaw 原样输出内容
func (o *Output) ProteinRaw(p client.Protein) {
	_, _ = o.w.Write(p.Data)
	if len(p.Data) == 0 || p.Data[len(p.Data)-1] != '\n' {
		fmt.Fprintln(o.w)
	}
}

// Value 以缩进形式输出嵌套的 map/list
func (o *Output) Value(v packet.Value) {
	writeValue(o.w, v, 0)
}

func writeValue(w io.Writer, v packet.Value, depth int) {
	indent := strings.Repeat("  ", depth)
	switch v.Kind() {
	case packet.KindMap:
		for _, e := range v.Entries() {
			if isScalar(e.Value) {
				fmt.Fprintf(w, "%s%s: %s\n", indent, colorBold(e.Key), scalar(e.Value))
				continue
			}
			fmt.Fprintf(w, "%s%s:\n", indent, colorBold(e.Key))
			writeValue(w, e.Value, depth+1)
		}
	case packet.KindList:
		for _, item := range v.Items() {
			if isScalar(item) {
				fmt.Fprintf(w, "%s- %s\n", indent, scalar(item))
				continue
			}
			fmt.Fprintf(w, "%s-\n", indent)
			writeValue(w, item, depth+1)
		}
	default:
		fmt.Fprintf(w, "%s%s\n", indent, scalar(v))
	}
}

func isScalar(v packet.Value) bool {
	return v.Kind() != packet.KindMap && v.Kind() != packet.KindList
}

func scalar(v packet.Value) string {
	if b, ok := v.AsBytes(); ok && v.Kind() == packet.KindBytes {
		return FormatData(b)
	}
	if s, ok := v.AsString(); ok && v.Kind() == packet.KindString {
		return s
	}
	return v.String()
}

func formatTimestamp(ts float64) string {
	if math.IsNaN(ts) || math.IsInf(ts, 0) {
		return strings.Repeat("-", len("2006-01-02 15:04:05.000"))
	}
	sec, frac := math.Modf(ts)
	return time.Unix(int64(sec), int64(frac*1e9)).Format("2006-01-02 15:04:05.000")
}

// FormatData 可打印文本原样返回，其余显示为十六进制
func FormatData(data []byte) string {
	if utf8.Valid(data) && strings.IndexFunc(string(data), notPrintable) < 0 {
		return string(data)
	}
	var sb strings.Builder
	sb.WriteString("0x")
	for _, b := range data {
		fmt.Fprintf(&sb, "%02x", b)
	}
	return sb.String()
}

func notPrintable(r rune) bool {
	return !unicode.IsPrint(r) && r != '\t'
}

// Table 按列宽对齐的表格
type Table struct {
	headers []string
	rows    [][]string
	widths  []int
}

func NewTable(headers ...string) *Table {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len(h)
	}
	return &Table{headers: headers, widths: widths}
}

func (t *Table) AddRow(cols ...string) {
	for i, col := range cols {
		if i < len(t.widths) && len(col) > t.widths[i] {
			t.widths[i] = len(col)
		}
	}
	t.rows = append(t.rows, cols)
}

// Render 分隔线不超过终端宽度
func (o *Output) Render(t *Table) {
	for i, header := range t.headers {
		fmt.Fprintf(o.w, "%-*s  ", t.widths[i], colorBold(header))
	}
	fmt.Fprintln(o.w)

	total := 0
	for _, w := range t.widths {
		total += w + 2
	}
	fmt.Fprintln(o.w, strings.Repeat("─", min(total, o.width)))

	for _, row := range t.rows {
		for i, col := range row {
			if i < len(t.widths) {
				fmt.Fprintf(o.w, "%-*s  ", t.widths[i], col)
			}
		}
		fmt.Fprintln(o.w)
	}
}
