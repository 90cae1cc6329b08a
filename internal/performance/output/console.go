// Package output renders run summaries for humans (console) and machines
// (JSON).
package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/katunilya/surge/internal/performance/engine"
	"github.com/katunilya/surge/internal/performance/plan"
)

const (
	ruleWidth     = 56
	boxHorizontal = "━"
	checkMark     = "✓"
	interruptMark = "⚠"
	labelWidth    = 16
	subLabelWidth = 11
)

// ConsoleConfig contains configuration for Console.
type ConsoleConfig struct {
	Writer     io.Writer
	NoColor    bool
	ForceColor bool
}

// Console prints the run header and the end-of-run summary.
type Console struct {
	writer io.Writer
	colors *ColorScheme
	mu     sync.Mutex
}

// NewConsole creates a console writer. Colors are used only when the
// writer is a terminal, unless forced.
func NewConsole(config ConsoleConfig) *Console {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}

	colors := NoColorScheme()
	if useColor(config.Writer, config.NoColor, config.ForceColor) {
		colors = DefaultColorScheme()
	}

	return &Console{writer: config.Writer, colors: colors}
}

// PrintHeader prints what is about to run.
func (c *Console) PrintHeader(name, executor, url string, p plan.RampPlan) {
	c.mu.Lock()
	defer c.mu.Unlock()

	line := strings.Repeat(boxHorizontal, ruleWidth)
	c.writeln(c.colors.Title.Sprint(line))
	c.writeln(fmt.Sprintf("%s - Running [%s]", c.colors.Label.Sprint(name), executor))
	c.writeln(c.colors.Title.Sprint(line))
	c.field("Target", url)
	c.field("Duration", formatDuration(p.Total()))
	if p.Mode == plan.ModeArrivalRate {
		c.field("Planned", fmt.Sprintf("%s iterations", formatNumber(int64(p.Expected()+0.5))))
	}
	c.writeln("")
}

// PrintSummary prints the final run summary.
func (c *Console) PrintSummary(s *engine.Summary) {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := c.colors.Good.Sprint("Completed " + checkMark)
	if s.Interrupted {
		status = c.colors.Warn.Sprint("Interrupted " + interruptMark)
	}

	line := strings.Repeat(boxHorizontal, ruleWidth)
	c.writeln("")
	c.writeln(c.colors.Title.Sprint(line))
	c.writeln(fmt.Sprintf("%s - %s", c.colors.Label.Sprint(s.Name), status))
	c.writeln(c.colors.Title.Sprint(line))
	c.writeln("")

	c.field("Run ID", s.RunID)
	c.field("Executor", s.Executor)
	c.field("Target", s.URL)
	c.field("Duration", formatDuration(s.Duration))
	c.writeln("")

	c.printIterations(s)
	c.printLatency(s)
	c.printStatusCodes(s)
	c.printStages(s)
}

func (c *Console) printIterations(s *engine.Summary) {
	m := s.Metrics
	if m == nil {
		return
	}

	c.writeln(c.colors.Label.Sprint("Iterations:"))
	if s.Planned > 0 {
		c.subfield("Planned", formatNumber(int64(s.Planned+0.5)))
	}
	c.subfield("Started", formatNumber(s.Started))
	c.subfield("Completed", formatNumber(m.TotalIterations))

	successRate := 1.0
	if m.TotalIterations > 0 {
		successRate = float64(m.SuccessIterations) / float64(m.TotalIterations)
	}
	c.subfield("Succeeded", fmt.Sprintf("%s (%s)",
		formatNumber(m.SuccessIterations),
		c.colors.rate(1-successRate).Sprintf("%.1f%%", successRate*100)))

	failed := formatNumber(m.FailedIterations)
	if m.FailedIterations > 0 {
		failed = c.colors.rate(m.ErrorRate).Sprint(failed)
	}
	c.subfield("Failed", failed)
	for _, kind := range sortedKeys(m.ErrorKinds) {
		c.writeln(fmt.Sprintf("    %-*s %s", subLabelWidth-2, kind+":", formatNumber(m.ErrorKinds[kind])))
	}

	dropped := formatNumber(s.Dropped)
	if s.Dropped > 0 {
		dropped = c.colors.Warn.Sprintf("%s (maxVUs %d reached)", dropped, s.MaxVUs)
	}
	c.subfield("Dropped", dropped)
	c.subfield("Throughput", fmt.Sprintf("%.1f/s", m.RPS))
	if s.SteadyStateRPS > 0 {
		c.subfield("Steady", fmt.Sprintf("%.1f/s", s.SteadyStateRPS))
	}
	c.subfield("Data", formatBytes(m.TotalBytes))
	c.subfield("VUs", fmt.Sprintf("peak %d, allocated %d, max %d", s.PeakVUs, s.AllocatedVUs, s.MaxVUs))
	c.writeln("")
}

func (c *Console) printLatency(s *engine.Summary) {
	if s.Metrics == nil || s.Metrics.Latency.Count == 0 {
		return
	}

	l := s.Metrics.Latency
	c.writeln(c.colors.Label.Sprint("Latency Distribution:"))
	c.subfield("Min", formatDurationShort(l.Min))
	c.subfield("Mean", formatDurationShort(l.Mean))
	c.subfield("P50", formatDurationShort(l.P50))
	c.subfield("P90", formatDurationShort(l.P90))
	c.subfield("P95", formatDurationShort(l.P95))
	c.subfield("P99", formatDurationShort(l.P99))
	c.subfield("Max", formatDurationShort(l.Max))
	c.writeln("")
}

func (c *Console) printStatusCodes(s *engine.Summary) {
	if s.Metrics == nil || len(s.Metrics.StatusCodes) == 0 {
		return
	}

	codes := make([]int, 0, len(s.Metrics.StatusCodes))
	for code := range s.Metrics.StatusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)

	c.writeln(c.colors.Label.Sprint("Status Codes:"))
	for _, code := range codes {
		col := c.colors.Good
		switch {
		case code >= 500:
			col = c.colors.Bad
		case code >= 400:
			col = c.colors.Warn
		}
		c.writeln(fmt.Sprintf("  %s %s", col.Sprintf("%-*d", subLabelWidth, code), formatNumber(s.Metrics.StatusCodes[code])))
	}
	c.writeln("")
}

func (c *Console) printStages(s *engine.Summary) {
	if len(s.Stages) == 0 {
		return
	}

	c.writeln(c.colors.Label.Sprint("Stages:"))
	for i, st := range s.Stages {
		name := st.Name
		if name == "" {
			name = fmt.Sprintf("stage %d", i+1)
		}
		c.writeln(fmt.Sprintf("  %-*s %s %s → %s",
			subLabelWidth, name,
			c.colors.Dim.Sprintf("%-8s", formatDuration(st.Duration)),
			formatValue(st.From), formatValue(st.To)))
	}
	c.writeln("")
}

func (c *Console) field(label, value string) {
	c.writeln(fmt.Sprintf("%-*s %s", labelWidth-1, label+":", c.colors.Value.Sprint(value)))
}

func (c *Console) subfield(label, value string) {
	c.writeln(fmt.Sprintf("  %-*s %s", subLabelWidth, label+":", value))
}

func (c *Console) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

func sortedKeys(m map[string]int64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
}

// formatDurationShort formats a latency.
func formatDurationShort(d time.Duration) string {
	if d < time.Microsecond {
		return "0ms"
	}
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%.1fms", float64(d)/float64(time.Millisecond))
	}
	if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	if n < 0 {
		return "-" + formatNumber(-n)
	}
	str := fmt.Sprintf("%d", n)
	if len(str) <= 3 {
		return str
	}

	var result strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if result.Len() > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}

// formatBytes formats a byte count with binary units.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// formatValue prints whole plan targets without decimals.
func formatValue(v float64) string {
	if v == float64(int64(v)) {
		return fmt.Sprintf("%d", int64(v))
	}
	return fmt.Sprintf("%.2f", v)
}
