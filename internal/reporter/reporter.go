package reporter

import (
	"alpharius-go/internal/ledger"
	"alpharius-go/internal/models"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
)

const headerWidth = 80

// Header 返回 "== [ title ] ====..." 形式的 80 列标题
func Header(title string) string {
	left := fmt.Sprintf("== [ %s ] ", title)
	if n := headerWidth - len(left); n > 0 {
		return left + strings.Repeat("=", n)
	}
	return left
}

func newGrid() table.Writer {
	tw := table.NewWriter()
	style := table.StyleDefault
	style.Options.SeparateRows = true
	tw.SetStyle(style)
	return tw
}

// profitString 以百分比显示收益, 超过 10 倍时改用数值
func profitString(profit float64) string {
	if profit < 10 {
		return fmt.Sprintf("%+.2f%%", profit*100)
	}
	return fmt.Sprintf("%+.4g", profit)
}

func side(isLong bool) string {
	if isLong {
		return "long"
	}
	return "short"
}

func clock(t time.Time) string {
	return t.In(models.MarketLocation()).Format("15:04:05")
}

// DayLog 渲染一个交易日的成交, 持仓和收益; 当天没有成交也没有持仓时返回 false
func DayLog(r ledger.DayReport) (string, bool) {
	if !r.HasActivity() {
		return "", false
	}
	outputs := []string{Header(r.Day.Format("2006-01-02"))}

	if len(r.Transactions) > 0 {
		tw := newGrid()
		tw.AppendHeader(table.Row{"Symbol", "Processor", "Entry Time", "Exit Time", "Side", "Entry Price", "Exit Price", "Gain/Loss"})
		for _, t := range r.Transactions {
			tw.AppendRow(table.Row{
				t.Symbol, t.Processor, clock(t.EntryTime), clock(t.ExitTime), side(t.IsLong),
				fmt.Sprintf("%.4g", t.EntryPrice), fmt.Sprintf("%.4g", t.ExitPrice),
				fmt.Sprintf("%+.2f%%", t.GLPct*100),
			})
		}
		outputs = append(outputs, "[ Trades ]", tw.Render())
	}

	if len(r.Positions) > 0 {
		tw := newGrid()
		tw.AppendHeader(table.Row{"Symbol", "Qty", "Entry Price", "Current Price", "Current Value", "Daily Change", "Change"})
		for _, p := range r.Positions {
			row := table.Row{p.Symbol, fmt.Sprintf("%.2g", p.Qty), fmt.Sprintf("%.4g", p.EntryPrice), "", "", "", ""}
			if p.HasClose {
				row[3] = fmt.Sprintf("%.4g", p.Close)
				row[4] = fmt.Sprintf("%.2g", p.Close*p.Qty)
				row[6] = fmt.Sprintf("%+.2f%%", p.Change*100)
			}
			if p.HasDaily {
				row[5] = fmt.Sprintf("%+.2f%%", p.DailyChange*100)
			}
			tw.AppendRow(row)
		}
		outputs = append(outputs, "[ Positions ]", tw.Render())
	}

	tw := newGrid()
	tw.AppendRow(table.Row{"Total Gain/Loss", profitString(r.TotalPct), "Daily Gain/Loss", fmt.Sprintf("%+.2f%%", r.DailyPct*100)})
	outputs = append(outputs, "[ Stats ]", tw.Render())
	return strings.Join(outputs, "\n"), true
}

// SummaryInput 是回测汇总报告所需的数据
type SummaryInput struct {
	// MarketDates 是已经完成的交易日, DailyEquity 比它多一个初始值
	MarketDates  []time.Time
	DailyEquity  []float64
	Stats        ledger.Stats
	Transactions []models.Transaction
	OutputDir    string
}

// Summary 渲染回测汇总; 没有完成任何交易日时返回 false
func Summary(in SummaryInput) (string, bool) {
	dates := in.MarketDates
	if n := len(in.DailyEquity) - 1; n < len(dates) {
		if n < 0 {
			n = 0
		}
		dates = dates[:n]
	}
	if len(dates) == 0 {
		return "", false
	}
	days := float64(len(dates))
	outputs := []string{Header("Summary")}

	nTrades := in.Stats.NumWin + in.Stats.NumLose
	winRate := 0.0
	if nTrades > 0 {
		winRate = float64(in.Stats.NumWin) / float64(nTrades)
	}
	tw := newGrid()
	tw.AppendRows([]table.Row{
		{"Time Range", fmt.Sprintf("%s ~ %s", dates[0].Format("2006-01-02"), dates[len(dates)-1].Format("2006-01-02"))},
		{"Win Rate", fmt.Sprintf("%.2f%%", winRate*100)},
		{"Num of Trades", fmt.Sprintf("%d (%.2f per day)", nTrades, float64(nTrades)/days)},
		{"Output Dir", in.OutputDir},
	})
	outputs = append(outputs, "[ Basic Info ]", tw.Render())

	tw = newGrid()
	tw.AppendHeader(table.Row{"Processor", "Gain/Loss", "Win Rate", "Num of Trades"})
	for _, name := range in.Stats.ProcessorNames() {
		s := in.Stats.ByProcessor[name]
		n := s.NumWin + s.NumLose
		rate := float64(s.NumWin) / float64(n)
		tw.AppendRow(table.Row{
			name, profitString(s.Profit),
			fmt.Sprintf("%.2f%% ± %.2f%%", rate*100, BernoulliCI95(rate, n)*100),
			fmt.Sprintf("%d (%.2f per day)", n, float64(n)/days),
		})
	}
	outputs = append(outputs, "[ Processor Performance ]", tw.Render())

	sorted := make([]models.Transaction, len(in.Transactions))
	copy(sorted, in.Transactions)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].GLPct < sorted[j].GLPct })
	best := make([]models.Transaction, 0, 5)
	for i := len(sorted) - 1; i >= 0 && len(best) < 5; i-- {
		best = append(best, sorted[i])
	}
	worst := sorted[:min(5, len(sorted))]
	if text, ok := tradeTable(best, func(p float64) bool { return p > 0 }); ok {
		outputs = append(outputs, "[ Best Trades ]", text)
	}
	if text, ok := tradeTable(worst, func(p float64) bool { return p < 0 }); ok {
		outputs = append(outputs, "[ Worst Trades ]", text)
	}

	equity := in.DailyEquity[:len(dates)+1]
	drawdown, hi, li := Drawdown(equity)
	tw = newGrid()
	tw.AppendRows([]table.Row{
		{"Total Gain/Loss", profitString(equity[len(equity)-1]/equity[0] - 1)},
		{"Drawdown", fmt.Sprintf("%+.2f%%", drawdown*100)},
		{"Drawdown Start", dates[max(hi-1, 0)].Format("2006-01-02")},
		{"Drawdown End", dates[max(li-1, 0)].Format("2006-01-02")},
	})
	outputs = append(outputs, "[ Statistics ]", tw.Render())
	return strings.Join(outputs, "\n"), true
}

func tradeTable(txs []models.Transaction, keep func(float64) bool) (string, bool) {
	tw := newGrid()
	tw.AppendHeader(table.Row{"Symbol", "Processor", "Entry Date", "Entry Time", "Exit Time", "Side", "Gain/Loss"})
	rows := 0
	for _, t := range txs {
		if !keep(t.GLPct) {
			continue
		}
		tw.AppendRow(table.Row{
			t.Symbol, t.Processor, t.EntryTime.In(models.MarketLocation()).Format("2006-01-02"),
			clock(t.EntryTime), clock(t.ExitTime), side(t.IsLong), fmt.Sprintf("%+.2f%%", t.GLPct*100),
		})
		rows++
	}
	if rows == 0 {
		return "", false
	}
	return tw.Render(), true
}

// BernoulliCI95 返回成功率 p 在 n 次试验下的 95% 置信区间半宽
func BernoulliCI95(p float64, n int) float64 {
	if n <= 0 {
		return 0
	}
	return 1.96 * math.Sqrt(p*(1-p)/float64(n))
}

// Drawdown 返回最大回撤 (负数或 0) 以及回撤开始的峰值下标和结束的谷值下标
func Drawdown(values []float64) (float64, int, int) {
	if len(values) == 0 {
		return 0, 0, 0
	}
	peak, peakIndex := values[0], 0
	drawdown, hi, li := 0.0, 0, 0
	for i, v := range values {
		if v > peak {
			peak, peakIndex = v, i
		}
		if peak == 0 {
			continue
		}
		if d := v/peak - 1; d < drawdown {
			drawdown, hi, li = d, peakIndex, i
		}
	}
	return drawdown, hi, li
}

// Aggregations 按策略汇总实盘每日统计; 没有数据时返回 false
func Aggregations(aggs []models.Aggregation) (string, bool) {
	if len(aggs) == 0 {
		return "", false
	}
	type total struct {
		days, count, wins, slipCount int
		gl, glPct, slippage, slipPct float64
	}
	totals := make(map[string]*total)
	var names []string
	for _, a := range aggs {
		t, ok := totals[a.Processor]
		if !ok {
			t = &total{}
			totals[a.Processor] = t
			names = append(names, a.Processor)
		}
		t.days++
		t.count += a.Count
		t.wins += a.WinCount
		t.gl += a.GL
		t.glPct += a.AvgGLPct * float64(a.Count)
		t.slipCount += a.SlippageCount
		t.slippage += a.Slippage
		t.slipPct += a.AvgSlippagePct * float64(a.SlippageCount)
	}
	sort.Strings(names)

	tw := newGrid()
	tw.AppendRow(table.Row{"Processor", "Days", "Trades", "Win Rate", "Gain/Loss", "Avg Gain/Loss", "Slippage", "Avg Slippage"})
	for _, name := range names {
		t := totals[name]
		winRate, avgGL, avgSlip := 0.0, 0.0, 0.0
		if t.count > 0 {
			winRate = float64(t.wins) / float64(t.count)
			avgGL = t.glPct / float64(t.count)
		}
		if t.slipCount > 0 {
			avgSlip = t.slipPct / float64(t.slipCount)
		}
		tw.AppendRow(table.Row{name, t.days, t.count, fmt.Sprintf("%.2f%%", winRate*100),
			fmt.Sprintf("%+.2f", t.gl), profitString(avgGL), fmt.Sprintf("%+.2f", t.slippage), profitString(avgSlip)})
	}
	first, last := aggs[0].Date, aggs[0].Date
	for _, a := range aggs {
		if a.Date.Before(first) {
			first = a.Date
		}
		if a.Date.After(last) {
			last = a.Date
		}
	}
	title := fmt.Sprintf("Trading %s ~ %s", first.Format("2006-01-02"), last.Format("2006-01-02"))
	return Header(title) + "\n" + tw.Render(), true
}

// Stage 是一个阶段或一个策略的耗时
type Stage struct {
	Name string
	Cost time.Duration
}

// Profile 渲染各阶段和各策略的耗时占比
func Profile(total time.Duration, stages, processors []Stage) string {
	totalSec := math.Max(total.Seconds(), 1e-7)
	processSec := 0.0
	for _, p := range processors {
		processSec += p.Cost.Seconds()
	}
	processSec = math.Max(processSec, 1e-7)

	outputs := []string{Header("Profile")}
	tw := newGrid()
	tw.AppendRow(table.Row{"Stage", "Time Cost (s)", "Percentage"})
	tw.AppendRow(table.Row{"Total", fmt.Sprintf("%.0f", totalSec), "100%"})
	for _, s := range stages {
		tw.AppendRow(table.Row{s.Name, fmt.Sprintf("%.0f", s.Cost.Seconds()), fmt.Sprintf("%.0f%%", s.Cost.Seconds()/totalSec*100)})
	}
	tw.AppendRow(table.Row{"Data Process", fmt.Sprintf("%.0f", processSec), fmt.Sprintf("%.0f%%", processSec/totalSec*100)})
	outputs = append(outputs, tw.Render())

	tw = newGrid()
	tw.AppendRow(table.Row{"Processor", "Time Cost (s)", "Percentage"})
	tw.AppendRow(table.Row{"Total", fmt.Sprintf("%.0f", processSec), "100%"})
	for _, p := range processors {
		tw.AppendRow(table.Row{p.Name, fmt.Sprintf("%.0f", p.Cost.Seconds()), fmt.Sprintf("%.0f%%", p.Cost.Seconds()/processSec*100)})
	}
	outputs = append(outputs, tw.Render())
	return strings.Join(outputs, "\n")
}
