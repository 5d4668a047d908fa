package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mxjoly/bybit-trading-bot/internal/domain"
)

const (
	dayLabelLayout   = "02/01/2006"
	monthLabelLayout = "01/2006"
)

// PerformanceReporter tracks day and month P&L windows. Time advances
// with market data: windows roll over when the label derived from a
// candle's start time changes, not on wall clock.
type PerformanceReporter struct {
	notifier domain.Notifier
	repo     domain.TradeRepository
	logger   *zap.Logger

	mu             sync.Mutex
	currentDay     string
	currentMonth   string
	lastDayBalance float64
	lastMonthBal   float64
	currentBalance float64
}

func NewPerformanceReporter(notifier domain.Notifier, repo domain.TradeRepository, logger *zap.Logger) *PerformanceReporter {
	return &PerformanceReporter{
		notifier: notifier,
		repo:     repo,
		logger:   logger,
	}
}

// Reset initializes both windows from a balance snapshot, labelled by
// now. Called once when the bot starts.
func (r *PerformanceReporter) Reset(now time.Time, balance float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.currentDay = now.UTC().Format(dayLabelLayout)
	r.currentMonth = now.UTC().Format(monthLabelLayout)
	r.lastDayBalance = balance
	r.lastMonthBal = balance
	r.currentBalance = balance
}

// SetBalance updates the balance snapshot used for the next report.
func (r *PerformanceReporter) SetBalance(balance float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.currentBalance = balance
}

// Observe checks a candle's start time against the current day and
// month labels and emits a report for every window that just closed.
func (r *PerformanceReporter) Observe(ctx context.Context, candleStart time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	day := candleStart.UTC().Format(dayLabelLayout)
	if day != r.currentDay {
		r.sendDayResult(ctx)
		r.currentDay = day
		r.lastDayBalance = r.currentBalance
	}

	month := candleStart.UTC().Format(monthLabelLayout)
	if month != r.currentMonth {
		r.sendMonthResult(ctx)
		r.currentMonth = month
		r.lastMonthBal = r.currentBalance
	}
}

func (r *PerformanceReporter) sendDayResult(ctx context.Context) {
	performance := RoundDown((r.currentBalance-r.lastDayBalance)/r.lastDayBalance*100, 2)

	marker := "🔴"
	if performance >= 0 {
		marker = "🟢"
	}
	message := fmt.Sprintf("Day result of %s: %s %s", r.currentDay, formatPercent(performance, true), marker)

	r.emit(ctx, "day", r.currentDay, performance, message)
}

func (r *PerformanceReporter) sendMonthResult(ctx context.Context) {
	performance := RoundDown((r.currentBalance-r.lastMonthBal)/r.lastMonthBal*100, 2)

	message := fmt.Sprintf("<b>MONTH RESULT - %s</b>\n%s %s",
		r.currentMonth, formatPercent(performance, false), monthMarker(performance))

	r.emit(ctx, "month", r.currentMonth, performance, message)
}

func (r *PerformanceReporter) emit(ctx context.Context, period, label string, performance float64, message string) {
	if err := r.notifier.SendMessage(message); err != nil {
		r.logger.Warn("failed to send performance message", zap.String("period", period), zap.Error(err))
	}
	rep := &domain.PerformanceReport{
		Period:    period,
		Label:     label,
		Percent:   performance,
		Balance:   r.currentBalance,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.repo.SavePerformanceReport(ctx, rep); err != nil {
		r.logger.Warn("failed to journal performance report", zap.String("period", period), zap.Error(err))
	}
}

// formatPercent renders "+5%" / "-3.2%"; a positive day result is
// additionally wrapped in bold for the notification.
func formatPercent(performance float64, bold bool) string {
	if performance > 0 {
		if bold {
			return fmt.Sprintf("<b>+%v%%</b>", performance)
		}
		return fmt.Sprintf("+%v%%", performance)
	}
	return fmt.Sprintf("%v%%", performance)
}

// monthMarker maps a month performance to its qualitative emoji. The
// thresholds are purely cosmetic.
func monthMarker(performance float64) string {
	switch {
	case performance > 30:
		return "🤩"
	case performance > 20:
		return "🤑"
	case performance > 10:
		return "😍"
	case performance > 0:
		return "🥰"
	case performance > -10:
		return "😢"
	case performance > -20:
		return "😰"
	default:
		return "😭"
	}
}
