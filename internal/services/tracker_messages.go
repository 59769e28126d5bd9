package services

import (
	"fmt"
	"strings"
	"time"

	"shiftbot/internal/clock"
	"shiftbot/internal/models"
)

const (
	separator       = "━━━━━━━━━━━━━━━━━━━━"
	replyTimeLayout = "02/01 15:04:05"
	shiftDateLayout = "02-01-2006"
)

var markdownEscaper = strings.NewReplacer(
	`\`, `\\`, "*", `\*`, "_", `\_`, "`", "\\`", "[", `\[`, "]", `\]`,
	"~", `\~`, "#", `\#`, "<", `\<`, ">", `\>`, "|", `\|`,
)

// escapeMarkdown neutralises Markdown syntax in user-supplied text
func escapeMarkdown(text string) string {
	return markdownEscaper.Replace(text)
}

func userHeader(actor Actor) string {
	return fmt.Sprintf("👤 **User:** %s\n🆔 **User ID:** %d", escapeMarkdown(actor.DisplayName), actor.UserID)
}

func renderCheckIn(actor Actor, now time.Time, late time.Duration, shiftDate time.Time) string {
	lines := []string{
		userHeader(actor),
		separator,
		"✅ **You have successfully checked in. Have a productive day!** 🎉",
	}
	if late > 0 {
		lines = append(lines,
			fmt.Sprintf("❌ **Late Start:** Started at %s", now.Format(replyTimeLayout)),
			fmt.Sprintf("⏰ Late by %s", clock.Format(late)),
		)
	}
	lines = append(lines,
		separator,
		fmt.Sprintf("📅 Shift Date Recorded: %s", shiftDate.Format(shiftDateLayout)),
	)
	return strings.Join(lines, "\n")
}

func renderBreakStarted(actor Actor, rule models.BreakRule, now time.Time, ordinal int) string {
	lines := []string{
		userHeader(actor),
		separator,
		fmt.Sprintf("✅ **Check-In Succeeded:** %s - %s", rule.Label, now.Format(replyTimeLayout)),
		separator,
	}
	if rule.Limit > 0 {
		lines = append(lines,
			fmt.Sprintf("**Attention:** This is %s break #%d of %d today.", rule.Label, ordinal, rule.Quota),
			fmt.Sprintf("**Time Limit for This Activity:** %d minutes", int(rule.Limit.Minutes())),
		)
	}
	if rule.Window != nil {
		lines = append(lines, fmt.Sprintf("**Attention:** %s ends at %s.", rule.WindowName, rule.Window.End))
	}
	lines = append(lines, "**Tip:** Please check in Back to Seat after completing the activity.")
	return strings.Join(lines, "\n")
}

func renderBreakEnded(actor Actor, sess *models.Session, rule models.BreakRule, now time.Time, duration time.Duration, late string) string {
	lines := []string{
		userHeader(actor),
		separator,
		fmt.Sprintf("✅ **Back to Seat:** %s - %s", rule.Label, now.Format(replyTimeLayout)),
		separator,
		fmt.Sprintf("Time Used for This Activity: %s", clock.Format(duration)),
		fmt.Sprintf("Total %s time today: %s", rule.Label, clock.FormatDuration(sess.Tally(rule.Type).Seconds)),
		fmt.Sprintf("Total break time today: %s", clock.FormatDuration(sess.TotalBreakSeconds())),
		separator,
		fmt.Sprintf("Counts: 🍔 %d · 🚽 %d · 🛌 %d", sess.Eat.Count, sess.Toilet.Count, sess.Rest.Count),
	}
	if late != "" {
		lines = append(lines, separator, late)
	}
	return strings.Join(lines, "\n")
}

// checkoutReport carries the figures shown at checkout
type checkoutReport struct {
	Now        time.Time
	TotalWork  float64
	PureWork   float64
	TotalBreak float64
	Overtime   time.Duration
	Toilet     models.BreakTally
	Eat        models.BreakTally
	Rest       models.BreakTally
}

func renderCheckout(actor Actor, r checkoutReport) string {
	lines := []string{
		userHeader(actor),
		separator,
		fmt.Sprintf("✅ **Check-Out: Off Work** - %s", r.Now.Format(replyTimeLayout)),
		separator,
		fmt.Sprintf("⏱️ Total work time: %s", clock.FormatDuration(r.TotalWork)),
		fmt.Sprintf("⚙️ Pure work time: %s", clock.FormatDuration(r.PureWork)),
		fmt.Sprintf("⏸️ Total break time: %s", clock.FormatDuration(r.TotalBreak)),
	}
	if r.Overtime > 0 {
		lines = append(lines, fmt.Sprintf("🌙 **Overtime Worked:** %s", clock.Format(r.Overtime)))
	}
	lines = append(lines,
		separator,
		fmt.Sprintf("🍔 Eat count: %d times", r.Eat.Count),
		fmt.Sprintf("🕰️ Eat time: %s", clock.FormatDuration(r.Eat.Seconds)),
		fmt.Sprintf("🚻 Toilet count: %d times", r.Toilet.Count),
		fmt.Sprintf("🕰️ Toilet time: %s", clock.FormatDuration(r.Toilet.Seconds)),
		fmt.Sprintf("🛌 Rest count: %d times", r.Rest.Count),
		fmt.Sprintf("🕰️ Rest time: %s", clock.FormatDuration(r.Rest.Seconds)),
	)
	return strings.Join(lines, "\n")
}
