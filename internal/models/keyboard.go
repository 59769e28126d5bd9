package models

// Button labels shown on the reply keyboards
const (
	ButtonStartWork  = "🚀 Start Work"
	ButtonOffWork    = "👋 Off Work"
	ButtonToilet     = "🚽 Toilet"
	ButtonEat        = "🍔 Eat"
	ButtonRest       = "🛌 Rest"
	ButtonBackToSeat = "🏃 Back to Seat"
	ButtonConfirmYes = "✅ Yes"
	ButtonConfirmNo  = "❌ No"
)

// BreakButtons maps break types to their keyboard labels
var BreakButtons = map[BreakType]string{
	BreakToilet: ButtonToilet,
	BreakEat:    ButtonEat,
	BreakRest:   ButtonRest,
}

// OnBreakKeyboard is shown while a break is running
var OnBreakKeyboard = [][]string{{ButtonBackToSeat}}

// ConfirmKeyboard is shown while a checkout awaits confirmation
var ConfirmKeyboard = [][]string{{ButtonConfirmYes, ButtonConfirmNo}}

// MainKeyboard builds the idle keyboard for a session.
// Before work starts only Start Work is offered; afterwards each break whose
// quota is not used up plus Off Work, two buttons per row.
func MainKeyboard(s *Session, policy ShiftPolicy) [][]string {
	if s == nil || !s.WorkStarted {
		return [][]string{{ButtonStartWork}}
	}

	var buttons []string
	for _, b := range BreakTypes {
		rule, ok := policy.Rule(b)
		if !ok {
			continue
		}
		if s.Tally(b).Count < rule.Quota {
			buttons = append(buttons, BreakButtons[b])
		}
	}
	buttons = append(buttons, ButtonOffWork)

	var rows [][]string
	for i := 0; i < len(buttons); i += 2 {
		end := i + 2
		if end > len(buttons) {
			end = len(buttons)
		}
		rows = append(rows, buttons[i:end])
	}
	return rows
}
