// Package dtmf interprets keypad digits as a deterministic menu path that
// short-circuits the voice pipeline: when a digit selects an action, the next
// prompt is chosen directly instead of invoking transcription and dialogue
// for that turn.
package dtmf

// Action enumerates the menu outcomes.
type Action int

const (
	// ActionNone means the digit was ignored (menu not active or unmapped).
	ActionNone Action = iota

	// ActionBookAppointment starts the appointment flow.
	ActionBookAppointment

	// ActionBusinessInfo speaks the configured business description.
	ActionBusinessInfo

	// ActionTransfer asks for a human transfer.
	ActionTransfer

	// ActionRepeatMenu re-reads the menu prompt.
	ActionRepeatMenu
)

// Context is the slice of call state the menu needs to decide whether it is
// active. It is read-only for the handler; updates travel back in Outcome.
type Context struct {
	// TurnCount is the number of completed conversation turns in the call.
	TurnCount int

	// MenuChoice is the digit previously selected, or zero when none.
	MenuChoice rune
}

// Outcome is the result of handling one digit.
type Outcome struct {
	// Action selected by the digit.
	Action Action

	// Message is the prompt to synthesise for this turn. Empty for ActionNone.
	Message string

	// MenuChoice, when non-zero, must be recorded in the call context so the
	// menu stops being offered.
	MenuChoice rune
}

// Config holds the spoken prompts. Zero-value fields fall back to the
// built-in Hebrew defaults.
type Config struct {
	MenuPrompt      string
	BookingPrompt   string
	BusinessInfo    string
	TransferMessage string
}

// Default Hebrew prompts.
const (
	defaultMenuPrompt      = "לתיאום פגישה הקישו 1, למידע על העסק הקישו 2, למעבר לנציג הקישו 3, לחזרה על התפריט הקישו 9."
	defaultBookingPrompt   = "נשמח לתאם פגישה. באיזה יום ושעה נוח לכם?"
	defaultBusinessInfo    = "אנחנו משרד תיווך המתמחה בנכסים באזור. איך אפשר לעזור?"
	defaultTransferMessage = "מעביר אתכם לנציג, אנא המתינו."
)

// Menu is a deterministic DTMF menu. Safe for concurrent use; it holds no
// per-call state.
type Menu struct {
	cfg Config
}

// New creates a Menu, filling empty prompts with the defaults.
func New(cfg Config) *Menu {
	if cfg.MenuPrompt == "" {
		cfg.MenuPrompt = defaultMenuPrompt
	}
	if cfg.BookingPrompt == "" {
		cfg.BookingPrompt = defaultBookingPrompt
	}
	if cfg.BusinessInfo == "" {
		cfg.BusinessInfo = defaultBusinessInfo
	}
	if cfg.TransferMessage == "" {
		cfg.TransferMessage = defaultTransferMessage
	}
	return &Menu{cfg: cfg}
}

// Prompt returns the menu prompt text, for the greeting turn.
func (m *Menu) Prompt() string { return m.cfg.MenuPrompt }

// ShouldOffer reports whether the menu is active for a call: only before any
// conversation turn exists and before an explicit choice has been recorded.
// Once the caller starts talking, voice wins and digits are ignored.
func (m *Menu) ShouldOffer(ctx Context) bool {
	return ctx.TurnCount == 0 && ctx.MenuChoice == 0
}

// Handle maps one digit to its outcome. Digits outside the menu, or digits
// arriving when the menu is not active, produce ActionNone.
func (m *Menu) Handle(digit rune, ctx Context) Outcome {
	if !m.ShouldOffer(ctx) && digit != '9' && digit != '0' {
		return Outcome{Action: ActionNone}
	}
	switch digit {
	case '1':
		return Outcome{Action: ActionBookAppointment, Message: m.cfg.BookingPrompt, MenuChoice: digit}
	case '2':
		return Outcome{Action: ActionBusinessInfo, Message: m.cfg.BusinessInfo, MenuChoice: digit}
	case '3':
		return Outcome{Action: ActionTransfer, Message: m.cfg.TransferMessage, MenuChoice: digit}
	case '0', '9':
		if ctx.MenuChoice != 0 || ctx.TurnCount > 0 {
			return Outcome{Action: ActionNone}
		}
		return Outcome{Action: ActionRepeatMenu, Message: m.cfg.MenuPrompt}
	default:
		return Outcome{Action: ActionNone}
	}
}
