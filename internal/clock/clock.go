// internal/clock/clock.go
package clock

import (
	"encoding/json"
	"fmt"
	"time"
)

// Mode selects how a seat's time bank is charged when its turn ends.
type Mode string

const (
	// ModeOff disables timing entirely.
	ModeOff Mode = "off"
	// ModeIncrement is a game clock: main time drains and the increment is added back after every turn.
	ModeIncrement Mode = "increment"
	// ModeReserve is a per-move allowance backed by a banked reserve that only drains once the allowance is used up.
	ModeReserve Mode = "reserve"
)

// ParseMode accepts the canonical mode names as well as the lobby shorthands "game" and "move".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "off":
		return ModeOff, nil
	case "increment", "game":
		return ModeIncrement, nil
	case "reserve", "move":
		return ModeReserve, nil
	}
	return "", fmt.Errorf("unknown timer mode %q", s)
}

// Settings are the clock parameters for a whole match.
type Settings struct {
	Mode Mode
	// Main is the starting game time in increment mode, or the per-move allowance in reserve mode.
	Main      time.Duration
	Increment time.Duration
	Reserve   time.Duration
}

// Bank holds one seat's remaining time.
// TurnStart is zero whenever the seat is not on the clock.
type Bank struct {
	Mode      Mode
	Main      time.Duration
	Reserve   time.Duration
	TurnStart time.Time
}

// Running reports whether the bank is currently on the clock.
func (b Bank) Running() bool {
	return !b.TurnStart.IsZero()
}

// Expired reports whether a timed bank has nothing left to spend.
func (b Bank) Expired() bool {
	if b.Mode == ModeOff || b.Mode == "" {
		return false
	}
	return b.Main <= 0 && b.Reserve <= 0
}

type bankJSON struct {
	Timer     Mode   `json:"timer"`
	Time      *int64 `json:"time"`
	Reserve   int64  `json:"reserve"`
	TurnStart *int64 `json:"turnStart"`
}

// MarshalJSON renders durations as milliseconds; time is null when the clock is off.
func (b Bank) MarshalJSON() ([]byte, error) {
	out := bankJSON{Timer: b.Mode, Reserve: b.Reserve.Milliseconds()}
	if b.Mode != ModeOff && b.Mode != "" {
		ms := b.Main.Milliseconds()
		out.Time = &ms
	}
	if b.Running() {
		ms := b.TurnStart.UnixMilli()
		out.TurnStart = &ms
	}
	return json.Marshal(out)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (b *Bank) UnmarshalJSON(data []byte) error {
	var in bankJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	*b = Bank{Mode: in.Timer, Reserve: time.Duration(in.Reserve) * time.Millisecond}
	if in.Time != nil {
		b.Main = time.Duration(*in.Time) * time.Millisecond
	}
	if in.TurnStart != nil {
		b.TurnStart = time.UnixMilli(*in.TurnStart)
	}
	return nil
}

// Remaining is the time a seat has left.
type Remaining struct {
	Main      time.Duration
	Reserve   time.Duration
	Unlimited bool
}

// ApplyElapsed charges elapsed time against a bank.
//
//	increment: main = max(0, main - elapsed + increment)
//	reserve:   main absorbs elapsed first, the overflow drains reserve (floored at 0) and main becomes 0
//	off:       unchanged
func ApplyElapsed(b Bank, elapsed time.Duration, mode Mode, increment time.Duration) Bank {
	if elapsed < 0 {
		elapsed = 0
	}
	switch mode {
	case ModeIncrement:
		b.Main = max(0, b.Main-elapsed+increment)
	case ModeReserve:
		if elapsed <= b.Main {
			b.Main -= elapsed
		} else {
			b.Reserve = max(0, b.Reserve-(elapsed-b.Main))
			b.Main = 0
		}
	}
	return b
}

// Clock charges banks and arms the expiry callback for whichever seat is on the clock.
// It is not safe for concurrent use; the owning session serializes access.
type Clock struct {
	settings Settings
	now      func() time.Time
	timer    *time.Timer
}

// New creates a clock for the given settings.
func New(settings Settings) *Clock {
	if settings.Mode == "" {
		settings.Mode = ModeOff
	}
	return &Clock{settings: settings, now: time.Now}
}

// WithNow swaps the time source, mostly for tests.
func (c *Clock) WithNow(now func() time.Time) *Clock {
	c.now = now
	return c
}

func (c *Clock) Settings() Settings {
	return c.settings
}

// NewBank returns a full bank for the start of a match.
func (c *Clock) NewBank() Bank {
	return NewBank(c.settings)
}

// NewBank returns a full bank for the given settings. Reserve is always zero outside reserve mode.
func NewBank(s Settings) Bank {
	switch s.Mode {
	case ModeIncrement:
		return Bank{Mode: ModeIncrement, Main: s.Main}
	case ModeReserve:
		return Bank{Mode: ModeReserve, Main: s.Main, Reserve: s.Reserve}
	}
	return Bank{Mode: ModeOff}
}

// Start puts a bank on the clock and arms onExpire for the exact remaining budget.
func (c *Clock) Start(b *Bank, onExpire func()) {
	c.stopTimer()
	if c.settings.Mode == ModeOff {
		return
	}
	b.TurnStart = c.now()

	budget := b.Main
	if c.settings.Mode == ModeReserve {
		budget += b.Reserve
	}
	if onExpire != nil {
		c.timer = time.AfterFunc(max(0, budget), onExpire)
	}
}

// Stop takes a bank off the clock, charges the elapsed time and cancels the pending expiry.
// In reserve mode a bank with time left gets its per-move allowance back for
// the next turn; a flagged bank stays empty.
func (c *Clock) Stop(b *Bank) time.Duration {
	c.stopTimer()
	if c.settings.Mode == ModeOff || !b.Running() {
		b.TurnStart = time.Time{}
		return 0
	}
	elapsed := c.now().Sub(b.TurnStart)
	if elapsed < 0 {
		elapsed = 0
	}
	*b = ApplyElapsed(*b, elapsed, c.settings.Mode, c.settings.Increment)
	if c.settings.Mode == ModeReserve && (b.Main > 0 || b.Reserve > 0) {
		b.Main = c.settings.Main
	}
	b.TurnStart = time.Time{}
	return elapsed
}

// TimeRemaining recomputes a bank's time from its turn start without mutating it.
func (c *Clock) TimeRemaining(b Bank) Remaining {
	if c.settings.Mode == ModeOff {
		return Remaining{Unlimited: true}
	}
	live := c.Live(b)
	return Remaining{Main: live.Main, Reserve: live.Reserve}
}

// Live returns the bank as it stands right now. A running bank is charged up to now
// (without increment) and its turn start moved to now, so clients can keep counting down from it.
func (c *Clock) Live(b Bank) Bank {
	if c.settings.Mode == ModeOff || !b.Running() {
		return b
	}
	now := c.now()
	live := ApplyElapsed(b, now.Sub(b.TurnStart), c.settings.Mode, 0)
	live.TurnStart = now
	return live
}

// Cancel drops any pending expiry.
func (c *Clock) Cancel() {
	c.stopTimer()
}

func (c *Clock) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
