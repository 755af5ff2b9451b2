package ruleset

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jason-s-yu/gameroom/internal/clock"
)

// Settings are the options a host picks when creating a match.
// Time units follow the lobby forms: see each game's ClockSettings.
type Settings struct {
	Game      string  `json:"game" validate:"required"`
	Timer     string  `json:"timer" validate:"omitempty,oneof=off increment reserve game move"`
	Time      float64 `json:"time" validate:"gte=0"`
	Increment float64 `json:"increment" validate:"gte=0"`
	Reserve   float64 `json:"reserve" validate:"gte=0"`

	// Go picks the host's seat in get10.
	Go string `json:"go,omitempty" validate:"omitempty,oneof=first second random"`
	// Color picks the host's side in pushfight. White moves first.
	Color string `json:"color,omitempty" validate:"omitempty,oneof=white black random"`
	// Target is the winning score in cribbage.
	Target int `json:"target,omitempty" validate:"omitempty,oneof=61 121"`

	// Host is seated by InitialState and never serialized.
	Host Participant `json:"-"`
}

// Mode is the parsed timer mode; unknown values read as off and are caught by validation.
func (s Settings) Mode() clock.Mode {
	m, err := clock.ParseMode(s.Timer)
	if err != nil {
		return clock.ModeOff
	}
	return m
}

var validate = validator.New()

// checkStruct runs the struct tags on v and flattens failures into a ValidationError.
func checkStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return Invalid("invalid request: %v", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s is required", strings.ToLower(fe.Field())))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s must be one of [%s]", strings.ToLower(fe.Field()), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s=%s", strings.ToLower(fe.Field()), fe.Tag(), fe.Param()))
		}
	}
	return &ValidationError{Message: strings.Join(msgs, "; ")}
}

// decodeMove unmarshals a move payload into v and validates it.
func decodeMove(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return Invalid("missing move payload")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return Invalid("malformed move: %v", err)
	}
	return checkStruct(v)
}

// verifyTimer applies the minute-based limits shared by get10 and pushfight.
func verifyTimer(s Settings, minGameMinutes float64) error {
	switch s.Mode() {
	case clock.ModeIncrement:
		if s.Time < minGameMinutes {
			return Invalid("invalid game length - minimum is %g minutes", minGameMinutes)
		}
	case clock.ModeReserve:
		if s.Time < 1 {
			return Invalid("invalid move timer length - minimum is 1 minute")
		}
	}
	return nil
}

// minuteClock converts minutes for time and reserve and seconds for increment.
func minuteClock(s Settings) clock.Settings {
	cs := clock.Settings{Mode: s.Mode()}
	switch cs.Mode {
	case clock.ModeIncrement:
		cs.Main = minutes(s.Time)
		cs.Increment = seconds(s.Increment)
	case clock.ModeReserve:
		cs.Main = minutes(s.Time)
		cs.Reserve = minutes(s.Reserve)
	}
	return cs
}

func minutes(v float64) time.Duration {
	return time.Duration(v * float64(time.Minute))
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}
