// Package integrity maintains a bounded suspicion score for an exam attempt
// from proctoring activity events and grading-time signals. The score is a
// weighted fold over per-kind counters, so replaying the ordered event
// history deterministically reproduces it.
package integrity

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
)

// ErrInvalidEventKind rejects events of an unrecognized kind; counters are
// left untouched.
var ErrInvalidEventKind = errors.New("integrity: invalid event kind")

// EventKind identifies one proctoring signal.
type EventKind string

const (
	EventTabSwitch        EventKind = "tab_switch"
	EventCopyPaste        EventKind = "copy_paste"
	EventFocusLost        EventKind = "focus_lost"
	EventRightClick       EventKind = "right_click"
	EventKeyboardShortcut EventKind = "keyboard_shortcut"
	EventIPChange         EventKind = "ip_change"
	EventCustomFlag       EventKind = "custom_flag"
)

// Valid reports whether k is a known event kind.
func (k EventKind) Valid() bool {
	switch k {
	case EventTabSwitch, EventCopyPaste, EventFocusLost, EventRightClick,
		EventKeyboardShortcut, EventIPChange, EventCustomFlag:
		return true
	}
	return false
}

// Counters accumulates raw per-kind event counts for one attempt.
type Counters struct {
	TabSwitches              int `json:"tab_switches"`
	CopyPasteAttempts        int `json:"copy_paste_attempts"`
	FocusLost                int `json:"focus_lost"`
	RightClickAttempts       int `json:"right_click_attempts"`
	KeyboardShortcutAttempts int `json:"keyboard_shortcut_attempts"`
	IPChanges                int `json:"ip_changes"`
	CustomFlags              int `json:"custom_flags"`
}

// Weights configures how counters convert into score points. Per-kind caps
// keep a single noisy signal from dominating the bounded total.
type Weights struct {
	TabSwitch          float64 `mapstructure:"tab_switch"`
	TabSwitchCap       float64 `mapstructure:"tab_switch_cap"`
	TabSwitchAllowance int     `mapstructure:"tab_switch_allowance"`
	CopyPaste          float64 `mapstructure:"copy_paste"`
	IPChange           float64 `mapstructure:"ip_change"`
	FocusLost          float64 `mapstructure:"focus_lost"`
	FocusLostCap       float64 `mapstructure:"focus_lost_cap"`
	RightClick         float64 `mapstructure:"right_click"`
	RightClickCap      float64 `mapstructure:"right_click_cap"`
	KeyboardShortcut   float64 `mapstructure:"keyboard_shortcut"`
	KeyboardShortcutCap float64 `mapstructure:"keyboard_shortcut_cap"`
	CustomFlag         float64 `mapstructure:"custom_flag"`
	FastCompletion     float64 `mapstructure:"fast_completion"`
	Gibberish          float64 `mapstructure:"gibberish"`
	AutoFlagThreshold  float64 `mapstructure:"auto_flag_threshold"`
}

// DefaultWeights returns the documented default weight table.
func DefaultWeights() Weights {
	return Weights{
		TabSwitch:           5,
		TabSwitchCap:        30,
		TabSwitchAllowance:  3,
		CopyPaste:           20,
		IPChange:            15,
		FocusLost:           1,
		FocusLostCap:        15,
		RightClick:          2,
		RightClickCap:       10,
		KeyboardShortcut:    2,
		KeyboardShortcutCap: 10,
		CustomFlag:          10,
		FastCompletion:      10,
		Gibberish:           15,
		AutoFlagThreshold:   70,
	}
}

// Validate rejects weight tables that would be fatal misconfigurations.
func (w Weights) Validate() error {
	for name, v := range map[string]float64{
		"tab_switch": w.TabSwitch, "tab_switch_cap": w.TabSwitchCap,
		"copy_paste": w.CopyPaste, "ip_change": w.IPChange,
		"focus_lost": w.FocusLost, "focus_lost_cap": w.FocusLostCap,
		"right_click": w.RightClick, "right_click_cap": w.RightClickCap,
		"keyboard_shortcut": w.KeyboardShortcut, "keyboard_shortcut_cap": w.KeyboardShortcutCap,
		"custom_flag": w.CustomFlag, "fast_completion": w.FastCompletion,
		"gibberish": w.Gibberish,
	} {
		if v < 0 {
			return fmt.Errorf("integrity: weight %s is negative", name)
		}
	}
	if w.TabSwitchAllowance < 0 {
		return fmt.Errorf("integrity: tab_switch_allowance is negative")
	}
	if w.AutoFlagThreshold <= 0 || w.AutoFlagThreshold > 100 {
		return fmt.Errorf("integrity: auto_flag_threshold %v outside (0,100]", w.AutoFlagThreshold)
	}
	return nil
}

// Signals are the grading-time inputs applied once at finalization.
type Signals struct {
	TimeTaken time.Duration
	Duration  time.Duration
	FreeText  []string
}

// Scorer computes suspicion scores from a fixed weight table.
type Scorer struct {
	w Weights
}

// NewScorer validates the weight table and builds a scorer.
func NewScorer(w Weights) (*Scorer, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{w: w}, nil
}

// AutoFlagThreshold is the score at which an attempt is flagged instead of
// graded.
func (s *Scorer) AutoFlagThreshold() float64 { return s.w.AutoFlagThreshold }

// Apply folds one event into the counters. Unknown kinds are a validation
// error and leave the counters unchanged.
func (s *Scorer) Apply(c Counters, kind EventKind) (Counters, error) {
	switch kind {
	case EventTabSwitch:
		c.TabSwitches++
	case EventCopyPaste:
		c.CopyPasteAttempts++
	case EventFocusLost:
		c.FocusLost++
	case EventRightClick:
		c.RightClickAttempts++
	case EventKeyboardShortcut:
		c.KeyboardShortcutAttempts++
	case EventIPChange:
		c.IPChanges++
	case EventCustomFlag:
		c.CustomFlags++
	default:
		return c, fmt.Errorf("%w: %q", ErrInvalidEventKind, kind)
	}
	return c, nil
}

// Replay folds an ordered event history into fresh counters, enabling
// deterministic recomputation for auditing.
func (s *Scorer) Replay(kinds []EventKind) (Counters, error) {
	var c Counters
	var err error
	for _, k := range kinds {
		if c, err = s.Apply(c, k); err != nil {
			return Counters{}, err
		}
	}
	return c, nil
}

// Score converts counters into the running suspicion score, clamped to
// [0,100].
func (s *Scorer) Score(c Counters) float64 {
	w := s.w
	var total float64

	excess := c.TabSwitches - w.TabSwitchAllowance
	if excess > 0 {
		total += math.Min(w.TabSwitchCap, float64(excess)*w.TabSwitch)
	}
	if c.CopyPasteAttempts > 0 {
		total += w.CopyPaste
	}
	if c.IPChanges > 0 {
		total += w.IPChange
	}
	total += math.Min(w.FocusLostCap, float64(c.FocusLost)*w.FocusLost)
	total += math.Min(w.RightClickCap, float64(c.RightClickAttempts)*w.RightClick)
	total += math.Min(w.KeyboardShortcutCap, float64(c.KeyboardShortcutAttempts)*w.KeyboardShortcut)
	total += float64(c.CustomFlags) * w.CustomFlag

	return clamp(total)
}

// Finalize adds the one-shot grading-time penalties to the streaming score
// and decides whether the attempt crosses the auto-flag threshold.
func (s *Scorer) Finalize(c Counters, sig Signals) (score float64, flagged bool) {
	total := s.Score(c)

	if sig.Duration > 0 && sig.TimeTaken > 0 && sig.TimeTaken < sig.Duration/10 {
		total += s.w.FastCompletion
	}
	for _, text := range sig.FreeText {
		if Gibberish(text) {
			total += s.w.Gibberish
			break
		}
	}

	score = clamp(total)
	return score, score >= s.w.AutoFlagThreshold
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}

// commonWords is a minimal recognition dictionary: real prose of any length
// almost always contains at least one of these.
var commonWords = map[string]struct{}{}

func init() {
	for _, w := range strings.Fields(`the be to of and a in that have i it for
		not on with he as you do at this but his by from they we say her she or
		an will my one all would there their what is are was were been being
		has had does did`) {
		commonWords[w] = struct{}{}
	}
}

var mashPatterns = []string{"asdf", "qwer", "zxcv", "hjkl", "uiop"}

// Gibberish reports whether text looks like random or mashed input rather
// than an attempted answer. Heuristics follow, in order: long repeated
// character runs, keyboard-mash substrings in short answers, implausible
// average word length, low alphabetic ratio, and the absence of any common
// dictionary word in a longer answer.
func Gibberish(text string) bool {
	text = strings.TrimSpace(text)
	if len(text) < 10 {
		return false
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return true
	}

	if hasCharRun(text, 5) {
		return true
	}

	low := strings.ToLower(text)
	if len(text) < 50 {
		for _, p := range mashPatterns {
			if strings.Contains(low, p) {
				return true
			}
		}
	}

	var letters, wordLen int
	for _, r := range text {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') {
			letters++
		}
	}
	for _, w := range words {
		wordLen += len(w)
	}
	avg := float64(wordLen) / float64(len(words))
	if avg > 15 || avg < 2 {
		return true
	}
	if float64(letters)/float64(len(text)) < 0.5 {
		return true
	}

	if len(words) > 10 {
		found := false
		for _, w := range words {
			if _, ok := commonWords[strings.ToLower(w)]; ok {
				found = true
				break
			}
		}
		if !found {
			return true
		}
	}
	return false
}

func hasCharRun(s string, n int) bool {
	run := 0
	var prev rune
	for i, r := range s {
		if i > 0 && r == prev {
			run++
			if run >= n {
				return true
			}
		} else {
			run = 1
		}
		prev = r
	}
	return false
}
