// Package automation talks to the room-power automation system without
// assuming it is present.
package automation

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Default timings used when neither the component nor local config supply one.
const (
	DefaultWarmup   = 10 * time.Second
	DefaultCooldown = 5 * time.Second
)

// Strategy names, in the order they are attempted.
const (
	StrategyComponent  = "component"
	StrategyLocal      = "local"
	StrategyController = "controller"
)

var (
	// ErrAbsent indicates the collaborator for a strategy is not configured.
	ErrAbsent = errors.New("collaborator absent")

	// ErrVerifyFailed indicates the power switch did not read back as written.
	ErrVerifyFailed = errors.New("power read-back mismatch")
)

// PowerSwitch is a boolean power property that can be read back.
type PowerSwitch interface {
	SetPower(on bool) error
	Power() (bool, error)
}

// TimingSource exposes warm-up and cool-down durations in seconds.
type TimingSource interface {
	WarmupSeconds() (float64, error)
	CooldownSeconds() (float64, error)
}

// Controller is the automation-controller object of last resort.
type Controller interface {
	Power(on bool) (bool, error)
}

// Recorder receives the outcome of every power call.
type Recorder interface {
	RecordPower(on bool, res Result)
}

// Result is the outcome of a power call.
type Result struct {
	OK        bool     `json:"ok"`
	Strategy  string   `json:"strategy,omitempty"`
	Attempted []string `json:"attempted"`
}

// Options configures a Bridge. Any collaborator may be nil.
type Options struct {
	Component  PowerSwitch
	Timing     TimingSource
	Local      PowerSwitch
	Controller Controller
	Recorder   Recorder

	// LocalWarmup and LocalCooldown are the locally configured timings;
	// zero means not configured.
	LocalWarmup   time.Duration
	LocalCooldown time.Duration
}

// Bridge commands room power through an ordered list of strategies.
type Bridge struct {
	opts Options
}

// NewBridge creates a bridge.
func NewBridge(opts Options) *Bridge {
	return &Bridge{opts: opts}
}

// SetController installs the controller strategy after construction.
// The script runtime is loaded after the bridge exists.
func (b *Bridge) SetController(c Controller) {
	b.opts.Controller = c
}

// PowerOn switches room power on.
func (b *Bridge) PowerOn() Result {
	return b.power(true)
}

// PowerOff switches room power off.
func (b *Bridge) PowerOff() Result {
	return b.power(false)
}

type strategy struct {
	name string
	run  func(on bool) error
}

func (b *Bridge) strategies() []strategy {
	return []strategy{
		{StrategyComponent, func(on bool) error { return switchAndVerify(b.opts.Component, on) }},
		{StrategyLocal, func(on bool) error { return switchAndVerify(b.opts.Local, on) }},
		{StrategyController, b.callController},
	}
}

func (b *Bridge) power(on bool) Result {
	var res Result
	var errs []string

	for _, s := range b.strategies() {
		res.Attempted = append(res.Attempted, s.name)
		err := safeRun(s.run, on)
		if err == nil {
			res.OK = true
			res.Strategy = s.name
			break
		}
		errs = append(errs, s.name+": "+err.Error())
	}

	if res.OK {
		log.Info().
			Bool("on", on).
			Str("strategy", res.Strategy).
			Strs("attempted", res.Attempted).
			Msg("Room power commanded")
	} else {
		log.Warn().
			Bool("on", on).
			Strs("attempted", res.Attempted).
			Str("errors", strings.Join(errs, "; ")).
			Msg("All room power strategies failed")
	}

	if b.opts.Recorder != nil {
		b.opts.Recorder.RecordPower(on, res)
	}
	return res
}

func switchAndVerify(sw PowerSwitch, on bool) error {
	if sw == nil {
		return ErrAbsent
	}
	if err := sw.SetPower(on); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	got, err := sw.Power()
	if err != nil {
		return fmt.Errorf("read-back: %w", err)
	}
	if got != on {
		return fmt.Errorf("%w: wrote %t, read %t", ErrVerifyFailed, on, got)
	}
	return nil
}

func (b *Bridge) callController(on bool) error {
	if b.opts.Controller == nil {
		return ErrAbsent
	}
	ok, err := b.opts.Controller.Power(on)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("controller reported failure")
	}
	return nil
}

// safeRun converts a panicking collaborator into an error.
func safeRun(fn func(bool) error, on bool) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(on)
}

// Timing returns the warm-up (poweringOn) or cool-down duration.
func (b *Bridge) Timing(poweringOn bool) time.Duration {
	if d, err := b.componentTiming(poweringOn); err == nil {
		return d
	} else if !errors.Is(err, ErrAbsent) {
		log.Debug().Err(err).Bool("on", poweringOn).Msg("Component timing unavailable, using fallback")
	}

	local, def := b.opts.LocalCooldown, DefaultCooldown
	if poweringOn {
		local, def = b.opts.LocalWarmup, DefaultWarmup
	}
	if local > 0 {
		return local
	}
	return def
}

func (b *Bridge) componentTiming(poweringOn bool) (d time.Duration, err error) {
	if b.opts.Timing == nil {
		return 0, ErrAbsent
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()

	var secs float64
	if poweringOn {
		secs, err = b.opts.Timing.WarmupSeconds()
	} else {
		secs, err = b.opts.Timing.CooldownSeconds()
	}
	if err != nil {
		return 0, err
	}
	if math.IsNaN(secs) || math.IsInf(secs, 0) || secs <= 0 {
		return 0, fmt.Errorf("invalid timing %v", secs)
	}
	return time.Duration(secs * float64(time.Second)), nil
}
