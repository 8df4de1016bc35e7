package switcher

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// protocol issues a family-specific route write and verifies it.
type protocol interface {
	switchTo(input int) error
}

// numericProtocol writes the index as a number and reads it back.
type numericProtocol struct {
	dev NumericRouter
}

func (p numericProtocol) switchTo(input int) error {
	if err := p.dev.SetInputIndex(input); err != nil {
		return fmt.Errorf("numeric write: %w", err)
	}
	got, err := p.dev.InputIndex()
	if err != nil {
		return fmt.Errorf("numeric read-back: %w", err)
	}
	if got != input {
		return fmt.Errorf("%w: wrote %d, read %d", ErrVerifyFailed, input, got)
	}
	return nil
}

// stringProtocol writes the index as a string and compares the string read-back.
type stringProtocol struct {
	dev StringRouter
}

func (p stringProtocol) switchTo(input int) error {
	want := strconv.Itoa(input)
	if err := p.dev.SetInputString(want); err != nil {
		return fmt.Errorf("string write: %w", err)
	}
	got, err := p.dev.InputString()
	if err != nil {
		return fmt.Errorf("string read-back: %w", err)
	}
	if strings.TrimSpace(got) != want {
		return fmt.Errorf("%w: wrote %q, read %q", ErrVerifyFailed, want, got)
	}
	return nil
}

// genericProtocol tries the numeric encoding first, then the string one.
// Either handle may be nil when the device lacks that capability.
type genericProtocol struct {
	num NumericRouter
	str StringRouter
}

func (p genericProtocol) switchTo(input int) error {
	var errs []error
	if p.num != nil {
		err := numericProtocol{dev: p.num}.switchTo(input)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	if p.str != nil {
		err := stringProtocol{dev: p.str}.switchTo(input)
		if err == nil {
			return nil
		}
		errs = append(errs, err)
	}
	if len(errs) == 0 {
		return ErrUnsupported
	}
	return errors.Join(errs...)
}
