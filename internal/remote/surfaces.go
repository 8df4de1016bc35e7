package remote

import (
	"encoding/json"
	"strconv"

	"github.com/rs/zerolog/log"
)

type visibilityPayload struct {
	Visible    bool   `json:"visible"`
	Transition string `json:"transition,omitempty"`
}

// Surface publishes the panel's visual, button and progress state as
// retained messages for the panel runtime.
type Surface struct {
	pub    Publisher
	topics Topics
}

// NewSurface creates a surface publishing through pub.
func NewSurface(pub Publisher, topics Topics) *Surface {
	return &Surface{pub: pub, topics: topics}
}

// SetLayerVisible publishes the visibility of one element.
func (s *Surface) SetLayerVisible(page, name string, visible bool, transition string) error {
	payload, err := json.Marshal(visibilityPayload{Visible: visible, Transition: transition})
	if err != nil {
		return err
	}
	return s.pub.Publish(s.topics.Layer(page, name), payload, true)
}

// SetPressed publishes the interlock state of a button.
func (s *Surface) SetPressed(group string, index int, pressed bool) error {
	return s.pub.Publish(s.topics.ButtonPressed(group, index), []byte(strconv.FormatBool(pressed)), true)
}

// SetProgress publishes the progress value.
func (s *Surface) SetProgress(value int) error {
	return s.pub.Publish(s.topics.ProgressValue(), []byte(strconv.Itoa(value)), true)
}

// SetLabel publishes the progress label.
func (s *Surface) SetLabel(label string) error {
	return s.pub.Publish(s.topics.ProgressLabel(), []byte(label), true)
}

// LogSurface stands in for the panel runtime when no broker is configured.
type LogSurface struct{}

func (LogSurface) SetLayerVisible(page, name string, visible bool, transition string) error {
	log.Debug().Str("page", page).Str("element", name).Bool("visible", visible).Str("transition", transition).Msg("Layer visibility")
	return nil
}

func (LogSurface) SetPressed(group string, index int, pressed bool) error {
	log.Debug().Str("group", group).Int("button", index).Bool("pressed", pressed).Msg("Button state")
	return nil
}

func (LogSurface) SetProgress(value int) error {
	log.Debug().Int("progress", value).Msg("Progress")
	return nil
}

func (LogSurface) SetLabel(label string) error {
	log.Trace().Str("label", label).Msg("Progress label")
	return nil
}
