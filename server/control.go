package main

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/pkg/errors"
)

// ControlKind tags which interactive control a descriptor reconstructs.
type ControlKind string

const (
	// ControlButton is the single-URL "View Preview" button.
	ControlButton ControlKind = "button"
	// ControlMenu is the multi-URL select menu.
	ControlMenu ControlKind = "menu"
)

// maxMenuOptions is the platform limit on select menu entries.
const maxMenuOptions = 25

var controlPattern = regexp.MustCompile(`^(button|menu):channel:([a-zA-Z0-9_-]+)message:([a-zA-Z0-9_-]+)timestamp:([0-9]+)$`)

// ControlDescriptor identifies the user message an interactive control
// belongs to. It round-trips through an opaque string carried in the
// control's integration context, so controls survive a process restart and
// can re-resolve their URL list from the original message.
type ControlDescriptor struct {
	Kind      ControlKind
	ChannelID string
	MessageID string
	Timestamp int64
}

// String serializes the descriptor into its wire format.
func (d ControlDescriptor) String() string {
	return fmt.Sprintf("%s:channel:%smessage:%stimestamp:%d", d.Kind, d.ChannelID, d.MessageID, d.Timestamp)
}

// ParseControlDescriptor reconstructs a descriptor from its wire format.
func ParseControlDescriptor(raw string) (ControlDescriptor, error) {
	match := controlPattern.FindStringSubmatch(raw)
	if match == nil {
		return ControlDescriptor{}, errors.Errorf("malformed control descriptor: %q", raw)
	}

	timestamp, err := strconv.ParseInt(match[4], 10, 64)
	if err != nil {
		return ControlDescriptor{}, errors.Wrapf(err, "malformed control timestamp: %q", raw)
	}

	return ControlDescriptor{
		Kind:      ControlKind(match[1]),
		ChannelID: match[2],
		MessageID: match[3],
		Timestamp: timestamp,
	}, nil
}
