package plen

import (
	"fmt"
)

const (
	MotionSlots     = 90 // Number of motion slots in the robot's EEPROM
	MaxFrames       = 20 // Maximum number of frames per motion
	MaxMotionName   = 20 // Maximum length of a motion name in bytes
	emptyMotionName = "Empty"
)

// Output sets one joint to a value within a frame.
type Output struct {
	Device string `json:"device"`
	Value  int    `json:"value"`
}

// Frame is a pose the robot reaches in TransitionTime milliseconds.
type Frame struct {
	TransitionTime int      `json:"transition_time_ms"`
	Outputs        []Output `json:"outputs"`
}

// Code is a control code attached to a motion, e.g. "loop" or "jump".
type Code struct {
	Func string `json:"func"`
	Args []int  `json:"args"`
}

// Motion is a named sequence of frames stored in a slot of the robot.
type Motion struct {
	Slot   int     `json:"slot"`
	Name   string  `json:"name"`
	Codes  []Code  `json:"codes"`
	Frames []Frame `json:"frames"`
}

// EmptyMotion returns the record that represents a deleted slot.
func EmptyMotion(slot int) Motion {
	return Motion{
		Slot:   slot,
		Name:   emptyMotionName,
		Codes:  []Code{},
		Frames: []Frame{},
	}
}

// IsEmpty reports whether m carries no frames.
func (m Motion) IsEmpty() bool {
	return len(m.Frames) == 0
}

// Transition reports whether the motion chains into another slot.
func (m Motion) Transition() bool {
	for _, c := range m.Codes {
		if c.Func == "jump" {
			return true
		}
	}
	return false
}

// ValidSlot reports whether slot addresses a motion slot of the robot.
func ValidSlot(slot int) bool {
	return slot >= 0 && slot < MotionSlots
}

// Validate checks the motion against the robot's storage limits.
func (m Motion) Validate() error {
	if !ValidSlot(m.Slot) {
		return fmt.Errorf("%w: %d", ErrInvalidSlot, m.Slot)
	}
	if len(m.Name) > MaxMotionName {
		return fmt.Errorf("motion name too long: %d bytes", len(m.Name))
	}
	if len(m.Frames) > MaxFrames {
		return fmt.Errorf("too many frames: %d", len(m.Frames))
	}

	for i, f := range m.Frames {
		if f.TransitionTime < 0 {
			return fmt.Errorf("frame %d: negative transition time", i)
		}
		for _, out := range f.Outputs {
			if _, err := ParseJoint(out.Device); err != nil {
				return fmt.Errorf("frame %d: %w", i, err)
			}
		}
	}

	for _, c := range m.Codes {
		switch c.Func {
		case "loop":
			if len(c.Args) != 3 {
				return fmt.Errorf("loop code needs 3 args, got %d", len(c.Args))
			}
		case "jump":
			if len(c.Args) != 1 || !ValidSlot(c.Args[0]) {
				return fmt.Errorf("jump code needs a valid slot")
			}
		default:
			return fmt.Errorf("unknown code: %q", c.Func)
		}
	}

	return nil
}

// Normalized returns a copy of m whose slices are never nil, so that a
// stored record never serializes as null.
func (m Motion) Normalized() Motion {
	codes := make([]Code, len(m.Codes))
	copy(codes, m.Codes)
	frames := make([]Frame, len(m.Frames))
	copy(frames, m.Frames)
	for i := range frames {
		if frames[i].Outputs == nil {
			frames[i].Outputs = []Output{}
		}
	}
	m.Codes = codes
	m.Frames = frames
	return m
}
