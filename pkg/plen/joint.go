package plen

import (
	"fmt"
	"strconv"
)

// Joint identifies a servo output on the robot's control board.
type Joint int

// PLEN2 output map. Outputs 9-11 and 21-23 are not wired.
const (
	LeftShoulderPitch Joint = iota
	LeftThighYaw
	LeftShoulderRoll
	LeftElbowRoll
	LeftThighRoll
	LeftThighPitch
	LeftKneePitch
	LeftFootPitch
	LeftFootRoll
)

const (
	RightShoulderPitch Joint = iota + 12
	RightThighYaw
	RightShoulderRoll
	RightElbowRoll
	RightThighRoll
	RightThighPitch
	RightKneePitch
	RightFootPitch
	RightFootRoll
)

// JointOutputs is the number of outputs on the control board.
const JointOutputs = 24

// Angles are expressed in tenths of a degree.
const (
	DefaultJointMin  = -800
	DefaultJointMax  = 800
	DefaultJointHome = 0
)

var jointNames = map[Joint]string{
	LeftShoulderPitch:  "left_shoulder_pitch",
	LeftThighYaw:       "left_thigh_yaw",
	LeftShoulderRoll:   "left_shoulder_roll",
	LeftElbowRoll:      "left_elbow_roll",
	LeftThighRoll:      "left_thigh_roll",
	LeftThighPitch:     "left_thigh_pitch",
	LeftKneePitch:      "left_knee_pitch",
	LeftFootPitch:      "left_foot_pitch",
	LeftFootRoll:       "left_foot_roll",
	RightShoulderPitch: "right_shoulder_pitch",
	RightThighYaw:      "right_thigh_yaw",
	RightShoulderRoll:  "right_shoulder_roll",
	RightElbowRoll:     "right_elbow_roll",
	RightThighRoll:     "right_thigh_roll",
	RightThighPitch:    "right_thigh_pitch",
	RightKneePitch:     "right_knee_pitch",
	RightFootPitch:     "right_foot_pitch",
	RightFootRoll:      "right_foot_roll",
}

var jointsByName = func() map[string]Joint {
	m := make(map[string]Joint, len(jointNames))
	for j, name := range jointNames {
		m[name] = j
	}
	return m
}()

func (j Joint) String() string {
	if name, ok := jointNames[j]; ok {
		return name
	}
	return strconv.Itoa(int(j))
}

// Valid reports whether j is an output of the control board.
func (j Joint) Valid() bool {
	return j >= 0 && j < JointOutputs
}

// ParseJoint accepts either a joint name or a numeric output index.
func ParseJoint(s string) (Joint, error) {
	if j, ok := jointsByName[s]; ok {
		return j, nil
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("unknown joint: %q", s)
	}
	j := Joint(n)
	if !j.Valid() {
		return 0, fmt.Errorf("joint out of range: %d", n)
	}
	return j, nil
}

// JointSetting holds the calibration of one output.
type JointSetting struct {
	Min  int `json:"min"`
	Max  int `json:"max"`
	Home int `json:"home"`
}

// DefaultJointSetting returns the factory calibration of an output.
func DefaultJointSetting() JointSetting {
	return JointSetting{Min: DefaultJointMin, Max: DefaultJointMax, Home: DefaultJointHome}
}

// Contains reports whether value lies within the calibrated range.
func (s JointSetting) Contains(value int) bool {
	return value >= s.Min && value <= s.Max
}
