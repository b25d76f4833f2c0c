package plen

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseJoint(t *testing.T) {
	tests := []struct {
		input    string
		expected Joint
		errMsg   string
	}{
		{"left_shoulder_pitch", LeftShoulderPitch, ""},
		{"right_foot_roll", RightFootRoll, ""},
		{"0", LeftShoulderPitch, ""},
		{"14", RightShoulderRoll, ""},
		{"10", Joint(10), ""},
		{"23", Joint(23), ""},
		{"24", 0, "joint out of range"},
		{"-1", 0, "joint out of range"},
		{"Left_Shoulder_Pitch", 0, "unknown joint"},
		{"", 0, "unknown joint"},
	}

	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			j, err := ParseJoint(tc.input)
			if tc.errMsg != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.errMsg)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, j)
		})
	}
}

func TestJointString(t *testing.T) {
	assert.Equal(t, "left_knee_pitch", LeftKneePitch.String())
	assert.Equal(t, "right_thigh_yaw", RightThighYaw.String())
	assert.Equal(t, "11", Joint(11).String())

	for j, name := range jointNames {
		parsed, err := ParseJoint(name)
		require.NoError(t, err)
		assert.Equal(t, j, parsed)
	}
}

func TestJointSettingContains(t *testing.T) {
	s := DefaultJointSetting()
	assert.True(t, s.Contains(DefaultJointMin))
	assert.True(t, s.Contains(DefaultJointMax))
	assert.True(t, s.Contains(0))
	assert.False(t, s.Contains(DefaultJointMax+1))
	assert.False(t, s.Contains(DefaultJointMin-1))
}
