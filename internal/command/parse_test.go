package command

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		line string
		want []string
	}{
		{"single", "CONNECT", []string{"CONNECT"}},
		{"params", "SET_JOINT_ANGLE,3,90,10", []string{"SET_JOINT_ANGLE", "3", "90", "10"}},
		{"empty line", "", []string{}},
		{"empty tokens skipped", ",SET_JOINT_ANGLE,,3,90,,10,", []string{"SET_JOINT_ANGLE", "3", "90", "10"}},
		{"capped at ten", "A,1,2,3,4,5,6,7,8,9,10,11", []string{"A", "1", "2", "3", "4", "5", "6", "7", "8", "9"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokenize(tt.line, DefaultLimits())
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Tokenize(%q) mismatch (-want +got):\n%s", tt.line, diff)
			}
		})
	}
}

func TestTokenize_TruncatesLongTokens(t *testing.T) {
	long := strings.Repeat("x", 400)
	got := Tokenize("CMD,"+long, DefaultLimits())
	require.Len(t, got, 2)
	assert.Len(t, got[1], 254)
}

func TestTokenize_CustomLimits(t *testing.T) {
	got := Tokenize("a,bbbb,c,d", Limits{MaxTokens: 3, MaxTokenLen: 2})
	assert.Equal(t, []string{"a", "bb", "c"}, got)
}

func TestParse_SetJointAngle(t *testing.T) {
	cmd, err := Parse([]string{"SET_JOINT_ANGLE", "3", "90.5", "10"})
	require.NoError(t, err)
	assert.Equal(t, SetJointAngle, cmd.Kind)
	assert.Equal(t, 3, cmd.Channel)
	assert.Equal(t, []float64{90.5}, cmd.Angles)
	assert.Equal(t, 10.0, cmd.Speed)
	assert.Empty(t, cmd.Malformed)
}

func TestParse_SetAllJointAngles(t *testing.T) {
	cmd, err := Parse(strings.Split("SET_ALL_JOINT_ANGLES,0,30,60,90,120,150,180,5", ","))
	require.NoError(t, err)
	assert.Equal(t, SetAllJointAngles, cmd.Kind)
	assert.Equal(t, []float64{0, 30, 60, 90, 120, 150, 180}, cmd.Angles)
	assert.Equal(t, 5.0, cmd.Speed)
}

func TestParse_Arity(t *testing.T) {
	for _, line := range []string{
		"SET_JOINT_ANGLE,3,90",
		"SET_JOINT_ANGLE,3,90,10,1",
		"SET_JOINT_ANGLE",
		"SET_ALL_JOINT_ANGLES,0,30,60,90,120,150,180",
		"SET_ALL_JOINT_ANGLES,0,30,60,90,120,150,180,5,5",
	} {
		cmd, err := Parse(Tokenize(line, DefaultLimits()))
		assert.ErrorIs(t, err, ErrArity, line)
		assert.NotEqual(t, Unknown, cmd.Kind, line)
	}
}

func TestParse_AnyArityCommands(t *testing.T) {
	for _, line := range []string{"CONNECT", "CONNECT,foo,bar", "GET_JOINT_ANGLES,1", "DISCONNECT,x"} {
		_, err := Parse(Tokenize(line, DefaultLimits()))
		assert.NoError(t, err, line)
	}
}

func TestParse_Unknown(t *testing.T) {
	for _, line := range []string{"", "connect", "HELLO", " CONNECT", "CONNECT "} {
		cmd, err := Parse(Tokenize(line, DefaultLimits()))
		assert.ErrorIs(t, err, ErrUnknownCommand, "%q", line)
		assert.Equal(t, Unknown, cmd.Kind)
	}
}

func TestParse_MalformedNumbersReadAsZero(t *testing.T) {
	cmd, err := Parse([]string{"SET_JOINT_ANGLE", "abc", "9x", " 45 "})
	require.NoError(t, err)
	assert.Equal(t, 0, cmd.Channel)
	assert.Equal(t, []float64{0}, cmd.Angles)
	assert.Equal(t, 45.0, cmd.Speed)
	assert.Equal(t, []string{"abc", "9x"}, cmd.Malformed)
	assert.ErrorIs(t, cmd.CheckNumbers(), ErrNumber)
}

func TestParse_FractionalChannelReadsAsZero(t *testing.T) {
	cmd, err := Parse([]string{"SET_JOINT_ANGLE", "3.7", "90", "1"})
	require.NoError(t, err)
	assert.Equal(t, 0, cmd.Channel)
	assert.Equal(t, []string{"3.7"}, cmd.Malformed)
	assert.ErrorIs(t, cmd.CheckNumbers(), ErrNumber)

	cmd, err = Parse([]string{"SET_JOINT_ANGLE", "3", "90", "1"})
	require.NoError(t, err)
	assert.NoError(t, cmd.CheckNumbers())
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "SET_JOINT_ANGLE", SetJointAngle.String())
	assert.Equal(t, "UNKNOWN", Unknown.String())
}
