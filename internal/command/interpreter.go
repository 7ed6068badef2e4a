package command

import (
	"errors"
	"strconv"
	"strings"

	"github.com/tagurobo/servod/internal/actuator"
	"github.com/tagurobo/servod/internal/monitoring"
)

// Reply tokens.
const (
	ReplyOK = "OK"
	ReplyNG = "NG"
)

// Options configures an Interpreter.
type Options struct {
	Limits Limits
	// StrictNumbers replies NG when a numeric token is malformed instead of
	// reading it as 0.
	StrictNumbers bool
}

// Interpreter executes command lines against an actuator bank. It keeps no
// state between lines.
type Interpreter struct {
	bank   *actuator.Bank
	limits Limits
	strict bool
}

// New returns an Interpreter driving bank.
func New(bank *actuator.Bank, opts Options) *Interpreter {
	return &Interpreter{
		bank:   bank,
		limits: opts.Limits.withDefaults(),
		strict: opts.StrictNumbers,
	}
}

// Limits returns the tokenisation limits in effect.
func (in *Interpreter) Limits() Limits {
	return in.limits
}

// Handle parses and executes one command line. ok is false when the line
// produces no reply.
func (in *Interpreter) Handle(line string) (reply string, ok bool) {
	cmd, err := Parse(Tokenize(line, in.limits))
	switch {
	case errors.Is(err, ErrUnknownCommand):
		monitoring.Logf("Unknown Command (%s)", line)
		return "", false
	case errors.Is(err, ErrArity):
		monitoring.Logf("Invalid Parameters: %v", err)
		return ReplyNG, true
	}
	reply = in.Execute(cmd)
	if len(reply) > in.limits.MaxReplyLen {
		reply = reply[:in.limits.MaxReplyLen]
	}
	return reply, true
}

// Execute runs an already parsed, known command and returns its reply.
func (in *Interpreter) Execute(cmd Command) string {
	if err := cmd.CheckNumbers(); err != nil {
		monitoring.Logf("%v", err)
		if in.strict && errors.Is(err, ErrNumber) {
			return ReplyNG
		}
	}

	switch cmd.Kind {
	case Connect:
		monitoring.Logf("Connected!")
		return ReplyOK

	case SetJointAngle:
		monitoring.Logf("ServoId=%d Angle=%f Speed=%f", cmd.Channel, cmd.Angles[0], cmd.Speed)
		if err := in.bank.SetAngle(cmd.Channel, cmd.Angles[0]); err != nil {
			monitoring.Logf("SET_JOINT_ANGLE rejected: %v", err)
			return ReplyNG
		}
		return ReplyOK

	case SetAllJointAngles:
		for i, a := range cmd.Angles {
			monitoring.Logf("Servo(%d)=%f [Degree]", i, a)
		}
		monitoring.Logf("Speed=%f", cmd.Speed)
		if err := in.bank.SetAngles(cmd.Angles); err != nil {
			monitoring.Logf("SET_ALL_JOINT_ANGLES rejected: %v", err)
			return ReplyNG
		}
		return ReplyOK

	case GetJointAngles:
		angles, err := in.bank.Angles(NumJoints)
		if err != nil {
			monitoring.Logf("GET_JOINT_ANGLES failed: %v", err)
			return ReplyNG
		}
		return FormatAngles(angles)

	case Disconnect:
		return ReplyOK
	}
	return ReplyNG
}

// FormatAngles joins angles with two decimals and no trailing delimiter.
func FormatAngles(angles []float64) string {
	parts := make([]string, len(angles))
	for i, a := range angles {
		parts[i] = strconv.FormatFloat(a, 'f', 2, 64)
	}
	return strings.Join(parts, Delimiter)
}
