package command

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind identifies a command.
type Kind int

const (
	Unknown Kind = iota
	Connect
	SetJointAngle
	SetAllJointAngles
	GetJointAngles
	Disconnect
)

var kindNames = map[string]Kind{
	"CONNECT":              Connect,
	"SET_JOINT_ANGLE":      SetJointAngle,
	"SET_ALL_JOINT_ANGLES": SetAllJointAngles,
	"GET_JOINT_ANGLES":     GetJointAngles,
	"DISCONNECT":           Disconnect,
}

func (k Kind) String() string {
	for name, v := range kindNames {
		if v == k {
			return name
		}
	}
	return "UNKNOWN"
}

// NumJoints is the number of channels addressed by the *_JOINT_ANGLES commands.
const NumJoints = 7

// Required arity, command token included.
const (
	setJointAngleArity     = 4
	setAllJointAnglesArity = NumJoints + 2
)

// Delimiter separates tokens on a command line.
const Delimiter = ","

var (
	// ErrUnknownCommand is returned for a command name outside the table.
	ErrUnknownCommand = errors.New("unknown command")
	// ErrArity is returned when a known command has the wrong token count.
	ErrArity = errors.New("invalid parameters")
	// ErrNumber is returned by Command.CheckNumbers when a numeric token was
	// malformed and read as 0.
	ErrNumber = errors.New("malformed number")
)

// Limits bounds tokenisation and replies.
type Limits struct {
	MaxTokens   int `json:"max_tokens" yaml:"max_tokens"`
	MaxTokenLen int `json:"max_token_len" yaml:"max_token_len"`
	MaxReplyLen int `json:"max_reply_len" yaml:"max_reply_len"`
}

// DefaultLimits returns ten tokens of 254 bytes and a 255 byte reply.
func DefaultLimits() Limits {
	return Limits{MaxTokens: 10, MaxTokenLen: 254, MaxReplyLen: 255}
}

func (l Limits) withDefaults() Limits {
	d := DefaultLimits()
	if l.MaxTokens <= 0 {
		l.MaxTokens = d.MaxTokens
	}
	if l.MaxTokenLen <= 0 {
		l.MaxTokenLen = d.MaxTokenLen
	}
	if l.MaxReplyLen <= 0 {
		l.MaxReplyLen = d.MaxReplyLen
	}
	return l
}

// Tokenize splits line on the delimiter. Empty tokens are skipped, tokens
// past lim.MaxTokens are dropped and long tokens are cut to lim.MaxTokenLen.
func Tokenize(line string, lim Limits) []string {
	lim = lim.withDefaults()
	tokens := make([]string, 0, lim.MaxTokens)
	for _, tok := range strings.Split(line, Delimiter) {
		if tok == "" {
			continue
		}
		if len(tok) > lim.MaxTokenLen {
			tok = tok[:lim.MaxTokenLen]
		}
		tokens = append(tokens, tok)
		if len(tokens) == lim.MaxTokens {
			break
		}
	}
	return tokens
}

// Command is one parsed command line.
type Command struct {
	Kind  Kind
	Name  string
	Arity int

	Channel int
	Angles  []float64
	Speed   float64

	// Malformed lists numeric tokens that were read as 0.
	Malformed []string
}

// Parse builds a Command from tokens. It returns ErrUnknownCommand or
// ErrArity; the returned Command carries Kind and Name in both cases.
func Parse(tokens []string) (Command, error) {
	cmd := Command{Arity: len(tokens)}
	if len(tokens) > 0 {
		cmd.Name = tokens[0]
	}
	kind, ok := kindNames[cmd.Name]
	if !ok {
		return cmd, fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Name)
	}
	cmd.Kind = kind

	switch kind {
	case SetJointAngle:
		if cmd.Arity != setJointAngleArity {
			return cmd, fmt.Errorf("%w: %s takes %d tokens, got %d", ErrArity, cmd.Name, setJointAngleArity, cmd.Arity)
		}
		cmd.Channel = cmd.parseInt(tokens[1])
		cmd.Angles = []float64{cmd.parseFloat(tokens[2])}
		cmd.Speed = cmd.parseFloat(tokens[3])
	case SetAllJointAngles:
		if cmd.Arity != setAllJointAnglesArity {
			return cmd, fmt.Errorf("%w: %s takes %d tokens, got %d", ErrArity, cmd.Name, setAllJointAnglesArity, cmd.Arity)
		}
		cmd.Angles = make([]float64, NumJoints)
		for i := range cmd.Angles {
			cmd.Angles[i] = cmd.parseFloat(tokens[1+i])
		}
		cmd.Speed = cmd.parseFloat(tokens[setAllJointAnglesArity-1])
	}
	return cmd, nil
}

// CheckNumbers returns ErrNumber if any numeric token was malformed.
func (c Command) CheckNumbers() error {
	if len(c.Malformed) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %s %q read as 0", ErrNumber, c.Name, c.Malformed)
}

// parseInt reads a base-10 integer, falling back to 0. A token with a
// fractional part such as "3.7" is malformed and also reads as 0.
func (c *Command) parseInt(tok string) int {
	n, err := strconv.Atoi(strings.TrimSpace(tok))
	if err != nil {
		c.Malformed = append(c.Malformed, tok)
		return 0
	}
	return n
}

// parseFloat reads a decimal float, falling back to 0.
func (c *Command) parseFloat(tok string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(tok), 64)
	if err != nil {
		c.Malformed = append(c.Malformed, tok)
		return 0
	}
	return f
}
