package schema

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// Authenticated-state opcodes (first body byte).
const (
	OpDeposit  uint8 = 0
	OpWithdraw uint8 = 1
	OpTransfer uint8 = 2
	OpHistory  uint8 = 3
)

// Server->client tags (4 ASCII bytes after the header).
const (
	TagMenu   = "menu"
	TagNotice = "msgb"
	TagFatal  = "errr"
	TagInfo   = "info"
)

const (
	TagLen = 4

	// LoginBodyLen is id:u32 + passwordHash:i32.
	LoginBodyLen = 8
)

// Phase is the session authentication phase a packet is interpreted in.
type Phase uint8

const (
	PhaseUnauthenticated Phase = iota
	PhaseAuthenticated
)

func (p Phase) String() string {
	switch p {
	case PhaseUnauthenticated:
		return "unauthenticated"
	case PhaseAuthenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("phase(%d)", uint8(p))
	}
}

// Kind identifies one recognized request.
type Kind uint8

const (
	KindLogin Kind = iota + 1
	KindRegister
	KindDeposit
	KindWithdraw
	KindTransfer
	KindHistory
)

func (k Kind) String() string {
	switch k {
	case KindLogin:
		return "login"
	case KindRegister:
		return "register"
	case KindDeposit:
		return "deposit"
	case KindWithdraw:
		return "withdraw"
	case KindTransfer:
		return "transfer"
	case KindHistory:
		return "history"
	default:
		return "unknown"
	}
}

// Rule binds an opcode to the exact payload length that must follow it.
type Rule struct {
	Kind       Kind
	Opcode     uint8
	PayloadLen int
}

type ValidationError struct {
	Phase   Phase
	Opcode  int
	BodyLen int
	Reason  string
}

func (e ValidationError) Error() string {
	if e.Opcode < 0 {
		return fmt.Sprintf("schema: phase=%s body_len=%d: %s", e.Phase, e.BodyLen, e.Reason)
	}
	return fmt.Sprintf("schema: phase=%s opcode=%d body_len=%d: %s", e.Phase, e.Opcode, e.BodyLen, e.Reason)
}

var authenticatedRules = map[uint8]Rule{
	OpDeposit:  {Kind: KindDeposit, Opcode: OpDeposit, PayloadLen: 4},
	OpWithdraw: {Kind: KindWithdraw, Opcode: OpWithdraw, PayloadLen: 4},
	OpTransfer: {Kind: KindTransfer, Opcode: OpTransfer, PayloadLen: 8},
	OpHistory:  {Kind: KindHistory, Opcode: OpHistory, PayloadLen: 0},
}

// Classify resolves the request kind for a body received in phase.
// Unauthenticated bodies carry no opcode: exactly 8 bytes is a login,
// anything longer is a registration. Authenticated bodies start with an
// opcode whose payload length must match the table exactly.
func Classify(phase Phase, body []byte) (Kind, error) {
	log.Trace().Str("phase", phase.String()).Int("body_len", len(body)).Msg("schema.Classify")
	switch phase {
	case PhaseUnauthenticated:
		switch {
		case len(body) == LoginBodyLen:
			return KindLogin, nil
		case len(body) > LoginBodyLen:
			return KindRegister, nil
		default:
			return 0, ValidationError{Phase: phase, Opcode: -1, BodyLen: len(body), Reason: "body too short for login"}
		}
	case PhaseAuthenticated:
		if len(body) == 0 {
			return 0, ValidationError{Phase: phase, Opcode: -1, Reason: "missing opcode"}
		}
		op := body[0]
		rule, ok := Lookup(op)
		if !ok {
			log.Debug().Uint8("opcode", op).Msg("schema.Classify unknown opcode")
			return 0, ValidationError{Phase: phase, Opcode: int(op), BodyLen: len(body), Reason: "unknown opcode"}
		}
		if len(body)-1 != rule.PayloadLen {
			log.Debug().
				Uint8("opcode", op).
				Int("got", len(body)-1).
				Int("want", rule.PayloadLen).
				Msg("schema.Classify payload length mismatch")
			return 0, ValidationError{Phase: phase, Opcode: int(op), BodyLen: len(body), Reason: "payload length mismatch"}
		}
		return rule.Kind, nil
	default:
		return 0, ValidationError{Phase: phase, Opcode: -1, BodyLen: len(body), Reason: "unknown phase"}
	}
}

// Lookup returns the authenticated-phase rule for an opcode.
func Lookup(opcode uint8) (Rule, bool) {
	rule, ok := authenticatedRules[opcode]
	return rule, ok
}
