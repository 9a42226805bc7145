// Package message defines the typed client requests and server responses
// carried in packet bodies.
package message

import (
	"errors"
	"fmt"

	"github.com/danmuck/bankwire/internal/protocol/field"
	"github.com/danmuck/bankwire/internal/protocol/frame"
	"github.com/danmuck/bankwire/internal/protocol/schema"
)

var (
	ErrTrailingBytes = errors.New("message: trailing bytes after body")
	ErrUnknownTag    = errors.New("message: unknown response tag")
)

// Request is one client->server message.
type Request interface {
	Kind() schema.Kind
	AppendBody(dst []byte) ([]byte, error)
}

type Login struct {
	ID           uint32
	PasswordHash int32
}

type Register struct {
	ID           uint32
	PasswordHash int32
	Name         string
	Phone        string
}

type Deposit struct {
	Amount uint32
}

type Withdraw struct {
	Amount uint32
}

type Transfer struct {
	Target uint32
	Amount uint32
}

type History struct{}

func (Login) Kind() schema.Kind    { return schema.KindLogin }
func (Register) Kind() schema.Kind { return schema.KindRegister }
func (Deposit) Kind() schema.Kind  { return schema.KindDeposit }
func (Withdraw) Kind() schema.Kind { return schema.KindWithdraw }
func (Transfer) Kind() schema.Kind { return schema.KindTransfer }
func (History) Kind() schema.Kind  { return schema.KindHistory }

func (m Login) AppendBody(dst []byte) ([]byte, error) {
	w := field.NewWriter(dst)
	w.U32(m.ID)
	w.I32(m.PasswordHash)
	return w.Bytes(), nil
}

func (m Register) AppendBody(dst []byte) ([]byte, error) {
	w := field.NewWriter(dst)
	w.U32(m.ID)
	w.I32(m.PasswordHash)
	if err := w.String(m.Name); err != nil {
		return dst, fmt.Errorf("name: %w", err)
	}
	if err := w.String(m.Phone); err != nil {
		return dst, fmt.Errorf("phone: %w", err)
	}
	return w.Bytes(), nil
}

func (m Deposit) AppendBody(dst []byte) ([]byte, error) {
	w := field.NewWriter(dst)
	w.U8(schema.OpDeposit)
	w.U32(m.Amount)
	return w.Bytes(), nil
}

func (m Withdraw) AppendBody(dst []byte) ([]byte, error) {
	w := field.NewWriter(dst)
	w.U8(schema.OpWithdraw)
	w.U32(m.Amount)
	return w.Bytes(), nil
}

func (m Transfer) AppendBody(dst []byte) ([]byte, error) {
	w := field.NewWriter(dst)
	w.U8(schema.OpTransfer)
	w.U32(m.Target)
	w.U32(m.Amount)
	return w.Bytes(), nil
}

func (History) AppendBody(dst []byte) ([]byte, error) {
	return append(dst, schema.OpHistory), nil
}

// EncodeRequest returns a complete packet (header + body) for req.
func EncodeRequest(req Request) ([]byte, error) {
	return req.AppendBody(frame.NewPacket(16))
}

// DecodeRequest parses a packet body received in phase.
func DecodeRequest(phase schema.Phase, body []byte) (Request, error) {
	kind, err := schema.Classify(phase, body)
	if err != nil {
		return nil, err
	}
	r := field.NewReader(body)
	switch kind {
	case schema.KindLogin:
		id, _ := r.U32()
		hash, _ := r.I32()
		return Login{ID: id, PasswordHash: hash}, nil
	case schema.KindRegister:
		id, _ := r.U32()
		hash, _ := r.I32()
		name, err := r.String()
		if err != nil {
			return nil, fmt.Errorf("register name: %w", err)
		}
		phone, err := r.String()
		if err != nil {
			return nil, fmt.Errorf("register phone: %w", err)
		}
		if r.Remaining() != 0 {
			return nil, fmt.Errorf("%w: register has %d", ErrTrailingBytes, r.Remaining())
		}
		return Register{ID: id, PasswordHash: hash, Name: name, Phone: phone}, nil
	}

	// Authenticated bodies were length-checked by Classify; skip the opcode.
	_, _ = r.U8()
	switch kind {
	case schema.KindDeposit:
		amount, _ := r.U32()
		return Deposit{Amount: amount}, nil
	case schema.KindWithdraw:
		amount, _ := r.U32()
		return Withdraw{Amount: amount}, nil
	case schema.KindTransfer:
		target, _ := r.U32()
		amount, _ := r.U32()
		return Transfer{Target: target, Amount: amount}, nil
	case schema.KindHistory:
		return History{}, nil
	default:
		return nil, fmt.Errorf("message: unhandled kind %s", kind)
	}
}
