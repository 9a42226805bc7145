package message

import (
	"fmt"
	"time"

	"github.com/danmuck/bankwire/internal/protocol/field"
	"github.com/danmuck/bankwire/internal/protocol/frame"
	"github.com/danmuck/bankwire/internal/protocol/schema"
)

// minRecordLen is the encoded size of a record with an empty sender.
const minRecordLen = 4 + 4 + field.StringLenPrefix + 8 + 4 + 4

// Response is one server->client message.
type Response interface {
	Tag() string
	appendBody(w *field.Writer) error
}

// AccountView is the account summary carried by menu and info.
type AccountView struct {
	ID      uint32
	Name    string
	Balance uint32
	Phone   string
}

type Menu struct {
	Account AccountView
}

// Notice is a recoverable user-facing message; the session continues.
type Notice struct {
	Message string
}

// Fatal is sent right before the server closes the session.
type Fatal struct {
	Reason string
}

type Record struct {
	TID      int32
	Receiver uint32
	Sender   string
	Time     time.Time
	Amount   int32
}

type Info struct {
	CurrentPage uint32
	TotalPage   uint32
	Account     AccountView
	Records     []Record
}

func (Menu) Tag() string   { return schema.TagMenu }
func (Notice) Tag() string { return schema.TagNotice }
func (Fatal) Tag() string  { return schema.TagFatal }
func (Info) Tag() string   { return schema.TagInfo }

func (m Menu) appendBody(w *field.Writer) error {
	return writeAccount(w, m.Account)
}

func (m Notice) appendBody(w *field.Writer) error {
	return w.String(m.Message)
}

func (m Fatal) appendBody(w *field.Writer) error {
	return w.String(m.Reason)
}

func (m Info) appendBody(w *field.Writer) error {
	w.U32(m.CurrentPage)
	w.U32(m.TotalPage)
	w.U32(uint32(len(m.Records)))
	if err := writeAccount(w, m.Account); err != nil {
		return err
	}
	for i, rec := range m.Records {
		w.I32(rec.TID)
		w.U32(rec.Receiver)
		if err := w.String(rec.Sender); err != nil {
			return fmt.Errorf("record %d sender: %w", i, err)
		}
		ts := rec.Time.UTC()
		w.I64(ts.Unix())
		w.U32(uint32(ts.Nanosecond()))
		w.I32(rec.Amount)
	}
	return nil
}

func writeAccount(w *field.Writer, a AccountView) error {
	w.U32(a.ID)
	if err := w.String(a.Name); err != nil {
		return fmt.Errorf("account name: %w", err)
	}
	w.U32(a.Balance)
	if err := w.String(a.Phone); err != nil {
		return fmt.Errorf("account phone: %w", err)
	}
	return nil
}

func readAccount(r *field.Reader) (AccountView, error) {
	var a AccountView
	var err error
	if a.ID, err = r.U32(); err != nil {
		return a, err
	}
	if a.Name, err = r.String(); err != nil {
		return a, err
	}
	if a.Balance, err = r.U32(); err != nil {
		return a, err
	}
	if a.Phone, err = r.String(); err != nil {
		return a, err
	}
	return a, nil
}

// EncodeResponse returns a complete packet: header, 4-byte tag, body.
func EncodeResponse(resp Response) ([]byte, error) {
	w := field.NewWriter(frame.NewPacket(64))
	w.Raw([]byte(resp.Tag()))
	if err := resp.appendBody(w); err != nil {
		return nil, fmt.Errorf("encode %s: %w", resp.Tag(), err)
	}
	return w.Bytes(), nil
}

// DecodeResponse validates the header of packet and parses the tagged body.
func DecodeResponse(packet []byte) (Response, error) {
	f, err := frame.Parse(packet)
	if err != nil {
		return nil, err
	}
	if len(f.Body) < schema.TagLen {
		return nil, fmt.Errorf("%w: body has %d bytes", field.ErrTruncated, len(f.Body))
	}
	tag := string(f.Body[:schema.TagLen])
	r := field.NewReader(f.Body[schema.TagLen:])

	var resp Response
	switch tag {
	case schema.TagMenu:
		a, err := readAccount(r)
		if err != nil {
			return nil, fmt.Errorf("menu: %w", err)
		}
		resp = Menu{Account: a}
	case schema.TagNotice:
		msg, err := r.String()
		if err != nil {
			return nil, fmt.Errorf("msgb: %w", err)
		}
		resp = Notice{Message: msg}
	case schema.TagFatal:
		reason, err := r.String()
		if err != nil {
			return nil, fmt.Errorf("errr: %w", err)
		}
		resp = Fatal{Reason: reason}
	case schema.TagInfo:
		info, err := readInfo(r)
		if err != nil {
			return nil, fmt.Errorf("info: %w", err)
		}
		resp = info
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTag, tag)
	}
	if r.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %s has %d", ErrTrailingBytes, tag, r.Remaining())
	}
	return resp, nil
}

func readInfo(r *field.Reader) (Info, error) {
	var info Info
	var err error
	if info.CurrentPage, err = r.U32(); err != nil {
		return info, err
	}
	if info.TotalPage, err = r.U32(); err != nil {
		return info, err
	}
	count, err := r.U32()
	if err != nil {
		return info, err
	}
	if info.Account, err = readAccount(r); err != nil {
		return info, err
	}
	if int64(count)*minRecordLen > int64(r.Remaining()) {
		return info, fmt.Errorf("%w: %d records announced, %d bytes left", field.ErrTruncated, count, r.Remaining())
	}
	info.Records = make([]Record, 0, count)
	for i := uint32(0); i < count; i++ {
		var rec Record
		if rec.TID, err = r.I32(); err != nil {
			return info, err
		}
		if rec.Receiver, err = r.U32(); err != nil {
			return info, err
		}
		if rec.Sender, err = r.String(); err != nil {
			return info, err
		}
		secs, err := r.I64()
		if err != nil {
			return info, err
		}
		nanos, err := r.U32()
		if err != nil {
			return info, err
		}
		rec.Time = time.Unix(secs, int64(nanos)).UTC()
		if rec.Amount, err = r.I32(); err != nil {
			return info, err
		}
		info.Records = append(info.Records, rec)
	}
	return info, nil
}
