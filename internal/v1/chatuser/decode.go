package chatuser

import (
	"bytes"
	"encoding/json"

	"github.com/latticechat/chatcore/internal/v1/errs"
	"github.com/latticechat/chatcore/internal/v1/types"
	"github.com/latticechat/chatcore/internal/v1/validate"
)

// msgInput is the wire shape of a chat message argument: exactly one field,
// enforced with DisallowUnknownFields so a client cannot smuggle extra
// keys through as if they were validated, and with "required" checked by
// validate.Struct so an empty message body never reaches Room.Message
// (a whitespace-only body is not rejected).
type msgInput struct {
	TextMessage string `json:"textMessage" validate:"required"`
}

func arity(args []types.RawArg, n int) *errs.Error {
	if len(args) != n {
		return errs.New(errs.KindWrongArgumentsCount, n, len(args))
	}
	return nil
}

func decodeString(raw types.RawArg) (string, *errs.Error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", errs.New(errs.KindBadArgument)
	}
	return s, nil
}

func decodeBool(raw types.RawArg) (bool, *errs.Error) {
	var b bool
	if err := json.Unmarshal(raw, &b); err != nil {
		return false, errs.New(errs.KindBadArgument)
	}
	return b, nil
}

func decodeStrings(raw types.RawArg) ([]string, *errs.Error) {
	var v []string
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, errs.New(errs.KindBadArgument)
	}
	return v, nil
}

func decodeMsg(raw types.RawArg) (msgInput, *errs.Error) {
	var m msgInput
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&m); err != nil {
		return msgInput{}, errs.New(errs.KindBadArgument)
	}
	if err := validate.Struct(m); err != nil {
		return msgInput{}, errs.New(errs.KindBadArgument)
	}
	return m, nil
}

// decodeName decodes a chatname-tagged string: valid JSON string and an
// admissible username/room/list name per validate.IsValidName.
func decodeName(raw types.RawArg) (string, *errs.Error) {
	s, derr := decodeString(raw)
	if derr != nil {
		return "", derr
	}
	if err := validate.Struct(nameHolder{Name: s}); err != nil {
		return "", errs.New(errs.KindInvalidName, s)
	}
	return s, nil
}

// nameHolder lets a bare string be run through validate.Struct's
// "chatname" tag, since the validator package only validates struct
// fields, not standalone values.
type nameHolder struct {
	Name string `validate:"chatname"`
}

// asErr recovers the *errs.Error every chatroom/directmsg call returns
// (they never return anything else), wrapping the rare non-conforming
// error as a serverError rather than panicking on the type assertion.
func asErr(err error) *errs.Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*errs.Error); ok {
		return e
	}
	return errs.Wrap(err, "chatuser")
}
