package pgproto

import (
	"errors"
	"fmt"
)

// Authentication request sub-codes carried in the body of an 'R' message.
const (
	authTypeOk                = 0
	authTypeCleartextPassword = 3
	authTypeMD5Password       = 5
	authTypeSASL              = 10
	authTypeSASLContinue      = 11
	authTypeSASLFinal         = 12
)

// AuthenticationOk reports that the authentication exchange is complete.
type AuthenticationOk struct{}

func (*AuthenticationOk) Backend() {}

func (dst *AuthenticationOk) Decode(data []byte) error {
	return decodeAuthCode(data, authTypeOk)
}

// AuthenticationCleartextPassword requests the password in clear text.
type AuthenticationCleartextPassword struct{}

func (*AuthenticationCleartextPassword) Backend() {}

func (dst *AuthenticationCleartextPassword) Decode(data []byte) error {
	return decodeAuthCode(data, authTypeCleartextPassword)
}

// AuthenticationMD5Password requests an MD5 digest of the password salted with
// the provided 4 bytes.
type AuthenticationMD5Password struct {
	Salt [4]byte
}

func (*AuthenticationMD5Password) Backend() {}

func (dst *AuthenticationMD5Password) Decode(data []byte) error {
	if err := decodeAuthCode(data, authTypeMD5Password); err != nil {
		return err
	}
	if len(data) != 8 {
		return errors.New("bad authentication message size")
	}

	copy(dst.Salt[:], data[4:8])
	return nil
}

// AuthenticationSASL offers a list of SASL mechanism names.
type AuthenticationSASL struct {
	AuthMechanisms []string
}

func (*AuthenticationSASL) Backend() {}

func (dst *AuthenticationSASL) Decode(data []byte) error {
	if err := decodeAuthCode(data, authTypeSASL); err != nil {
		return err
	}

	dst.AuthMechanisms = dst.AuthMechanisms[:0]
	rd := Reader{Msg: data[4:]}
	for len(rd.Msg) > 1 {
		mech, err := rd.GetString()
		if err != nil {
			return err
		}
		dst.AuthMechanisms = append(dst.AuthMechanisms, mech)
	}

	return nil
}

// AuthenticationSASLContinue carries the server-first-message of a SASL
// exchange.
type AuthenticationSASLContinue struct {
	Data []byte
}

func (*AuthenticationSASLContinue) Backend() {}

func (dst *AuthenticationSASLContinue) Decode(data []byte) error {
	if err := decodeAuthCode(data, authTypeSASLContinue); err != nil {
		return err
	}

	dst.Data = data[4:]
	return nil
}

// AuthenticationSASLFinal carries the server-final-message of a SASL exchange.
type AuthenticationSASLFinal struct {
	Data []byte
}

func (*AuthenticationSASLFinal) Backend() {}

func (dst *AuthenticationSASLFinal) Decode(data []byte) error {
	if err := decodeAuthCode(data, authTypeSASLFinal); err != nil {
		return err
	}

	dst.Data = data[4:]
	return nil
}

func decodeAuthCode(data []byte, want uint32) error {
	rd := Reader{Msg: data}
	code, err := rd.GetUint32()
	if err != nil {
		return err
	}
	if code != want {
		return fmt.Errorf("authentication sub-code mismatch: %d", code)
	}
	return nil
}
