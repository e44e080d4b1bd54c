// SCRAM-SHA-256 authentication per RFC 5802/7677.
//
// The exchange is three steps:
//
//  1. Send the client-first-message naming the SCRAM-SHA-256 mechanism.
//  2. Answer the server-first-message with a proof derived from the
//     PBKDF2-salted password.
//  3. Verify the server-final-message signature. Skipping this step would
//     accept a server that cannot prove knowledge of the password.

package pgc

import (
	"bytes"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/text/secure/precis"

	"pgc/internal/cfg"
	"pgc/internal/pgproto"
)

const clientNonceLen = 18

func (c *Conn) scramAuth(serverAuthMechanisms []string, config *cfg.Config) error {
	sc, err := newScramClient(serverAuthMechanisms, config.User, config.Password)
	if err != nil {
		return err
	}

	// Send client-first-message in a SASLInitialResponse
	err = c.frontend.Send(&pgproto.SASLInitialResponse{
		AuthMechanism: "SCRAM-SHA-256",
		Data:          sc.clientFirstMessage(),
	})
	if err != nil {
		return err
	}

	// Receive server-first-message payload in an AuthenticationSASLContinue.
	msg, err := c.receiveMessage()
	if err != nil {
		return err
	}
	saslContinue, ok := msg.(*pgproto.AuthenticationSASLContinue)
	if !ok {
		return errors.New("expected AuthenticationSASLContinue message")
	}

	err = sc.recvServerFirstMessage(saslContinue.Data)
	if err != nil {
		return err
	}

	// Send client-final-message in a SASLResponse
	err = c.frontend.Send(&pgproto.SASLResponse{Data: []byte(sc.clientFinalMessage())})
	if err != nil {
		return err
	}

	// Receive server-final-message payload in an AuthenticationSASLFinal.
	msg, err = c.receiveMessage()
	if err != nil {
		return err
	}
	saslFinal, ok := msg.(*pgproto.AuthenticationSASLFinal)
	if !ok {
		return errors.New("expected AuthenticationSASLFinal message")
	}

	return sc.recvServerFinalMessage(saslFinal.Data)
}

type scramClient struct {
	serverAuthMechanisms []string
	user                 string
	password             []byte
	clientNonce          []byte

	clientFirstMessageBare []byte

	serverFirstMessage   []byte
	clientAndServerNonce []byte
	salt                 []byte
	iterations           int

	saltedPassword []byte
	authMessage    []byte
}

func newScramClient(serverAuthMechanisms []string, user, password string) (*scramClient, error) {
	sc := &scramClient{
		serverAuthMechanisms: serverAuthMechanisms,
		user:                 user,
	}

	supported := false
	for _, mech := range sc.serverAuthMechanisms {
		if mech == "SCRAM-SHA-256" {
			supported = true
		}
	}
	if !supported {
		return nil, fmt.Errorf("unsupported SASL authentication mechanisms: %v", serverAuthMechanisms)
	}

	// SCRAM-SHA-256 requires the password to be in SASLprep normalized form.
	// A password that cannot be normalized is used as-is, matching libpq.
	normalized, err := precis.OpaqueString.String(password)
	if err == nil {
		sc.password = []byte(normalized)
	} else {
		sc.password = []byte(password)
	}

	sc.clientNonce, err = makeNonce()
	if err != nil {
		return nil, err
	}

	return sc, nil
}

func makeNonce() ([]byte, error) {
	nonce := make([]byte, clientNonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	dst := make([]byte, base64.RawStdEncoding.EncodedLen(len(nonce)))
	base64.RawStdEncoding.Encode(dst, nonce)
	return dst, nil
}

func (sc *scramClient) clientFirstMessage() []byte {
	sc.clientFirstMessageBare = []byte(fmt.Sprintf("n=%s,r=%s", sc.user, sc.clientNonce))
	return []byte(fmt.Sprintf("n,,%s", sc.clientFirstMessageBare))
}

func (sc *scramClient) recvServerFirstMessage(serverFirstMessage []byte) error {
	sc.serverFirstMessage = serverFirstMessage
	buf := serverFirstMessage

	if !bytes.HasPrefix(buf, []byte("r=")) {
		return errors.New("invalid SCRAM server-first-message received from server: did not include r=")
	}
	buf = buf[2:]

	idx := bytes.IndexByte(buf, ',')
	if idx == -1 {
		return errors.New("invalid SCRAM server-first-message received from server: did not include s=")
	}
	sc.clientAndServerNonce = buf[:idx]
	buf = buf[idx+1:]

	if !bytes.HasPrefix(buf, []byte("s=")) {
		return errors.New("invalid SCRAM server-first-message received from server: did not include s=")
	}
	buf = buf[2:]

	idx = bytes.IndexByte(buf, ',')
	if idx == -1 {
		return errors.New("invalid SCRAM server-first-message received from server: did not include i=")
	}
	saltStr := buf[:idx]
	buf = buf[idx+1:]

	if !bytes.HasPrefix(buf, []byte("i=")) {
		return errors.New("invalid SCRAM server-first-message received from server: did not include i=")
	}
	iterationsStr := buf[2:]

	var err error
	sc.salt, err = base64.StdEncoding.DecodeString(string(saltStr))
	if err != nil {
		return fmt.Errorf("invalid SCRAM salt received from server: %w", err)
	}

	sc.iterations, err = strconv.Atoi(string(iterationsStr))
	if err != nil || sc.iterations <= 0 {
		return fmt.Errorf("invalid SCRAM iteration count received from server: %q", iterationsStr)
	}

	if !bytes.HasPrefix(sc.clientAndServerNonce, sc.clientNonce) {
		return errors.New("invalid SCRAM nonce: did not extend client nonce")
	}

	sc.saltedPassword = pbkdf2.Key(sc.password, sc.salt, sc.iterations, 32, sha256.New)

	return nil
}

func (sc *scramClient) clientFinalMessage() string {
	clientFinalMessageWithoutProof := []byte(fmt.Sprintf("c=biws,r=%s", sc.clientAndServerNonce))

	sc.authMessage = bytes.Join([][]byte{
		sc.clientFirstMessageBare,
		sc.serverFirstMessage,
		clientFinalMessageWithoutProof,
	}, []byte(","))

	clientKey := computeHMAC(sc.saltedPassword, []byte("Client Key"))
	storedKey := sha256.Sum256(clientKey)
	clientSignature := computeHMAC(storedKey[:], sc.authMessage)

	clientProof := make([]byte, len(clientKey))
	for i := range clientProof {
		clientProof[i] = clientKey[i] ^ clientSignature[i]
	}

	return fmt.Sprintf("%s,p=%s", clientFinalMessageWithoutProof, base64.StdEncoding.EncodeToString(clientProof))
}

func (sc *scramClient) recvServerFinalMessage(serverFinalMessage []byte) error {
	if !bytes.HasPrefix(serverFinalMessage, []byte("v=")) {
		return errors.New("invalid SCRAM server-final-message received from server")
	}

	serverSignature := serverFinalMessage[2:]
	if !sc.isServerSignatureValid(serverSignature) {
		return errors.New("invalid SCRAM ServerSignature received from server")
	}

	return nil
}

func (sc *scramClient) isServerSignatureValid(serverSignature []byte) bool {
	serverKey := computeHMAC(sc.saltedPassword, []byte("Server Key"))
	expected := base64.StdEncoding.EncodeToString(computeHMAC(serverKey, sc.authMessage))
	return hmac.Equal([]byte(expected), serverSignature)
}

func computeHMAC(key, msg []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(msg)
	return mac.Sum(nil)
}
