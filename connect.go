/*
 * Copyright (c) 2021-2022 UNNG Lab.
 */

package pgc

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"net"

	"github.com/jackc/pgtype"

	"pgc/internal/cfg"
	"pgc/internal/pgproto"
)

// Connect establishes a connection to a PostgreSQL server using the provided
// connection string (URL or DSN form, see cfg.Config.ParseConfig).
func Connect(connString string) (*Conn, error) {
	var config cfg.Config
	if err := config.ParseConfig(connString); err != nil {
		return nil, err
	}
	return ConnectConfig(&config)
}

// ConnectConfig establishes a connection using a config produced by
// ParseConfig. The primary host is tried first, then any fallbacks; a server
// that rejects the session (as opposed to a failed dial) stops the attempt.
func ConnectConfig(config *cfg.Config) (*Conn, error) {
	if !config.CreatedByParseConfig() {
		panic("config must be created by ParseConfig")
	}

	targets := []*cfg.FallbackConfig{{Host: config.Host, Port: config.Port}}
	targets = append(targets, config.Fallbacks...)

	var err error
	for _, target := range targets {
		c := &Conn{
			config:   config,
			logger:   config.Logger,
			connInfo: pgtype.NewConnInfo(),
		}

		err = c.connect(config, target)
		if err == nil {
			return c, nil
		}

		var pgErr *PgError
		if errors.As(err, &pgErr) {
			break
		}
	}

	return nil, err
}

func (c *Conn) connect(config *cfg.Config, target *cfg.FallbackConfig) error {
	network, address := cfg.NetworkAddress(target.Host, target.Port)
	conn, err := config.DialFunc(network, address)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			err = &errTimeout{err: err}
		}
		return &connectError{config: config, msg: "dial error", err: err}
	}
	c.conn = conn

	c.parameterStatuses = make(map[string]string)
	c.status = statusConnecting
	c.frontend = config.BuildFrontend(conn, conn)

	startupMsg := pgproto.StartupMessage{
		ProtocolVersion: pgproto.ProtocolVersionNumber,
		Parameters:      make(map[string]string),
	}

	// Copy default run-time params
	for k, v := range config.RuntimeParams {
		startupMsg.Parameters[k] = v
	}

	startupMsg.Parameters["user"] = config.User
	if config.Database != "" {
		startupMsg.Parameters["database"] = config.Database
	}

	if _, err := c.conn.Write(startupMsg.Encode(nil)); err != nil {
		c.conn.Close()
		return &connectError{config: config, msg: "failed to write startup message", err: err}
	}
	c.logger.Debug("startup message sent",
		slog.String("host", target.Host),
		slog.String("user", config.User))

	for {
		msg, err := c.receiveMessage()
		if err != nil {
			c.conn.Close()
			if err, ok := err.(*PgError); ok {
				return err
			}
			return &connectError{config: config, msg: "failed to receive message", err: err}
		}

		switch msg := msg.(type) {
		case *pgproto.BackendKeyData:
			c.pid = msg.ProcessID
			c.secretKey = msg.SecretKey

		case *pgproto.AuthenticationOk:
		case *pgproto.AuthenticationCleartextPassword:
			err = c.txPasswordMessage(config.Password)
			if err != nil {
				c.conn.Close()
				return &connectError{config: config, msg: "failed to write password message", err: err}
			}
		case *pgproto.AuthenticationMD5Password:
			digestedPassword := "md5" + hexMD5(hexMD5(config.Password+config.User)+string(msg.Salt[:]))
			err = c.txPasswordMessage(digestedPassword)
			if err != nil {
				c.conn.Close()
				return &connectError{config: config, msg: "failed to write password message", err: err}
			}
		case *pgproto.AuthenticationSASL:
			err = c.scramAuth(msg.AuthMechanisms, config)
			if err != nil {
				c.conn.Close()
				return &connectError{config: config, msg: "failed SASL auth", err: err}
			}

		case *pgproto.ReadyForQuery:
			c.status = statusIdle
			c.logger.Debug("connection ready",
				slog.Uint64("pid", uint64(c.pid)),
				slog.String("server_version", c.parameterStatuses["server_version"]))
			return nil
		case *pgproto.ParameterStatus:
			// handled by receiveMessage
		case *pgproto.ErrorResponse:
			c.conn.Close()
			return ErrorResponseToPgError(msg)
		default:
			// Includes authentication challenge variants this client does not
			// speak (GSS, SSPI, ...): nothing sane can be answered.
			c.conn.Close()
			return &connectError{config: config, msg: "received unexpected message"}
		}
	}
}

func (c *Conn) txPasswordMessage(password string) error {
	return c.frontend.Send(&pgproto.PasswordMessage{Password: password})
}

func hexMD5(s string) string {
	hash := md5.New()
	io.WriteString(hash, s)
	return hex.EncodeToString(hash.Sum(nil))
}
