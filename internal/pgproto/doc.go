/*
 * Copyright (c) 2021-2022 UNNG Lab.
 */

// Package pgproto is a encoder and decoder of the PostgreSQL wire protocol version 3.
//
// Only the client side of the protocol is implemented: frontend messages are
// encoded, backend messages are decoded. See
// https://www.postgresql.org/docs/current/protocol-message-formats.html for
// meanings of the different messages.
package pgproto
