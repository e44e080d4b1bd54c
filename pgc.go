/*
 * Copyright (c) 2021-2022 UNNG Lab.
 */

// Package pgc is a low-level PostgreSQL client built on the simple query
// protocol. It exposes the connection lifecycle, authentication and result
// streaming directly; it does no connection pooling and no statement
// preparation.
package pgc
