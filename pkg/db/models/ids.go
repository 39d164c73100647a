package models

import "github.com/google/uuid"

// ensureID assigns a fresh identifier when the caller did not provide one.
// Postgres also defaults ids through gen_random_uuid(), but sqlite-backed
// tests rely on the hook.
func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}
