// Package instance names the running replica for logs and lock ownership.
package instance

import (
	"os"

	"github.com/angelmondragon/mealrun-backend/pkg/env"
)

const fallbackID = "worker-0"

// GetID returns MEALRUN_INSTANCE_ID, else the host name, else a fixed default.
func GetID() string {
	if id := env.Get("MEALRUN_INSTANCE_ID", ""); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return fallbackID
}
