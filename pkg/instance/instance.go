package instance

import (
	"os"

	"github.com/angelmondragon/creditledger-backend/pkg/env"
)

// GetID identifies the running process in logs. WORKER_ID wins, then the
// platform dyno name, then the hostname.
func GetID() string {
	if id := env.First("WORKER_ID", "DYNO"); id != "" {
		return id
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "local"
}
