package instance

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetIDPrefersWorkerID(t *testing.T) {
	t.Setenv("WORKER_ID", "publisher-2")
	t.Setenv("DYNO", "web.1")
	assert.Equal(t, "publisher-2", GetID())
}

func TestGetIDFallsBackToDyno(t *testing.T) {
	t.Setenv("WORKER_ID", "")
	t.Setenv("DYNO", "worker.3")
	assert.Equal(t, "worker.3", GetID())
}

func TestGetIDNeverEmpty(t *testing.T) {
	t.Setenv("WORKER_ID", "")
	t.Setenv("DYNO", "")
	assert.NotEmpty(t, GetID())
}
