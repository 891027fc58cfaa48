package sys

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/thejerf/suture/v4"
)

func TestDaemonService_Serve(t *testing.T) {
	d := &daemonService{name: "sweeper", run: func(context.Context) {}, logger: func(string, ...any) {}}

	assert.ErrorContains(t, d.Serve(context.Background()), "exited early")

	d.shut.Store(true)
	assert.ErrorIs(t, d.Serve(context.Background()), suture.ErrDoNotRestart, "a daemon that was shut down stays down")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, d.Serve(ctx), context.Canceled)
}
