package notify

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"siegebot/internal/core"
)

type capturingNotifier struct {
	titles []string
	bodies []string
}

func (c *capturingNotifier) Send(ctx context.Context, title, body string) error {
	c.titles = append(c.titles, title)
	c.bodies = append(c.bodies, body)
	return nil
}

func TestAlerterNotifiesOnlyOnDisable(t *testing.T) {
	sink := &capturingNotifier{}
	a := NewAlerter(sink, slog.New(slog.NewTextHandler(io.Discard, nil)))

	a.TaskCompleted(core.RunRecord{Task: "daily_login", Status: core.RunSucceeded})
	a.TaskCompleted(core.RunRecord{Task: "daily_login", Status: core.RunFailed})
	assert.Empty(t, sink.titles)

	a.TaskCompleted(core.RunRecord{
		Task:     "daily_login",
		Status:   core.RunFailed,
		Phase:    core.PhaseExecute,
		Attempt:  3,
		Error:    "reward chest not visible",
		Disabled: true,
	})
	assert.Len(t, sink.titles, 1)
	assert.Contains(t, sink.titles[0], "daily_login")
	assert.Contains(t, sink.bodies[0], "reward chest not visible")
}

func TestMultiNotifierFansOut(t *testing.T) {
	a, b := &capturingNotifier{}, &capturingNotifier{}
	multi := NewMultiNotifier(a, b)

	err := multi.Send(context.Background(), "t", "b")
	assert.NoError(t, err)
	assert.Len(t, a.titles, 1)
	assert.Len(t, b.titles, 1)
}
