package agent

import (
	"context"

	"github.com/devicelab-dev/publish-agent/pkg/core"
)

// manualGate holds the publish step until TriggerManualPublish or stop.
type manualGate struct {
	agent *Agent
	item  core.WorkItem
}

func (g *manualGate) Await(ctx context.Context) error {
	a := g.agent
	gen := a.beginAwait()
	a.store.SetAwaitingManual(true)
	defer func() {
		a.endAwait()
		a.store.SetAwaitingManual(false)
	}()
	a.store.Log(core.SeverityInfo, "%s: waiting for manual publish", g.item.Code)

	for {
		st, changed := a.watch()
		if st == core.RunStopping || st == core.RunIdle {
			return core.ErrStoppedByUser
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case released := <-a.manual:
			if released != gen {
				continue
			}
			a.store.Log(core.SeverityInfo, "%s: manual publish triggered", g.item.Code)
			return nil
		case <-changed:
		}
	}
}
