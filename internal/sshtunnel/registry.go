package sshtunnel

import (
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// The registry tracks every open tunnel so a scheduled sweep can
// force-close anything a crashed request left behind. Normal teardown
// deregisters before the reaper ever sees the tunnel.

var (
	registryMu sync.Mutex
	registry   = make(map[*Tunnel]struct{})
)

func register(t *Tunnel) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[t] = struct{}{}
}

func deregister(t *Tunnel) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, t)
}

// ActiveCount returns the number of currently registered tunnels.
func ActiveCount() int {
	registryMu.Lock()
	defer registryMu.Unlock()
	return len(registry)
}

// StartReaper schedules a minutely sweep that closes tunnels older than
// maxLifetime. It returns a stop function.
func StartReaper(maxLifetime time.Duration) func() {
	c := cron.New()
	c.Schedule(cron.Every(time.Minute), cron.FuncJob(func() {
		reap(maxLifetime)
	}))
	c.Start()
	return func() {
		ctx := c.Stop()
		<-ctx.Done()
	}
}

func reap(maxLifetime time.Duration) {
	registryMu.Lock()
	var expired []*Tunnel
	now := time.Now()
	for t := range registry {
		if now.Sub(t.openedAt) > maxLifetime {
			expired = append(expired, t)
		}
	}
	registryMu.Unlock()

	for _, t := range expired {
		log.Printf("[tunnel] reaping tunnel to %s open since %s", t.target, t.openedAt.Format(time.RFC3339))
		t.Close()
	}
}

// CloseAll force-closes every registered tunnel. Called on shutdown.
func CloseAll() {
	registryMu.Lock()
	all := make([]*Tunnel, 0, len(registry))
	for t := range registry {
		all = append(all, t)
	}
	registryMu.Unlock()

	for _, t := range all {
		t.Close()
	}
	if len(all) > 0 {
		log.Printf("[tunnel] closed %d leftover tunnel(s)", len(all))
	}
}
