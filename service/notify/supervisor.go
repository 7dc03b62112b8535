package notify

import (
	"context"

	"chatwave/service/metrics"

	"golang.org/x/sync/errgroup"
)

// Supervisor runs one listener per kind in the table.
type Supervisor struct {
	listeners []*Listener
	health    *Health
}

func NewSupervisor(dialer Dialer, table Table, conf ListenerConf, health *Health, m *metrics.Metrics) *Supervisor {
	if health == nil {
		health = NewHealth()
	}
	s := &Supervisor{health: health}
	for _, kind := range Kinds {
		if _, ok := table[kind]; !ok {
			continue
		}
		s.listeners = append(s.listeners, NewListener(kind, dialer, table.Handle, conf, health, m))
	}
	return s
}

func (s *Supervisor) Health() *Health { return s.health }

// Run blocks until ctx is done. A listener that exhausts its budget does not
// stop the others, it stays failed in Health; the first such error is returned
// once every listener has exited.
func (s *Supervisor) Run(ctx context.Context) error {
	var g errgroup.Group
	for _, l := range s.listeners {
		l := l
		g.Go(func() error { return l.Run(ctx) })
	}
	return g.Wait()
}
