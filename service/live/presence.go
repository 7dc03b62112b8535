package live

import (
	"context"
	"sort"

	"chatwave/global"
	"chatwave/module/presence/model"
	"chatwave/service/bus"

	"go.uber.org/zap"
)

// presenceFlavor pushes [{"user_id","last_seen"}] for the viewer's
// conversation partners.
type presenceFlavor struct {
	watch watchState
	view  map[int64]model.Seen
}

func newPresenceFlavor() flavor { return &presenceFlavor{} }

func (p *presenceFlavor) name() string { return "presence" }

func (p *presenceFlavor) topics() []string {
	return []string{global.TopicLastOnline, global.TopicRecipientsChanged}
}

func (p *presenceFlavor) firstMessageAuth() bool { return false }

func (p *presenceFlavor) baseline(ctx context.Context, s *Session) error {
	w, err := s.scope(ctx)
	if err != nil {
		return err
	}
	seen, err := s.m.deps.Presence.ReadSeen(ctx, w.recipients.sorted())
	if err != nil {
		return err
	}
	p.watch = w
	p.view = make(map[int64]model.Seen, len(seen))
	for _, v := range seen {
		p.view[v.UserID] = v
	}
	return s.push("snapshot", p.render())
}

func (p *presenceFlavor) handle(ctx context.Context, s *Session, m bus.Message) error {
	switch m.Topic {
	case global.TopicLastOnline:
		id, ok := parseUserID(m.Payload)
		if !ok {
			s.log.Warn("bad last_online event", zap.ByteString("payload", m.Payload))
			return nil
		}
		if !p.watch.recipients.has(id) {
			return nil
		}
		seen, err := s.m.deps.Presence.ReadSeen(ctx, []int64{id})
		if err != nil {
			return err
		}
		if len(seen) != 1 || p.view[id].Same(seen[0]) {
			return nil
		}
		p.view[id] = seen[0]
		return s.push("delta", seen)

	case global.TopicRecipientsChanged:
		ok, err := s.membershipChange(ctx, m.Payload, &p.watch)
		if !ok {
			return err
		}
		next, err := s.scope(ctx)
		if err != nil {
			return err
		}
		added, removed := p.watch.recipients.diff(next.recipients)
		var seen []model.Seen
		if len(added) > 0 {
			// watch and view change only after the read succeeds
			if seen, err = s.m.deps.Presence.ReadSeen(ctx, added); err != nil {
				return err
			}
		}
		p.watch = next
		if len(added) == 0 && len(removed) == 0 {
			return nil
		}
		for _, id := range removed {
			delete(p.view, id)
		}
		for _, v := range seen {
			p.view[v.UserID] = v
		}
		return s.push("delta", p.render())
	}
	return nil
}

// render is the full view ordered by user id; never nil so it encodes as [].
func (p *presenceFlavor) render() []model.Seen {
	out := make([]model.Seen, 0, len(p.view))
	for _, v := range p.view {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}
