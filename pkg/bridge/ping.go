package bridge

import (
	"sort"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/canbridge/pkg/command"
)

// PingWindow is how long PING_CAN collects PONG replies.
var PingWindow = 100 * time.Millisecond

type pinger struct {
	lock    sync.Mutex
	running bool
	seen    map[uint8]struct{}
}

func (p *pinger) start() bool {
	p.lock.Lock()
	defer p.lock.Unlock()
	if p.running {
		return false
	}
	p.running = true
	p.seen = make(map[uint8]struct{})
	return true
}

func (p *pinger) pong(id uint8) {
	p.lock.Lock()
	if p.running {
		p.seen[id] = struct{}{}
	}
	p.lock.Unlock()
}

func (p *pinger) finish() []uint8 {
	p.lock.Lock()
	defer p.lock.Unlock()
	p.running = false
	ids := make([]uint8, 0, len(p.seen))
	for id := range p.seen {
		ids = append(ids, id)
	}
	p.seen = nil
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// pingCAN pings every address and replies [PING_CAN, ids...] with the
// controllers that answered. It doesn't block the calling endpoint.
func (b *Bridge) pingCAN(payload []byte, reply command.ReplyFunc) {
	if !b.pinger.start() {
		glog.V(1).Info("bridge: PING_CAN already in progress")
		return
	}
	go func() {
		for id := 0; id < int(command.Broadcast); id++ {
			if uint8(id) == b.Adapter.LocalID {
				continue
			}
			if err := b.Adapter.Ping(b.ctx, uint8(id)); err != nil {
				glog.Warningf("bridge: ping %d: %v", id, err)
				break
			}
		}
		select {
		case <-time.After(PingWindow):
		case <-b.ctx.Done():
		}
		ids := b.pinger.finish()
		if reply != nil {
			reply(append([]byte{byte(command.PingCAN)}, ids...))
		}
	}()
}
