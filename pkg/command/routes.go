package command

import "sync"

// ReplyFunc writes a response payload back to whoever sent the command.
type ReplyFunc func(payload []byte)

type route struct {
	reply ReplyFunc
}

// Routes maps controller addresses to the reply func owed their next
// response. One entry per address: a newer request replaces the older.
type Routes struct {
	lock   sync.Mutex
	routes map[uint8]*route
}

func (t *Routes) set(addr uint8, reply ReplyFunc) (r *route, replaced bool) {
	r = &route{reply: reply}
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.routes == nil {
		t.routes = make(map[uint8]*route)
	}
	_, replaced = t.routes[addr]
	t.routes[addr] = r
	return
}

// remove deletes the entry only if it is still r.
func (t *Routes) remove(addr uint8, r *route) bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.routes[addr] != r {
		return false
	}
	delete(t.routes, addr)
	return true
}

// Take removes and returns the reply func registered for addr.
func (t *Routes) Take(addr uint8) (ReplyFunc, bool) {
	t.lock.Lock()
	defer t.lock.Unlock()
	r, ok := t.routes[addr]
	if !ok {
		return nil, false
	}
	delete(t.routes, addr)
	return r.reply, true
}

// Has tells whether a reply is pending for addr.
func (t *Routes) Has(addr uint8) bool {
	t.lock.Lock()
	defer t.lock.Unlock()
	_, ok := t.routes[addr]
	return ok
}

// Len returns the number of pending routes.
func (t *Routes) Len() int {
	t.lock.Lock()
	defer t.lock.Unlock()
	return len(t.routes)
}
