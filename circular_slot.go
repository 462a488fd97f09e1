package ringpool

// circularSlot is one node of the fixed ring of pooled connections.
// The last slot points back at the first one.
type circularSlot struct {
	conn *Connection
	next *circularSlot
}

// newRing links conns into a closed ring and returns the slot preceding the
// first connection, so that a scan starting at its successor visits conns in
// order.
func newRing(conns []*Connection) *circularSlot {
	if len(conns) == 0 {
		return nil
	}

	head := &circularSlot{conn: conns[0]}
	head.next = head
	tail := head
	for _, conn := range conns[1:] {
		slot := &circularSlot{conn: conn, next: head}
		tail.next = slot
		tail = slot
	}
	return tail
}

// ringLen walks the ring once and returns the number of slots.
func ringLen(start *circularSlot) int {
	if start == nil {
		return 0
	}
	n := 1
	for slot := start.next; slot != start; slot = slot.next {
		n++
	}
	return n
}

// each calls fn for every slot starting at start.next and ending at start.
func (start *circularSlot) each(fn func(slot *circularSlot)) {
	slot := start
	for {
		slot = slot.next
		fn(slot)
		if slot == start {
			return
		}
	}
}
