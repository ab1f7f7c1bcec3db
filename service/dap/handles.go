package dap

// Handles handed out to the client start here so they are never mistaken
// for the thread id or a zero reference.
const startHandle = 1000

// handlesMap hands out sequential integer references for stack frames and
// scopes. DAP clients only ever see the integers. All handles become
// invalid when the program resumes.
type handlesMap struct {
	nextHandle  int
	handleToVal map[int]interface{}
}

func newHandlesMap() *handlesMap {
	hs := &handlesMap{}
	hs.reset()
	return hs
}

// reset drops every handle, it is called each time the program resumes.
func (hs *handlesMap) reset() {
	hs.nextHandle = startHandle
	hs.handleToVal = map[int]interface{}{}
}

func (hs *handlesMap) create(value interface{}) int {
	h := hs.nextHandle
	hs.handleToVal[h] = value
	hs.nextHandle++
	return h
}

func (hs *handlesMap) get(handle int) (interface{}, bool) {
	v, ok := hs.handleToVal[handle]
	return v, ok
}

// clamp limits n to the range [0, max].
func clamp(n, max int) int {
	switch {
	case n < 0:
		return 0
	case n > max:
		return max
	}
	return n
}
