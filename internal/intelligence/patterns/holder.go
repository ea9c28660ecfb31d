package patterns

import "sync/atomic"

// Holder publishes the current Library. Readers take a reference per
// document and keep using it even if a reload swaps in a newer library.
type Holder struct {
	lib atomic.Pointer[Library]
}

// NewHolder returns a holder serving lib.
func NewHolder(lib *Library) *Holder {
	h := &Holder{}
	if lib == nil {
		lib = NewLibrary()
	}
	h.lib.Store(lib)
	return h
}

// Library returns the current library. Never nil.
func (h *Holder) Library() *Library {
	return h.lib.Load()
}

// Swap replaces the current library and returns the previous one.
func (h *Holder) Swap(lib *Library) *Library {
	if lib == nil {
		return h.lib.Load()
	}
	return h.lib.Swap(lib)
}

//Personal.AI order the ending
