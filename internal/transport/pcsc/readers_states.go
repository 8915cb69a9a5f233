package pcsc

import "github.com/ebfe/scard"

type ReadersStates []scard.ReaderState

func NewReadersStates(readers []string) ReadersStates {
	rs := make(ReadersStates, len(readers))
	for i, name := range readers {
		rs[i].Reader = name
		rs[i].CurrentState = scard.StateUnaware
	}
	return rs
}

func (rs ReadersStates) Empty() bool {
	return len(rs) == 0
}

func (rs ReadersStates) Update() {
	for i := range rs {
		rs[i].CurrentState = rs[i].EventState
	}
}

// WithCard returns the readers holding a card, skipping readers already gone.
func (rs ReadersStates) WithCard() []string {
	var readers []string
	for i := range rs {
		if rs[i].EventState&scard.StateUnknown != 0 {
			continue
		}
		if rs[i].EventState&scard.StatePresent == 0 {
			continue
		}
		readers = append(readers, rs[i].Reader)
	}
	return readers
}
