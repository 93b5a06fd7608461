package engine

import "fmt"

// Interceptors run on the engine's read and write paths. They are
// registered before Init and never change afterwards, so the chain is
// read without locking. Pre hooks may transform the value or veto the
// operation by returning an error; post hooks observe only.
//
// Write hooks run inside the writer critical section and read hooks
// inside the read section, so none of them may call back into the
// engine.
type Interceptor struct {
	// PreWrite may replace the value about to be written or veto the
	// write. Runs before the WAL append.
	PreWrite func(key string, val any) (any, error)
	// PostWrite observes a committed write.
	PostWrite func(key string, val any)
	// PreRead may veto a read.
	PreRead func(key string) error
	// PostRead may replace the value handed back to the caller.
	PostRead func(key string, val any) any
}

type interceptorChain []Interceptor

// preWrite threads val through every PreWrite hook in registration
// order. A hook error aborts the write with ErrVetoed.
func (c interceptorChain) preWrite(key string, val any) (any, error) {
	for _, ic := range c {
		if ic.PreWrite == nil {
			continue
		}
		out, err := ic.PreWrite(key, val)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrVetoed, err)
		}
		val = out
	}
	return val, nil
}

func (c interceptorChain) postWrite(key string, val any) {
	for _, ic := range c {
		if ic.PostWrite != nil {
			ic.PostWrite(key, val)
		}
	}
}

func (c interceptorChain) preRead(key string) error {
	for _, ic := range c {
		if ic.PreRead == nil {
			continue
		}
		if err := ic.PreRead(key); err != nil {
			return fmt.Errorf("%w: %v", ErrVetoed, err)
		}
	}
	return nil
}

func (c interceptorChain) postRead(key string, val any) any {
	for _, ic := range c {
		if ic.PostRead != nil {
			val = ic.PostRead(key, val)
		}
	}
	return val
}
