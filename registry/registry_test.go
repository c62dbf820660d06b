package registry_test

import (
	"sync"
	"testing"

	"github.com/st-keller/binjatron/registry"
	"github.com/st-keller/binjatron/test"
	"github.com/st-keller/binjatron/types"
)

func TestOrderAndPersistence(t *testing.T) {
	r := registry.New()

	var order []string
	_, err := r.Register(func([]*types.Result) { order = append(order, "once") })
	test.ExpectSuccess(t, err)
	_, err = r.Register(func([]*types.Result) { order = append(order, "always") }, true)
	test.ExpectSuccess(t, err)
	_, err = r.Register(func([]*types.Result) { order = append(order, "once-explicit") }, false)
	test.ExpectSuccess(t, err)

	test.ExpectEquality(t, r.Dispatch(nil), 3)
	test.DemandEquality(t, len(order), 3)
	test.ExpectEquality(t, order[0], "once")
	test.ExpectEquality(t, order[1], "always")
	test.ExpectEquality(t, order[2], "once-explicit")
	test.ExpectEquality(t, r.Len(), 1)

	order = order[:0]
	test.ExpectEquality(t, r.Dispatch(nil), 1)
	test.DemandEquality(t, len(order), 1)
	test.ExpectEquality(t, order[0], "always")
}

func TestResultsArePassed(t *testing.T) {
	r := registry.New()

	results := []*types.Result{{Kind: types.KindRegisters, Status: types.StatusSuccess}}
	var got []*types.Result
	r.Register(func(res []*types.Result) { got = res })
	r.Dispatch(results)
	test.DemandEquality(t, len(got), 1)
	test.ExpectEquality(t, got[0], results[0])
}

func TestNilCallback(t *testing.T) {
	r := registry.New()
	_, err := r.Register(nil)
	test.ExpectFailure(t, err)
	test.ExpectEquality(t, r.Len(), 0)
}

func TestPanicIsolation(t *testing.T) {
	r := registry.New()

	var panicked registry.ID
	r.SetPanicHandler(func(id registry.ID, _ interface{}) { panicked = id })

	bad, _ := r.Register(func([]*types.Result) { panic("callback failure") }, true)
	var ran bool
	r.Register(func([]*types.Result) { ran = true }, true)

	test.ExpectEquality(t, r.Dispatch(nil), 2)
	test.ExpectEquality(t, ran, true)
	test.ExpectEquality(t, panicked, bad)
	test.ExpectEquality(t, r.Len(), 2)
}

func TestRegisterDuringDispatch(t *testing.T) {
	r := registry.New()

	var late int
	r.Register(func([]*types.Result) {
		r.Register(func([]*types.Result) { late++ })
	})

	// the late registration does not fire in the dispatch that added it
	test.ExpectEquality(t, r.Dispatch(nil), 1)
	test.ExpectEquality(t, late, 0)
	test.ExpectEquality(t, r.Len(), 1)

	test.ExpectEquality(t, r.Dispatch(nil), 1)
	test.ExpectEquality(t, late, 1)
	test.ExpectEquality(t, r.Len(), 0)
}

func TestUnregister(t *testing.T) {
	r := registry.New()

	a, _ := r.Register(func([]*types.Result) {}, true)
	b, _ := r.Register(func([]*types.Result) {})
	test.ExpectEquality(t, r.Unregister(a), true)
	test.ExpectEquality(t, r.Unregister(a), false)
	test.ExpectEquality(t, r.Len(), 1)

	r.Dispatch(nil)
	test.ExpectEquality(t, r.Unregister(b), false)
}

func TestConcurrentDispatchFiresOnce(t *testing.T) {
	r := registry.New()

	var mu sync.Mutex
	var fired int
	for range 50 {
		r.Register(func([]*types.Result) {
			mu.Lock()
			fired++
			mu.Unlock()
		})
	}

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Dispatch(nil)
		}()
	}
	wg.Wait()

	test.ExpectEquality(t, fired, 50)
	test.ExpectEquality(t, r.Len(), 0)
}
