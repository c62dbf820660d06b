package main

import (
	"debug/elf"
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/st-keller/binjatron/types"
)

type symbol struct {
	name  string
	value types.Address
	size  uint64
}

func (s *symbol) Name() string {
	return s.name
}

// elfView is an analysis view built from the function symbols of an ELF
// file. Highlights are kept in memory and every change is printed.
type elfView struct {
	symbols []*symbol // ordered by address
	out     io.Writer

	mu         sync.Mutex
	highlights map[types.Address]types.Color
}

func loadELFView(path string, out io.Writer) (*elfView, error) {
	v := &elfView{
		out:        out,
		highlights: make(map[types.Address]types.Color),
	}
	if path == "" {
		return v, nil
	}

	exe, err := elf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open binary: %w", err)
	}
	defer exe.Close()

	syms, err := exe.Symbols()
	if err != nil {
		return nil, fmt.Errorf("failed to read symbols: %w", err)
	}

	for _, s := range syms {
		if elf.ST_TYPE(s.Info) != elf.STT_FUNC || s.Value == 0 {
			continue
		}
		v.symbols = append(v.symbols, &symbol{name: s.Name, value: types.Address(s.Value), size: s.Size})
	}
	sort.Slice(v.symbols, func(i, j int) bool { return v.symbols[i].value < v.symbols[j].value })

	return v, nil
}

// FunctionContaining returns the function symbol at or before the address.
// Without symbols every address belongs to one anonymous function.
func (v *elfView) FunctionContaining(a types.Address) (types.Function, bool) {
	if len(v.symbols) == 0 {
		return &symbol{name: "?"}, true
	}

	i := sort.Search(len(v.symbols), func(i int) bool { return v.symbols[i].value > a }) - 1
	if i < 0 {
		return nil, false
	}
	s := v.symbols[i]
	if s.size > 0 && uint64(a-s.value) >= s.size {
		return nil, false
	}
	return s, true
}

func (v *elfView) Highlight(_ types.Function, a types.Address) types.Color {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.highlights[a]
}

func (v *elfView) SetHighlight(fn types.Function, a types.Address, c types.Color) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.highlights[a] == c {
		return
	}
	if c == types.NoHighlight {
		delete(v.highlights, a)
	} else {
		v.highlights[a] = c
	}
	fmt.Fprintf(v.out, "  %s (%s) -> %s\n", a, fn.Name(), c)
}
