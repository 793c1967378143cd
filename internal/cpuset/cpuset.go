package cpuset

import (
	"fmt"
	"sort"
	"strings"
)

// Set is a mutable membership set over CPU indices. The daemon keeps two
// live instances: the CPUs currently online and the CPUs it has taken
// offline. A Set is not safe for concurrent use; the convergence loop is
// the single mutator.
type Set struct {
	cpus map[int]struct{}
}

// New returns a Set containing the given CPU indices.
func New(cpus ...int) *Set {
	s := &Set{cpus: make(map[int]struct{})}
	for _, c := range cpus {
		s.cpus[c] = struct{}{}
	}
	return s
}

// Add marks cpu as a member.
func (s *Set) Add(cpu int) { s.cpus[cpu] = struct{}{} }

// Remove unmarks cpu.
func (s *Set) Remove(cpu int) { delete(s.cpus, cpu) }

// Contains reports whether cpu is a member.
func (s *Set) Contains(cpu int) bool {
	_, ok := s.cpus[cpu]
	return ok
}

// Size returns the number of members.
func (s *Set) Size() int { return len(s.cpus) }

// Highest returns the largest member, or false when the set is empty.
func (s *Set) Highest() (int, bool) {
	if len(s.cpus) == 0 {
		return 0, false
	}
	high := -1
	for c := range s.cpus {
		if c > high {
			high = c
		}
	}
	return high, true
}

// Lowest returns the smallest member, or false when the set is empty.
func (s *Set) Lowest() (int, bool) {
	if len(s.cpus) == 0 {
		return 0, false
	}
	low := -1
	for c := range s.cpus {
		if low < 0 || c < low {
			low = c
		}
	}
	return low, true
}

// ToSlice returns the members in ascending order.
func (s *Set) ToSlice() []int {
	out := make([]int, 0, len(s.cpus))
	for c := range s.cpus {
		out = append(out, c)
	}
	sort.Ints(out)
	return out
}

// Intersects reports whether the two sets share any member.
func (s *Set) Intersects(other *Set) bool {
	for c := range s.cpus {
		if other.Contains(c) {
			return true
		}
	}
	return false
}

// String renders the set in the kernel's list format, with consecutive
// indices collapsed into lo-hi ranges.
func (s *Set) String() string {
	cpus := s.ToSlice()
	if len(cpus) == 0 {
		return ""
	}
	var b strings.Builder
	lo, hi := cpus[0], cpus[0]
	flush := func() {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		if lo == hi {
			fmt.Fprintf(&b, "%d", lo)
		} else {
			fmt.Fprintf(&b, "%d-%d", lo, hi)
		}
	}
	for _, c := range cpus[1:] {
		if c == hi+1 {
			hi = c
			continue
		}
		flush()
		lo, hi = c, c
	}
	flush()
	return b.String()
}
