package daqsync

import (
	"github.com/usnistgov/daqsync/driver"
)

// ClockDistributor decides where each task's sample clock comes from. Root
// generates the one shared clock; every other task references the root's
// clock terminal directly, so no sibling derives its own copy of the clock.
type ClockDistributor struct {
	Root Role
}

// Assign gives every task with an unassigned clock mode its place under the
// policy. It fails if a task other than Root asks to generate a clock while
// the root exists.
func (cd ClockDistributor) Assign(tasks map[Role]*DeviceTask) error {
	root, ok := tasks[cd.Root]
	if !ok {
		return clockErrorf("no %s task to generate the sample clock", cd.Root)
	}
	for _, r := range AllRoles {
		t, ok := tasks[r]
		if !ok {
			continue
		}
		switch {
		case t == root && t.Clock.Kind == ClockUnassigned:
			t.Clock = Generates()
		case t == root && t.Clock.Kind != ClockGenerates:
			return clockErrorf("clock root %s is set to %s", r, t.Clock)
		case t.Clock.Kind == ClockGenerates:
			return clockErrorf("%s generates a sample clock, but %s is already the clock root", r, cd.Root)
		case t.Clock.Kind == ClockUnassigned:
			t.Clock = ReferencesClockOf(cd.Root)
		}
	}
	return nil
}

// Validate checks that exactly one task generates the clock and that every
// clock reference resolves, without cycles, to that root.
func (cd ClockDistributor) Validate(tasks map[Role]*DeviceTask) error {
	var roots []Role
	for _, r := range AllRoles {
		if t, ok := tasks[r]; ok && t.Clock.Kind == ClockGenerates {
			roots = append(roots, r)
		}
	}
	if len(roots) != 1 {
		return clockErrorf("want exactly 1 task generating the sample clock, have %d %v", len(roots), roots)
	}
	for r, t := range tasks {
		if _, err := cd.depth(tasks, t); err != nil {
			return clockErrorf("%s: %v", r, err)
		}
	}
	return nil
}

// depth follows clock references from t up to the root, returning the
// number of hops.
func (cd ClockDistributor) depth(tasks map[Role]*DeviceTask, t *DeviceTask) (int, error) {
	seen := make(map[Role]bool)
	hops := 0
	for t.Clock.Kind == ClockReferences {
		if seen[t.Role] {
			return 0, clockErrorf("clock references form a cycle through %s", t.Role)
		}
		seen[t.Role] = true
		ref, ok := tasks[t.Clock.Ref]
		if !ok {
			return 0, clockErrorf("references the clock of %s, which is not in the graph", t.Clock.Ref)
		}
		t = ref
		hops++
	}
	if t.Clock.Kind != ClockGenerates {
		return 0, clockErrorf("%s has no clock assignment", t.Role)
	}
	return hops, nil
}

// Configure sets the sample clock of every task on the hardware: the root
// first, then each task after the task whose clock it references.
func (cd ClockDistributor) Configure(tasks map[Role]*DeviceTask) error {
	maxDepth := 0
	depths := make(map[Role]int)
	for r, t := range tasks {
		d, err := cd.depth(tasks, t)
		if err != nil {
			return err
		}
		depths[r] = d
		maxDepth = max(maxDepth, d)
	}
	for d := 0; d <= maxDepth; d++ {
		for _, r := range AllRoles {
			if t, ok := tasks[r]; ok && depths[r] == d {
				if err := cd.configureTask(tasks, t); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// configureTask configures one task's sample clock. A referencing task needs
// the referenced task's clock to be configured already.
func (cd ClockDistributor) configureTask(tasks map[Role]*DeviceTask, t *DeviceTask) error {
	source := driver.InternalClock
	if t.Clock.Kind == ClockReferences {
		ref, ok := tasks[t.Clock.Ref]
		if !ok {
			return clockErrorf("%s references the clock of %s, which is not in the graph", t.Role, t.Clock.Ref)
		}
		if !ref.clockConfigured {
			return clockErrorf("%s references the clock of %s, which is not configured yet", t.Role, ref.Role)
		}
		source = ref.handle.SampleClockTerminal()
	} else if t.Clock.Kind != ClockGenerates {
		return clockErrorf("%s has no clock assignment", t.Role)
	}
	mode, count := t.sampleMode()
	if err := t.handle.ConfigureSampleClock(source, t.SampleRate, driver.Rising, mode, count); err != nil {
		return &TaskError{Kind: ErrClockSync, Role: t.Role, Op: "configure sample clock", Err: err}
	}
	t.clockConfigured = true
	return nil
}
