package cronjob

import (
	"slices"
	"time"

	"github.com/tgifai/taskd/internal/task"
)

// resolver decides which dependents fire when an upstream settles. It is
// only used under the engine lock.
//
// "any" dependents fire once per cycle: the first upstream to settle fires
// the dependent; the rest of that cycle's upstreams are absorbed. The
// cycle closes once every upstream has settled, or when an upstream that
// already settled in the open cycle settles again.
type resolver struct {
	window  time.Duration
	settled map[string]map[string]struct{}
}

func newResolver(window time.Duration) *resolver {
	if window <= 0 {
		window = time.Hour
	}
	return &resolver{window: window, settled: make(map[string]map[string]struct{})}
}

// resolve returns the ids of dependents to fire now that upstream settled.
func (r *resolver) resolve(upstream string, success bool, tasks map[string]*task.ScheduledTask, now time.Time) []string {
	var fire []string
	for _, d := range tasks {
		if !d.Enabled || d.ID == upstream || !d.HasDependency(upstream) {
			continue
		}
		deps := d.Dependencies
		if !success && deps.OnFailure != task.OnFailureRun {
			continue
		}

		switch deps.Mode {
		case task.ModeAny:
			if r.admitAny(d.ID, upstream, deps.TaskIDs) {
				fire = append(fire, d.ID)
			}
		default:
			if r.allMet(upstream, deps.TaskIDs, tasks, now) {
				fire = append(fire, d.ID)
			}
		}
	}
	slices.Sort(fire)
	return fire
}

func (r *resolver) admitAny(dependent, upstream string, upstreams []string) bool {
	set, open := r.settled[dependent]
	_, seen := set[upstream]
	fire := !open || seen
	if fire {
		set = make(map[string]struct{}, len(upstreams))
		r.settled[dependent] = set
	}
	set[upstream] = struct{}{}

	complete := true
	for _, id := range upstreams {
		if _, ok := set[id]; !ok {
			complete = false
			break
		}
	}
	if complete {
		delete(r.settled, dependent)
	}
	return fire
}

// allMet reports whether every other upstream ran within the recency window.
func (r *resolver) allMet(upstream string, upstreams []string, tasks map[string]*task.ScheduledTask, now time.Time) bool {
	for _, id := range upstreams {
		if id == upstream {
			continue
		}
		u, ok := tasks[id]
		if !ok || u.LastRun == nil || now.Sub(*u.LastRun) > r.window {
			return false
		}
	}
	return true
}

// rearm forgets the open "any" cycle of a dependent.
func (r *resolver) rearm(dependent string) {
	delete(r.settled, dependent)
}

// forget drops every trace of a removed task.
func (r *resolver) forget(id string) {
	delete(r.settled, id)
	for _, set := range r.settled {
		delete(set, id)
	}
}

func (r *resolver) reset() {
	clear(r.settled)
}
