package domain

// Clone returns a deep copy that shares no maps or pointers with s.
func (s State) Clone() State {
	out := s
	out.Progression.Unlocks = make(map[string]bool, len(s.Progression.Unlocks))
	for k, v := range s.Progression.Unlocks {
		out.Progression.Unlocks[k] = v
	}
	out.Research = s.Research.Clone()
	out.Rocket = s.Rocket.Clone()
	return out
}

func (r Research) Clone() Research {
	return Research{
		Available: cloneTasks(r.Available),
		Active:    cloneTasks(r.Active),
		Completed: cloneTasks(r.Completed),
	}
}

func cloneTasks(m map[string]*Task) map[string]*Task {
	out := make(map[string]*Task, len(m))
	for id, t := range m {
		c := *t
		out[id] = &c
	}
	return out
}

func (r Rocket) Clone() Rocket {
	out := r
	out.Engines = make(map[EngineKind]*Engine, len(r.Engines))
	for k, e := range r.Engines {
		c := *e
		out.Engines[k] = &c
	}
	return out
}
