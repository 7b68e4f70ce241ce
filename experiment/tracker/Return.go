package tracker

// Return tracks and saves the episodic return over training. Every
// episode completed in any environment lane contributes one value, in
// the order the episodes finished.
//
// Note: An episode must finish for this Tracker to save its data.
// Episodes still in progress when training ends are not saved.
type Return struct {
	episodeReturns []float64
	filename       string
}

// NewReturn creates and returns a new *Return Tracker
func NewReturn(filename string) Tracker {
	return &Return{filename: filename}
}

// Track records the returns of the episodes completed by one training
// cycle
func (r *Return) Track(u Update) {
	for _, ep := range u.Episodes {
		r.episodeReturns = append(r.episodeReturns, ep.Return)
	}
}

// Save saves the data tracked by the Return Tracker to disk.
func (r *Return) Save() {
	save(r.filename, r.episodeReturns)
}
