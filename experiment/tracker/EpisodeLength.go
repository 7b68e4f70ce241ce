package tracker

// EpisodeLength tracks and saves the number of timesteps in each
// completed episode over training, in the order the episodes finished.
type EpisodeLength struct {
	episodeLengths []float64
	filename       string
}

// NewEpisodeLength creates and returns a new *EpisodeLength Tracker
func NewEpisodeLength(filename string) Tracker {
	return &EpisodeLength{filename: filename}
}

// Track records the lengths of the episodes completed by one training
// cycle
func (e *EpisodeLength) Track(u Update) {
	for _, ep := range u.Episodes {
		e.episodeLengths = append(e.episodeLengths, float64(ep.Length))
	}
}

// Save saves the data tracked by the EpisodeLength Tracker to disk.
func (e *EpisodeLength) Save() {
	save(e.filename, e.episodeLengths)
}
