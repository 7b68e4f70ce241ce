package tracker

import (
	"encoding/gob"
	"log"
	"os"
)

// LossData holds the per-cycle loss curves saved by a Loss Tracker.
type LossData struct {
	ValueLoss  []float64
	PolicyLoss []float64
	Entropy    []float64
}

// Loss tracks and saves the value loss, policy loss, and policy
// entropy of every update cycle.
type Loss struct {
	data     LossData
	filename string
}

// NewLoss creates and returns a new *Loss Tracker
func NewLoss(filename string) Tracker {
	return &Loss{filename: filename}
}

// Track records the losses of one training cycle
func (l *Loss) Track(u Update) {
	l.data.ValueLoss = append(l.data.ValueLoss, u.ValueLoss)
	l.data.PolicyLoss = append(l.data.PolicyLoss, u.PolicyLoss)
	l.data.Entropy = append(l.data.Entropy, u.Entropy)
}

// Save saves the data tracked by the Loss Tracker to disk.
func (l *Loss) Save() {
	file, err := os.Create(l.filename)
	if err != nil {
		log.Fatalf("could not open save file: %v", err)
	}
	defer file.Close()

	en := gob.NewEncoder(file)
	if err = en.Encode(l.data); err != nil {
		log.Fatalf("could not encode loss data: %v", err)
	}
}

// LoadLossData loads and returns the data saved by a Loss Tracker
func LoadLossData(filename string) LossData {
	file, err := os.Open(filename)
	if err != nil {
		log.Fatalf("could not open data file: %v", err)
	}
	defer file.Close()

	dec := gob.NewDecoder(file)
	var data LossData
	if err := dec.Decode(&data); err != nil {
		log.Fatalf("could not decode data: %v", err)
	}
	return data
}
