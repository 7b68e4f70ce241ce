// Package tracker implements Trackers, which track and save data
// generated while training
package tracker

import (
	"encoding/gob"
	"log"
	"os"

	"github.com/samuelfneumann/gopg/environment"
)

// Update packages together everything one training cycle produced:
// the losses of the gradient step and the stats of any episodes that
// finished while collecting the cycle's rollout.
type Update struct {
	Cycle      int
	Timesteps  int // Total environment steps taken so far
	ValueLoss  float64
	PolicyLoss float64
	Entropy    float64
	Episodes   []environment.EpisodeResult
}

// Interface Tracker keeps track of training data and saves the data
// after training has finished
type Tracker interface {
	Track(Update)
	Save()
}

// LoadData loads and returns the data saved by a Tracker
func LoadData(filename string) []float64 {
	// Open file
	file, err := os.Open(filename)
	if err != nil {
		log.Fatalf("could not open data file: %v", err)
	}
	defer file.Close()

	// Create the decoder and the variable to store the data in
	dec := gob.NewDecoder(file)
	var data []float64

	// Decode the data
	err = dec.Decode(&data)
	if err != nil {
		log.Fatalf("could not decode data: %v", err)
	}

	return data
}

// save gob-encodes a slice of data to a file
func save(filename string, data []float64) {
	file, err := os.Create(filename)
	if err != nil {
		log.Fatalf("could not open save file: %v", err)
	}
	defer file.Close()

	en := gob.NewEncoder(file)
	if err = en.Encode(data); err != nil {
		log.Fatalf("could not encode tracked data: %v", err)
	}
}
