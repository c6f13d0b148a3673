package train

// averageDecay weighs the running loss and accuracy reported during training.
const averageDecay = float32(0.95)

// movingAverage folds newValue into the exponentially decayed average. The decay is
// capped at 1-1/count, so the first values are plain averages instead of being
// biased toward zero.
func movingAverage(average, newValue, decay float32, count int) float32 {
	decay = min(1-1/float32(count), decay)
	return average*decay + (1-decay)*newValue
}

// RunningStats tracks decayed averages of the training loss and pair accuracy.
type RunningStats struct {
	count          int
	loss, accuracy float32
}

// Update folds the measurements of one training step into the averages.
func (s *RunningStats) Update(loss, accuracy float32) {
	s.count++
	s.loss = movingAverage(s.loss, loss, averageDecay, s.count)
	s.accuracy = movingAverage(s.accuracy, accuracy, averageDecay, s.count)
}

// Loss returns the decayed average loss.
func (s *RunningStats) Loss() float32 { return s.loss }

// Accuracy returns the decayed average pair accuracy, in [0, 1].
func (s *RunningStats) Accuracy() float32 { return s.accuracy }

// Count returns the number of steps folded in.
func (s *RunningStats) Count() int { return s.count }
