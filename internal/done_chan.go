package internal

// DoneChan is closed once the thing it represents (a loop runner's
// background goroutines) has fully stopped.
type DoneChan chan struct{}

// DoneFunc starts a shutdown and returns a channel that closes once it
// finishes.
type DoneFunc func() DoneChan
