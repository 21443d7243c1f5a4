package health

import "time"

// Heartbeat registers subsystem with rec and reports ready() every timeout/2
// until done is closed, then unregisters it. It blocks, so run it in its own
// goroutine.
func Heartbeat(rec Recorder, subsystem string, timeout time.Duration, ready func() bool, done <-chan struct{}) {
	if rec == nil {
		<-done
		return
	}
	rec.Register(subsystem, timeout)
	rec.Ready(subsystem, ready())
	defer rec.Unregister(subsystem)

	ticker := time.NewTicker(timeout / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rec.Ready(subsystem, ready())
		case <-done:
			return
		}
	}
}
