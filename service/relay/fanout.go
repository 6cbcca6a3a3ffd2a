package relay

type fanoutJob struct {
	conns   []*WsConn
	payload []byte
}

// Fanout is a bounded worker pool for broadcast writes. Enqueueing a job
// never blocks the event-processing path; slow clients drop frames in
// WsConn.Enqueue instead of stalling the pool.
type Fanout struct {
	jobs chan fanoutJob
}

func NewFanout(workers, queue int) *Fanout {
	f := &Fanout{jobs: make(chan fanoutJob, queue)}
	for i := 0; i < workers; i++ {
		go func() {
			for job := range f.jobs {
				for _, c := range job.conns {
					c.Enqueue(job.payload)
				}
			}
		}()
	}
	return f
}

func (f *Fanout) Broadcast(conns []*WsConn, payload []byte) {
	if len(conns) == 0 || len(payload) == 0 {
		return
	}
	f.jobs <- fanoutJob{conns: conns, payload: payload}
}

func (f *Fanout) Close() { close(f.jobs) }
