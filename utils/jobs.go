package utils

type JobPool struct {
	jobs chan struct{}
}

func (p *JobPool) Get() {
	<-p.jobs
}

func (p *JobPool) Put() {
	p.jobs <- struct{}{}
}

func NewJobPool(size int) (j *JobPool) {
	j = &JobPool{jobs: make(chan struct{}, size)}
	for range size {
		j.jobs <- struct{}{}
	}
	return j
}
