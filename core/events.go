package core

// JobPublisher receives the terminal outcome of a calculation job. Exactly one
// of the two methods fires per job, after the poll loop has stopped.
type JobPublisher interface {
	JobCompleted(job CalculationJob)
	JobFailed(job CalculationJob)
}

type NullJobPublisher struct{}

func (NullJobPublisher) JobCompleted(job CalculationJob) {}

func (NullJobPublisher) JobFailed(job CalculationJob) {}
