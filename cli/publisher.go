package cli

import (
	"fmt"

	"github.com/santiagomed/carbo/core"
	"github.com/santiagomed/carbo/logger"
)

// jobOutcomeMsg carries a terminal job event into the bubbletea loop.
type jobOutcomeMsg struct {
	job       core.CalculationJob
	completed bool
}

// WizardPublisher bridges the orchestrator's terminal events onto a channel
// the bubbletea model listens on.
type WizardPublisher struct {
	outcomeChan chan jobOutcomeMsg
	logger      logger.Logger
}

func NewWizardPublisher(logger logger.Logger) *WizardPublisher {
	return &WizardPublisher{
		outcomeChan: make(chan jobOutcomeMsg, 10), // Buffer size of 10
		logger:      logger,
	}
}

func (p *WizardPublisher) JobCompleted(job core.CalculationJob) {
	p.publish(jobOutcomeMsg{job: job, completed: true})
}

func (p *WizardPublisher) JobFailed(job core.CalculationJob) {
	p.publish(jobOutcomeMsg{job: job, completed: false})
}

func (p *WizardPublisher) publish(msg jobOutcomeMsg) {
	select {
	case p.outcomeChan <- msg:
		p.logger.Debug(fmt.Sprintf("Published outcome for job %s", msg.job.ID))
	default:
		p.logger.Warn(fmt.Sprintf("Failed to publish outcome for job %s. Channel full.", msg.job.ID))
	}
}
