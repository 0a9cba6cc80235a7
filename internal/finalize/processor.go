package finalize

import (
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
)

// Processor runs the periodic sweep. It is the guarantee that expired rounds
// and overdue tiebreaker windows finalize even when no reader or committee
// action ever touches them.
type Processor struct {
	service  *Service
	cron     *cron.Cron
	schedule string
}

func NewProcessor(service *Service, schedule string) *Processor {
	return &Processor{
		service:  service,
		cron:     cron.New(cron.WithSeconds()),
		schedule: schedule,
	}
}

func (p *Processor) Start() error {
	_, err := p.cron.AddFunc(p.schedule, func() {
		p.service.SweepExpired(time.Now())
	})
	if err != nil {
		return err
	}
	p.cron.Start()
	log.Info().Str("schedule", p.schedule).Msg("Finalization sweep started")
	return nil
}

// Stop halts scheduling and waits for an in-flight sweep to finish.
func (p *Processor) Stop() {
	ctx := p.cron.Stop()
	<-ctx.Done()
	log.Info().Msg("Finalization sweep stopped")
}
