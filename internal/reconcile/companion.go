package reconcile

import (
	"context"
	"log/slog"
	"sync"

	"relaycast/internal/transcoder"
	"relaycast/internal/voicechat"
)

// multiCompanion fans transcoder.Companion's Start/Stop out over every
// ts:// mixin feeder attached to a forward unit. A unit supports exactly one
// Companion; a forward Output can carry several voice-chat
// mixins, so this adapts the 1:N relationship onto that single-companion
// contract.
type multiCompanion struct {
	feeders []*voicechat.Feeder
	logger  *slog.Logger
}

func newMultiCompanion(plans []mixinPlan, pipeDir string, logger *slog.Logger) (transcoder.Companion, error) {
	if len(plans) == 0 {
		return nil, nil
	}
	mc := &multiCompanion{logger: logger}
	for _, p := range plans {
		// Only ts:// mixins need a feeder; http(s) assets are read by the
		// encoder directly.
		if p.pipePath == "" {
			continue
		}
		feeder, err := voicechat.New(voicechat.DefaultConfig(p.srcURL, p.pipePath))
		if err != nil {
			return nil, err
		}
		mc.feeders = append(mc.feeders, feeder)
	}
	if len(mc.feeders) == 0 {
		return nil, nil
	}
	return mc, nil
}

func (mc *multiCompanion) Start(ctx context.Context) error {
	var wg sync.WaitGroup
	for _, f := range mc.feeders {
		wg.Add(1)
		go func(f *voicechat.Feeder) {
			defer wg.Done()
			if err := f.Start(ctx); err != nil && mc.logger != nil {
				mc.logger.Warn("mixin feeder failed to start", "error", err)
			}
		}(f)
	}
	wg.Wait()
	return nil
}

func (mc *multiCompanion) Stop() {
	var wg sync.WaitGroup
	for _, f := range mc.feeders {
		wg.Add(1)
		go func(f *voicechat.Feeder) {
			defer wg.Done()
			f.Stop()
		}(f)
	}
	wg.Wait()
}
