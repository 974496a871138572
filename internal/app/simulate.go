package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"ratewatch/internal/storage"
)

// SimulateAlert 用给定的买入/卖出价格对种子规则执行一次评估，并真实发送告警。
func (a *App) SimulateAlert(ctx context.Context, buy, sell decimal.Decimal) error {
	registry := a.newNotifiers()
	if len(registry) == 0 {
		return errors.New("未配置任何告警通道")
	}

	engine, err := a.newEngine(registry)
	if err != nil {
		return err
	}
	if len(engine.Rules()) == 0 {
		return errors.New("未配置任何告警规则 (alerting.rules_file)")
	}

	sample := storage.Sample{
		Timestamp: time.Now().UTC(),
		Source:    "simulated",
		Buy:       buy,
		Sell:      sell,
	}
	if err := sample.Validate(); err != nil {
		return err
	}

	res := engine.Evaluate(ctx, sample)
	fmt.Fprintf(a.out(), "rules=%d triggered=%d sent=%d failed=%d\n", len(engine.Rules()), res.Triggered, res.Sent, res.Failed)
	if res.Failed > 0 {
		return fmt.Errorf("%d notification(s) failed; see log", res.Failed)
	}
	return nil
}
