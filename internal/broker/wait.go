package broker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// WaitForFill polls the given orders until all are filled or timeout elapses.
// It returns the ids still unfilled; unfilled orders are logged, not treated as errors.
func WaitForFill(ctx context.Context, gw Gateway, ids []string, poll, timeout time.Duration, logger *zap.SugaredLogger) ([]string, error) {
	open, err := unfilled(ctx, gw, ids)
	if err != nil {
		return open, err
	}
	if len(open) == 0 {
		logger.Infof("[%d] orders filled", len(ids))
		return nil, nil
	}

	waited := time.Duration(0)
	for len(open) > 0 {
		logger.Infof("Waiting for orders to fill. [%d] open orders remaining.", len(open))
		select {
		case <-ctx.Done():
			return open, ctx.Err()
		case <-time.After(poll):
		}
		waited += poll
		if waited >= timeout {
			break
		}
		if open, err = unfilled(ctx, gw, open); err != nil {
			return open, err
		}
	}

	if len(open) == 0 {
		logger.Info("All orders are filled")
	} else {
		logger.Warnf("[%d] orders not filled: %v", len(open), open)
	}
	return open, nil
}

func unfilled(ctx context.Context, gw Gateway, ids []string) ([]string, error) {
	var remaining []string
	for _, id := range ids {
		order, err := gw.GetOrder(ctx, id)
		if err != nil {
			return ids, err
		}
		if !order.Filled() {
			remaining = append(remaining, id)
		}
	}
	return remaining, nil
}
