package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/guseggert/rpcconn/cancellation"
	"github.com/guseggert/rpcconn/conn"
	"github.com/guseggert/rpcconn/message"
	"go.uber.org/zap"
)

var (
	sumRequest   = conn.RequestType[[]float64, float64]{Method: "sum"}
	echoRequest  = conn.RequestType[json.RawMessage, json.RawMessage]{Method: "echo"}
	sleepRequest = conn.RequestType[sleepParams, sleepResult]{Method: "sleep"}
	logNotify    = conn.NotificationType[logParams]{Method: "log"}
)

type sleepParams struct {
	Duration string `json:"duration"`
}

type sleepResult struct {
	Slept string `json:"slept"`
}

type logParams struct {
	Message string `json:"message"`
}

// registerMethods installs the methods served by the agent.
func registerMethods(c *conn.Connection, logger *zap.SugaredLogger) {
	conn.HandleRequest(c, sumRequest, func(ctx context.Context, nums []float64, token cancellation.Token) (float64, error) {
		var total float64
		for _, n := range nums {
			total += n
		}
		return total, nil
	})
	conn.HandleRequest(c, echoRequest, func(ctx context.Context, params json.RawMessage, token cancellation.Token) (json.RawMessage, error) {
		return params, nil
	})
	conn.HandleRequest(c, sleepRequest, sleep)
	conn.HandleNotification(c, logNotify, func(ctx context.Context, params logParams) {
		logger.Infow("peer log", "conn", c.ID(), "message", params.Message)
	})
}

// sleep waits for the requested duration unless the caller cancels first.
func sleep(ctx context.Context, params sleepParams, token cancellation.Token) (sleepResult, error) {
	d, err := time.ParseDuration(params.Duration)
	if err != nil {
		return sleepResult{}, message.Errorf(message.InvalidParams, "parsing duration: %s", err)
	}
	start := time.Now()
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return sleepResult{Slept: time.Since(start).String()}, nil
	case <-token.Done():
	case <-ctx.Done():
	}
	return sleepResult{}, message.NewError(message.RequestCancelled, fmt.Sprintf("sleep cancelled after %s", time.Since(start).Round(time.Millisecond)))
}
