package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/machinefabric/adsbridge-go/ability"
	"github.com/machinefabric/adsbridge-go/bridge"
	"github.com/machinefabric/adsbridge-go/config"
	"github.com/machinefabric/adsbridge-go/rpc"
)

var waitTimeout time.Duration

var invokeCmd = &cobra.Command{
	Use:   "invoke [method] [arg]",
	Short: "Send one bridge call to the JS bridge ability",
	Args:  cobra.RangeArgs(1, 2),
	RunE:  runInvoke,
}

var parseCmd = &cobra.Command{
	Use:   "parse [ad-response]",
	Short: "Ask the API ability to parse an ad response",
	Args:  cobra.ExactArgs(1),
	RunE:  runParse,
}

func init() {
	for _, cmd := range []*cobra.Command{invokeCmd, parseCmd} {
		cmd.Flags().DurationVar(&waitTimeout, "timeout", 30*time.Second, "How long to wait for the answer")
	}
}

// newDispatcher wires a dispatcher to the configured endpoints and ad
// service config.
func newDispatcher() (*bridge.Dispatcher, func(), error) {
	endpoints, err := endpointDirectory(appConfig)
	if err != nil {
		return nil, nil, err
	}
	connector := ability.NewNetConnector(endpoints, rpc.Config{Logger: logger})
	d := bridge.NewDispatcher(bridge.Options{
		Connector:      connector,
		Config:         config.NewCached(config.NewResolver(appConfig.Locator(), logger)),
		Logger:         logger,
		ConnectTimeout: appConfig.GetConnectTimeout(),
	})
	cleanup := func() {
		d.Close()
		connector.Close()
	}
	return d, cleanup, nil
}

func runInvoke(cmd *cobra.Command, args []string) error {
	d, cleanup, err := newDispatcher()
	if err != nil {
		return err
	}
	defer cleanup()

	method, arg := args[0], ""
	if len(args) > 1 {
		arg = args[1]
	}
	type answer struct {
		data string
		ok   bool
	}
	answers := make(chan answer, 1)
	if err := d.Invoke(method, arg, func(data string, ok bool) {
		answers <- answer{data, ok}
	}); err != nil {
		return err
	}

	select {
	case a := <-answers:
		if !a.ok {
			return fmt.Errorf("bridge call %s could not be routed", method)
		}
		fmt.Fprintln(cmd.OutOrStdout(), a.data)
		return nil
	case <-time.After(waitTimeout):
		logger.Warn("bridge call unanswered", zap.String("method", method), zap.Duration("timeout", waitTimeout))
		return context.DeadlineExceeded
	}
}

func runParse(cmd *cobra.Command, args []string) error {
	d, cleanup, err := newDispatcher()
	if err != nil {
		return err
	}
	defer cleanup()

	results := make(chan map[string]interface{}, 1)
	failures := make(chan error, 1)
	err = d.ParseResponse(args[0], bridge.ParseResponseListener{
		OnSuccess: func(result map[string]interface{}) { results <- result },
		OnFailure: func(code int, message string) {
			failures <- &bridge.BusinessError{Code: code, Message: message}
		},
	})
	if err != nil {
		return err
	}

	select {
	case result := <-results:
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	case err := <-failures:
		return err
	case <-time.After(waitTimeout):
		return context.DeadlineExceeded
	}
}
