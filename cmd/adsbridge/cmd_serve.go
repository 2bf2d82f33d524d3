package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/machinefabric/adsbridge-go/ads"
	"github.com/machinefabric/adsbridge-go/bridge"
	"github.com/machinefabric/adsbridge-go/rpc"
)

var (
	serveRole   string
	serveListen []string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a reference ability",
	Long: `Serves one reference ability on the configured listen endpoints.

Roles:
  bridge  JS bridge and API ability: "echo" method, ad response parsing
  kit     ad kit ability: ad loading, request bodies, ad display`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveRole, "role", "bridge", "Ability to serve: bridge or kit")
	serveCmd.Flags().StringSliceVar(&serveListen, "listen", nil, "Listen endpoints (unix://, tcp://, ws://); overrides the config")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root, err := referenceAbility(ctx, serveRole, logger)
	if err != nil {
		return err
	}
	listen := serveListen
	if len(listen) == 0 {
		listen = appConfig.Listen
	}
	if len(listen) == 0 {
		return fmt.Errorf("no listen endpoints configured")
	}

	srv := rpc.NewServer(root, rpc.Config{Logger: logger})
	logger.Info("serving ability", zap.String("role", serveRole), zap.Strings("listen", listen))
	return srv.ListenAndServe(ctx, listen)
}

func referenceAbility(ctx context.Context, role string, log *zap.Logger) (rpc.RemoteObject, error) {
	switch role {
	case "bridge":
		svc := bridge.NewService(ctx, log)
		svc.Handle("echo", func(_ context.Context, arg string) (string, error) {
			return arg, nil
		})
		svc.HandleParse(parseAdResponse)
		return svc, nil
	case "kit":
		kit := ads.NewKitService(ctx, log)
		kit.HandleLoad(func(_ context.Context, request, _ string, loadAdType int32) (string, error) {
			if loadAdType == ads.LoadTypeMulti {
				return "{}", nil
			}
			return "[]", nil
		})
		kit.HandleRequestBody(func(_ context.Context, request, options string) (string, error) {
			body, err := json.Marshal(map[string]json.RawMessage{
				"slots":   json.RawMessage(request),
				"options": json.RawMessage(options),
			})
			return string(body), err
		})
		return kit, nil
	}
	return nil, fmt.Errorf("unknown role %q: want bridge or kit", role)
}

// parseAdResponse accepts responses that are JSON objects and answers with
// them unchanged.
func parseAdResponse(_ context.Context, payload string) (int32, string) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal([]byte(payload), &obj); err != nil {
		return bridge.CodeParseResponseError, ""
	}
	return bridge.CodeSuccess, payload
}
