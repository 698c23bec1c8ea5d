package main

import (
	"context"
	"encoding/base64"
	"net/http"
	"os"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"

	"github.com/wolfman30/dental-booking-platform/cmd/mainconfig"
	"github.com/wolfman30/dental-booking-platform/internal/app/bootstrap"
	"github.com/wolfman30/dental-booking-platform/internal/http/handlers"
	"github.com/wolfman30/dental-booking-platform/pkg/logging"
)

const webhookPath = "/webhooks/telnyx/messages"

// webhookHandler is satisfied by *handlers.TelnyxWebhookHandler.
type webhookHandler interface {
	Handle(ctx context.Context, timestamp, signature string, body []byte) int
}

// Each invocation handles one inbound webhook and runs the debounce
// coordinator inline, so the invocation that wins the conversation lock also
// drains the burst.
func main() {
	ctx := context.Background()
	cfg, awsCfg, err := mainconfig.Load(ctx)
	if err != nil {
		logging.Default().Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel)

	core, err := bootstrap.BuildCore(ctx, cfg, awsCfg, nil, logger)
	if err != nil {
		logger.Error("failed to build booking pipeline", "error", err)
		os.Exit(1)
	}
	webhook, err := core.WebhookHandler(handlers.ModeInline, awsCfg)
	if err != nil {
		logger.Error("failed to build webhook handler", "error", err)
		core.Close()
		os.Exit(1)
	}
	defer core.Close()

	lambda.Start(func(ctx context.Context, evt events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
		return handle(ctx, webhook, evt)
	})
}

func handle(ctx context.Context, webhook webhookHandler, evt events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	method := strings.ToUpper(strings.TrimSpace(evt.RequestContext.HTTP.Method))
	path := strings.TrimSpace(evt.RawPath)
	if path == "" {
		path = strings.TrimSpace(evt.RequestContext.HTTP.Path)
	}

	if path == "/health" || path == "/_health" {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusOK, Body: "ok"}, nil
	}
	if path != webhookPath {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusNotFound}, nil
	}
	if method != http.MethodPost {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusMethodNotAllowed}, nil
	}

	body, err := decodeBody(evt)
	if err != nil {
		return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusBadRequest, Body: "invalid body"}, nil
	}

	status := webhook.Handle(ctx,
		headerValue(evt.Headers, "telnyx-timestamp"),
		headerValue(evt.Headers, "telnyx-signature"),
		body,
	)
	return events.APIGatewayV2HTTPResponse{StatusCode: status}, nil
}

func decodeBody(evt events.APIGatewayV2HTTPRequest) ([]byte, error) {
	if !evt.IsBase64Encoded {
		return []byte(evt.Body), nil
	}
	return base64.StdEncoding.DecodeString(evt.Body)
}

func headerValue(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return v
		}
	}
	return ""
}
