package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	_ "time/tzdata"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awsssm "github.com/aws/aws-sdk-go-v2/service/ssm"

	"finbot/handler"
	"finbot/internal/config"
	"finbot/internal/dialogue"
	"finbot/internal/integrations/messenger"
	"finbot/internal/integrations/paramstore"
	"finbot/internal/repository"
	"finbot/internal/usecase"
)

func main() {
	ctx := context.Background()

	// ---- Configuration ----
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	logger := config.NewLogger(cfg.Log, os.Stderr)

	loc, err := cfg.Dialogue.Location()
	if err != nil {
		fatal(logger, "failed to load time zone", err)
	}
	tpl, err := dialogue.LoadTemplates(cfg.Dialogue.TemplatesPath)
	if err != nil {
		fatal(logger, "failed to load response templates", err)
	}

	// ---- AWS SDK config ----
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		fatal(logger, "failed to load AWS config", err)
	}

	// ---- Clients ----
	ssmClient, err := paramstore.New(awsssm.NewFromConfig(awsCfg))
	if err != nil {
		fatal(logger, "failed to create SSM client", err)
	}
	secrets, err := paramstore.LoadWebhookSecrets(ctx, ssmClient, cfg.ParamPrefix)
	if err != nil {
		fatal(logger, "failed to load webhook secrets", err)
	}
	if secrets.AppSecret == "" {
		logger.Warn("app secret not configured, webhook signatures are not checked")
	}

	store, err := repository.New(awsdynamodb.NewFromConfig(awsCfg), cfg.StateTable, repository.WithEventTTL(cfg.Webhook.EventTTL))
	if err != nil {
		fatal(logger, "failed to create state client", err)
	}

	messengerClient, err := messenger.NewClient(ssmClient, cfg.ParamPrefix,
		messenger.WithBaseURL(cfg.Messenger.GraphAPIURL),
		messenger.WithHTTPClient(&http.Client{Timeout: cfg.Messenger.HTTPTimeout}),
	)
	if err != nil {
		fatal(logger, "failed to create messenger client", err)
	}

	// ---- Handler ----
	machine, err := dialogue.NewMachine(tpl, cfg.Dialogue.MaxCategoriesPerMessage)
	if err != nil {
		fatal(logger, "failed to create dialogue machine", err)
	}
	dispatcher, err := usecase.NewDispatcher(store, messengerClient, messengerClient, machine,
		usecase.WithLocation(loc),
		usecase.WithLogger(logger),
	)
	if err != nil {
		fatal(logger, "failed to create dispatcher", err)
	}

	h, err := handler.NewHandler(dispatcher, secrets.VerifyToken,
		handler.WithAppSecret(secrets.AppSecret),
		handler.WithConcurrency(cfg.Webhook.Concurrency),
		handler.WithLogger(logger),
	)
	if err != nil {
		fatal(logger, "failed to create handler", err)
	}

	lambda.Start(h.Handle)
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "err", err)
	os.Exit(1)
}
