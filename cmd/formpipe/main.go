// Command formpipe collects structured form data from natural-language input
// via an LLM extraction call and forwards validated records to an n8n webhook.
//
// It runs in one of five modes: -serve (HTTP API), -input (one-shot
// processing), -interactive (stdin conversation loop), -schema (print the
// active schema) and -test-webhook (post the canonical sample record).
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/dignifi/formpipe/internal/api"
	"github.com/dignifi/formpipe/internal/conversation"
	"github.com/dignifi/formpipe/internal/extract"
	"github.com/dignifi/formpipe/internal/genai"
	"github.com/dignifi/formpipe/internal/models"
	"github.com/dignifi/formpipe/internal/pipeline"
	"github.com/dignifi/formpipe/internal/schema"
	"github.com/dignifi/formpipe/internal/store"
	"github.com/dignifi/formpipe/internal/util"
	"github.com/dignifi/formpipe/internal/webhook"
)

func main() {
	config := loadEnvironmentConfig()
	flags := parseCommandLineFlags(config)
	initializeLogger(*flags.debug)

	if err := run(flags); err != nil {
		slog.Error("FormPipe failed to run", "error", err)
		os.Exit(1)
	}
}

// Config holds environment configuration.
type Config struct {
	OpenAIKey           string
	Model               string
	WebhookURL          string
	Variant             string
	ConfidenceThreshold float64
	WebhookDelay        time.Duration
	WebhookTimeout      time.Duration
	SessionDSN          string
	APIAddr             string
	Debug               bool
}

// Flags holds command line flag values.
type Flags struct {
	serve               *bool
	input               *string
	interactive         *bool
	showSchema          *bool
	testWebhook         *bool
	openaiKey           *string
	model               *string
	webhookURL          *string
	variant             *string
	confidenceThreshold *float64
	webhookDelay        *time.Duration
	webhookTimeout      *time.Duration
	sessionDSN          *string
	apiAddr             *string
	debug               *bool
}

// initializeLogger sets up structured logging.
func initializeLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
}

// loadEnvironmentConfig loads configuration from environment variables and a .env file.
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	config := Config{
		OpenAIKey:           os.Getenv("OPENAI_API_KEY"),
		Model:               os.Getenv("OPENAI_MODEL"),
		WebhookURL:          os.Getenv("N8N_WEBHOOK_URL"),
		Variant:             os.Getenv("FORMPIPE_VARIANT"),
		ConfidenceThreshold: util.ParseFloatEnv("FORMPIPE_CONFIDENCE_THRESHOLD", conversation.DefaultConfidenceThreshold),
		WebhookDelay:        util.ParseDurationEnv("FORMPIPE_WEBHOOK_DELAY", webhook.DefaultDelay),
		WebhookTimeout:      util.ParseDurationEnv("FORMPIPE_WEBHOOK_TIMEOUT", webhook.DefaultTimeout),
		SessionDSN:          os.Getenv("FORMPIPE_SESSION_DSN"),
		APIAddr:             os.Getenv("API_ADDR"),
		Debug:               util.ParseBoolEnv("FORMPIPE_DEBUG", false),
	}
	if config.WebhookURL == "" {
		config.WebhookURL = webhook.DefaultEndpoint
	}
	if config.Variant == "" {
		config.Variant = string(schema.VariantCurrent)
	}
	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults.
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		serve:               flag.Bool("serve", false, "run the HTTP API server"),
		input:               flag.String("input", "", "process one text input and exit"),
		interactive:         flag.Bool("interactive", false, "run a conversation on stdin"),
		showSchema:          flag.Bool("schema", false, "print the active form schema and exit"),
		testWebhook:         flag.Bool("test-webhook", false, "post sample data to the webhook and exit"),
		openaiKey:           flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		model:               flag.String("model", config.Model, "completion model (overrides $OPENAI_MODEL)"),
		webhookURL:          flag.String("webhook-url", config.WebhookURL, "webhook endpoint (overrides $N8N_WEBHOOK_URL)"),
		variant:             flag.String("variant", config.Variant, "form schema variant: legacy or current (overrides $FORMPIPE_VARIANT)"),
		confidenceThreshold: flag.Float64("confidence-threshold", config.ConfidenceThreshold, "extraction merge threshold (overrides $FORMPIPE_CONFIDENCE_THRESHOLD)"),
		webhookDelay:        flag.Duration("webhook-delay", config.WebhookDelay, "courtesy delay before webhook posts (overrides $FORMPIPE_WEBHOOK_DELAY)"),
		webhookTimeout:      flag.Duration("webhook-timeout", config.WebhookTimeout, "webhook request timeout (overrides $FORMPIPE_WEBHOOK_TIMEOUT)"),
		sessionDSN:          flag.String("session-dsn", config.SessionDSN, "session store DSN, empty for in-memory (overrides $FORMPIPE_SESSION_DSN)"),
		apiAddr:             flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		debug:               flag.Bool("debug", config.Debug, "enable debug logging (overrides $FORMPIPE_DEBUG)"),
	}
	flag.Parse()
	return flags
}

// run dispatches the selected mode.
func run(flags Flags) error {
	activeSchema, err := schema.Get(schema.Variant(*flags.variant))
	if err != nil {
		return err
	}

	if *flags.showSchema {
		return printSchema(activeSchema)
	}

	submitter := webhook.NewClient(
		webhook.WithEndpoint(*flags.webhookURL),
		webhook.WithTimeout(*flags.webhookTimeout),
		webhook.WithDelay(*flags.webhookDelay),
	)

	if *flags.testWebhook {
		return testWebhook(submitter)
	}

	// Every remaining mode extracts, so the API credential is required up front.
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.model != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.model))
	}
	client, err := genai.NewClient(genaiOpts...)
	if err != nil {
		return err
	}
	extractor := extract.NewExtractor(client)

	sessions, err := buildSessionStore(*flags.sessionDSN)
	if err != nil {
		return err
	}
	defer sessions.Close()

	engine := conversation.NewEngine(sessions, extractor, submitter, activeSchema,
		conversation.WithConfidenceThreshold(*flags.confidenceThreshold))
	pipe := pipeline.New(extractor, submitter, activeSchema)

	switch {
	case *flags.input != "":
		return processInput(pipe, *flags.input)
	case *flags.interactive:
		return runInteractive(engine)
	case *flags.serve:
		fallthrough
	default:
		var apiOpts []api.Option
		if *flags.apiAddr != "" {
			apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
		}
		server := api.NewServer(pipe, engine, activeSchema, apiOpts...)
		return server.Run(context.Background())
	}
}

// buildSessionStore selects a session store backend from the DSN.
func buildSessionStore(dsn string) (store.SessionStore, error) {
	if dsn == "" {
		slog.Debug("No session DSN provided, using in-memory store")
		return store.NewInMemoryStore(), nil
	}
	if store.DetectDSNType(dsn) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL session store")
		return store.NewPostgresStore(store.WithDSN(dsn))
	}
	slog.Debug("Detected SQLite DSN, configuring SQLite session store", "db_path", dsn)
	return store.NewSQLiteStore(store.WithDSN(dsn))
}

// printSchema renders the active schema as JSON.
func printSchema(s *schema.Schema) error {
	out := map[string]interface{}{
		"variant": s.Variant,
		"fields":  s.Fields(),
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

// testWebhook posts the canonical sample record and reports the outcome.
func testWebhook(submitter *webhook.Client) error {
	fmt.Printf("Testing webhook connection: %s\n", submitter.Endpoint())
	outcome := submitter.Submit(context.Background(), webhook.TestPayload())
	if outcome.Success {
		fmt.Println("Webhook connection successful")
		return nil
	}
	if outcome.Error != "" {
		return fmt.Errorf("webhook connection failed: %s", outcome.Error)
	}
	return fmt.Errorf("webhook connection failed: status %d: %s", outcome.StatusCode, outcome.ResponseBody)
}

// processInput runs one utterance through the single-shot pipeline.
func processInput(pipe *pipeline.Pipeline, input string) error {
	result := pipe.Process(context.Background(), input)
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	if !result.Success {
		os.Exit(1)
	}
	return nil
}

// runInteractive drives a conversation over stdin until the session completes.
func runInteractive(engine *conversation.Engine) error {
	ctx := context.Background()
	resp, err := engine.StartConversation(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Agent: %s\n", resp.Message)

	scanner := bufio.NewScanner(os.Stdin)
	for !resp.SessionComplete {
		fmt.Print("You: ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		resp, err = engine.ContinueConversation(ctx, resp.SessionID, line)
		if err != nil {
			return err
		}
		fmt.Printf("Agent: %s\n", resp.Message)
	}

	if resp.WebhookOutcome != nil {
		printOutcome(*resp.WebhookOutcome)
	}
	return nil
}

// printOutcome summarizes a webhook submission for the terminal.
func printOutcome(outcome models.WebhookOutcome) {
	if outcome.Success {
		fmt.Println("Your request was submitted successfully.")
		return
	}
	if outcome.Error != "" {
		fmt.Printf("Your data was collected but could not be delivered: %s\n", outcome.Error)
		return
	}
	fmt.Printf("Your data was collected but the submission returned status %d.\n", outcome.StatusCode)
}
