// File: cmd/run.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/nkoudela/scout-cli/api/schemas"
	"github.com/nkoudela/scout-cli/internal/browser"
	"github.com/nkoudela/scout-cli/internal/classifier"
	"github.com/nkoudela/scout-cli/internal/classifier/llm"
	"github.com/nkoudela/scout-cli/internal/config"
	"github.com/nkoudela/scout-cli/internal/consent"
	"github.com/nkoudela/scout-cli/internal/defense"
	"github.com/nkoudela/scout-cli/internal/extractor"
	"github.com/nkoudela/scout-cli/internal/monitor"
	"github.com/nkoudela/scout-cli/internal/observability"
	"github.com/nkoudela/scout-cli/internal/orchestrator"
	"github.com/nkoudela/scout-cli/internal/origin"
	"github.com/nkoudela/scout-cli/internal/store"
)

// newRunCmd creates and configures the `run` command.
func newRunCmd() *cobra.Command {
	runCmd := &cobra.Command{
		Use:   "run [target]",
		Short: "Locates the contact page of a target site and optionally submits a message",
		Args:  cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return viper.BindPFlags(cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			target := args[0]
			if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
				target = "https://" + target
			}

			callerOrigin := viper.GetString("caller-origin")
			if callerOrigin == "" {
				if len(cfg.Origin.AllowedOrigins) == 0 {
					return fmt.Errorf("no caller origin: pass --caller-origin or configure origin.allowed_origins")
				}
				callerOrigin = cfg.Origin.AllowedOrigins[0]
			}

			components, err := initializeRunComponents(ctx, cfg, logger)
			if err != nil {
				if components != nil {
					components.Shutdown()
				}
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer components.Shutdown()

			// A local invocation is itself the operator's consent: create the
			// request and grant it in one step so the pipeline's gate still runs.
			userID := viper.GetString("user")
			request, err := components.Consent.CreateRequest(userID, callerOrigin, orchestrator.ActionContactAutomation)
			if err != nil {
				return fmt.Errorf("failed to create consent request: %w", err)
			}
			grant, err := components.Consent.Grant(request.ID, cfg.Consent.AllowedPermissions)
			if err != nil {
				return fmt.Errorf("failed to grant consent: %w", err)
			}

			result, err := components.Orchestrator.Run(ctx, orchestrator.Request{
				UserID:    userID,
				Origin:    callerOrigin,
				GrantID:   grant.ID,
				TargetURL: target,
				SiteName:  viper.GetString("site-name"),
				Submit:    viper.GetBool("submit"),
				Message: orchestrator.Message{
					Name:    viper.GetString("from-name"),
					Email:   viper.GetString("from-email"),
					Phone:   viper.GetString("from-phone"),
					Subject: viper.GetString("subject"),
					Body:    viper.GetString("message"),
				},
			})
			if err != nil {
				if errors.Is(err, context.Canceled) {
					logger.Warn("Run aborted gracefully", zap.String("target", target))
					return fmt.Errorf("run aborted by user signal")
				}
				return err
			}

			printResult(result, target)
			return nil
		},
	}

	runCmd.Flags().String("site-name", "", "Business name of the target site, used by the content classifier.")
	runCmd.Flags().String("caller-origin", "", "Caller origin to validate against the allow-list. Defaults to the first configured origin.")
	runCmd.Flags().String("user", "operator", "User ID recorded on the consent request.")
	runCmd.Flags().Bool("submit", false, "Fill and submit the located contact form.")
	runCmd.Flags().String("from-name", "", "Sender name for form submission.")
	runCmd.Flags().String("from-email", "", "Sender email for form submission.")
	runCmd.Flags().String("from-phone", "", "Sender phone for form submission.")
	runCmd.Flags().String("subject", "", "Message subject for form submission.")
	runCmd.Flags().StringP("message", "m", "", "Message body for form submission.")

	return runCmd
}

// runComponents holds initialized services.
type runComponents struct {
	Consent        *consent.Manager
	Monitor        *monitor.Monitor
	BrowserManager *browser.Manager
	Orchestrator   *orchestrator.Orchestrator
	DBPool         *pgxpool.Pool
}

// Shutdown gracefully closes all components.
func (rc *runComponents) Shutdown() {
	if rc.BrowserManager != nil {
		rc.BrowserManager.Shutdown()
	}
	if rc.Monitor != nil {
		rc.Monitor.Stop()
	}
	if rc.Consent != nil {
		rc.Consent.Stop()
	}
	if rc.DBPool != nil {
		rc.DBPool.Close()
	}
}

// initializeRunComponents handles dependency injection for a single run.
func initializeRunComponents(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*runComponents, error) {
	components := &runComponents{}

	// 1. Optional persistence.
	var resultStore *store.Store
	if cfg.Store.URL != "" {
		dbPool, err := pgxpool.New(ctx, cfg.Store.URL)
		if err != nil {
			return components, fmt.Errorf("failed to connect to database: %w", err)
		}
		components.DBPool = dbPool

		resultStore, err = store.New(ctx, dbPool, logger)
		if err != nil {
			return components, fmt.Errorf("failed to initialize store: %w", err)
		}
	}

	// 2. Policy components.
	originGate := origin.NewValidator(cfg.Origin, logger)
	components.Consent = consent.NewManager(cfg.Consent, logger)
	components.Consent.Start()

	// 3. Connection monitor.
	components.Monitor = monitor.NewMonitor(cfg.Monitor, logger)
	components.Monitor.Start()

	// 4. Browser pool.
	components.BrowserManager = browser.NewManager(cfg.Browser, browser.NewChromedpDriver(logger), logger)
	components.BrowserManager.Start()

	// 5. Classifier, with the content analyzer only when configured.
	contentClassifier := buildContentClassifier(ctx, cfg.Classifier.LLM, logger)
	pageClassifier := classifier.New(cfg.Classifier, contentClassifier, logger)

	// 6. Defense handling and extraction.
	detector := defense.NewDetector(logger)
	responder := defense.NewResponder(cfg.Defense, detector, logger)
	contactExtractor := extractor.New(logger)

	var sink orchestrator.ResultSink
	if resultStore != nil {
		sink = resultStore
	}
	components.Orchestrator = orchestrator.New(
		originGate, components.Consent, components.BrowserManager,
		pageClassifier, detector, responder, contactExtractor,
		components.Monitor, sink, logger,
	)
	return components, nil
}

// buildContentClassifier returns nil when the LLM is disabled or unreachable;
// the classifier falls back to its lexical heuristic in that case.
func buildContentClassifier(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) schemas.ContentClassifier {
	if !cfg.Enabled {
		return nil
	}
	contentClassifier, err := llm.NewGeminiClassifier(ctx, cfg, logger)
	if err != nil {
		if errors.Is(err, llm.ErrNotConfigured) {
			logger.Warn("Content classifier enabled but no API key set, continuing without it")
		} else {
			logger.Warn("Content classifier unavailable, continuing without it", zap.Error(err))
		}
		return nil
	}
	return contentClassifier
}

// printResult writes a human summary of a finished run to stdout.
func printResult(result *schemas.AutomationResult, target string) {
	fmt.Printf("\nTarget: %s\n", target)
	if result.Candidate != nil {
		fmt.Printf("Contact page: %s (confidence %d, via %s)\n",
			result.Candidate.URL, result.Candidate.Confidence, result.Candidate.Method)
	}
	if result.Contact != nil {
		if len(result.Contact.Emails) > 0 {
			fmt.Printf("Emails: %s\n", strings.Join(result.Contact.Emails, ", "))
		}
		if len(result.Contact.Phones) > 0 {
			fmt.Printf("Phones: %s\n", strings.Join(result.Contact.Phones, ", "))
		}
		fmt.Printf("Forms found: %d\n", len(result.Contact.Forms))
	}
	if result.Defense != nil && result.Defense.Challenge.Type != schemas.ChallengeNone {
		fmt.Printf("Defense: %s (%s)\n", result.Defense.Challenge.Type, result.Defense.Status)
	}
	if result.Submitted {
		fmt.Println("Message submitted successfully.")
	}
	if result.Error != "" {
		fmt.Printf("Outcome: %s\n", result.Error)
	}
}
