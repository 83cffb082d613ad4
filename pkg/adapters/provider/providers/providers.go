// Package providers assembles the registry of every built-in provider.
package providers

import (
	"go.uber.org/zap"

	"github.com/ekaya-inc/zoku-engine/pkg/adapters/provider"
	"github.com/ekaya-inc/zoku-engine/pkg/adapters/provider/github"
	"github.com/ekaya-inc/zoku-engine/pkg/adapters/provider/google"
	"github.com/ekaya-inc/zoku-engine/pkg/adapters/provider/webhook"
	"github.com/ekaya-inc/zoku-engine/pkg/adapters/provider/zammad"
	"github.com/ekaya-inc/zoku-engine/pkg/config"
	"github.com/ekaya-inc/zoku-engine/pkg/models"
)

// NewRegistry builds the static source type → provider mapping.
func NewRegistry(cfg config.ProvidersConfig, logger *zap.Logger) (*provider.Registry, error) {
	catalog, err := provider.LoadCatalog()
	if err != nil {
		return nil, err
	}

	httpClient := provider.NewHTTPClient(cfg, logger)
	googleClient := google.NewClient(httpClient, cfg.GoogleAPIURL, cfg.GoogleTokenURL)
	googleValidator := google.NewValidator(googleClient)

	return provider.NewRegistry(catalog,
		provider.Registration{
			Type:      models.SourceTypeGitHub,
			Collector: github.NewCollector(httpClient, cfg.GitHubAPIURL, logger),
			Validator: github.NewValidator(httpClient, cfg.GitHubAPIURL),
		},
		provider.Registration{
			Type:      models.SourceTypeZammad,
			Collector: zammad.NewCollector(httpClient, logger),
			Validator: zammad.NewValidator(httpClient),
		},
		provider.Registration{
			Type:      models.SourceTypeGDocs,
			Collector: google.NewDocsCollector(googleClient, logger),
			Validator: googleValidator,
		},
		provider.Registration{
			Type:      models.SourceTypeGDrive,
			Collector: google.NewDriveCollector(googleClient, logger),
			Validator: googleValidator,
		},
		provider.Registration{
			Type:      models.SourceTypeGmail,
			Collector: google.NewGmailCollector(googleClient, logger),
			Validator: googleValidator,
		},
		provider.Registration{
			Type:      models.SourceTypeWebhook,
			Collector: webhook.NewCollector(),
		},
	)
}
