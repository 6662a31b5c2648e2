package arguments

import (
	"net/http"
	"time"

	"github.com/Netflix/go-env"

	"github.com/m-mizutani/iocdb/pkg/adaptor"
	"github.com/m-mizutani/iocdb/pkg/errors"
	"github.com/m-mizutani/iocdb/pkg/logging"
	"github.com/m-mizutani/iocdb/pkg/provider"
	"github.com/m-mizutani/iocdb/pkg/service"
)

// Arguments are passed to every entrypoint. It includes environment variables
// and swappable factories for tests.
type Arguments struct {
	DBPath          string `env:"IOCDB_PATH"`
	BindAddr        string `env:"IOCDB_ADDR"`
	SlackWebhookURL string `env:"SLACK_WEBHOOK_URL"`
	EnrichTopicARN  string `env:"ENRICH_TOPIC_ARN"`
	AwsRegion       string `env:"AWS_REGION"`

	GeoIPCityDBPath  string `env:"GEOIP_CITY_DB"`
	GeoIPASNDBPath   string `env:"GEOIP_ASN_DB"`
	AbuseIPDBAPIKey  string `env:"ABUSEIPDB_API_KEY"`
	VirusTotalAPIKey string `env:"VT_API_KEY"`
	ProviderTimeout  int    `env:"PROVIDER_TIMEOUT_SECONDS"`

	// Do not change them in each entrypoint. They are swapped only by tests.
	Repository    adaptor.Repository        `env:"-"`
	NewRepository adaptor.RepositoryFactory `env:"-"`
	NewS3         adaptor.S3ClientFactory   `env:"-"`
	NewSNS        adaptor.SNSClientFactory  `env:"-"`
	HTTP          adaptor.HTTPClient        `env:"-"`

	sourceService *service.SourceService
}

// -----------------------
// Data binding

// New is constructor of Arguments
func New() *Arguments {
	args := &Arguments{}

	if _, err := env.UnmarshalFromEnviron(args); err != nil {
		logging.Logger.Error().AnErr("err", err).Msg("Failed env.UnmarshalFromEnviron")
		panic(err)
	}

	if args.DBPath == "" {
		args.DBPath = "iocdb.sqlite"
	}
	if args.BindAddr == "" {
		args.BindAddr = "127.0.0.1:8080"
	}

	args.NewRepository = adaptor.NewSQLiteRepository
	args.NewS3 = adaptor.NewS3Client
	args.NewSNS = adaptor.NewSNSClient

	return args
}

func (x *Arguments) repository() (adaptor.Repository, error) {
	if x.Repository == nil {
		factory := x.NewRepository
		if factory == nil {
			factory = adaptor.NewSQLiteRepository
		}
		repo, err := factory(x.DBPath)
		if err != nil {
			return nil, err
		}
		x.Repository = repo
	}
	return x.Repository, nil
}

// -----------------------
// Services

func (x *Arguments) IndicatorService() (*service.IndicatorService, error) {
	repo, err := x.repository()
	if err != nil {
		return nil, err
	}
	return service.NewIndicatorService(repo), nil
}

func (x *Arguments) EnrichmentCacheService() (*service.EnrichmentCacheService, error) {
	repo, err := x.repository()
	if err != nil {
		return nil, err
	}
	return service.NewEnrichmentCacheService(repo), nil
}

func (x *Arguments) OrchestratorService() (*service.OrchestratorService, error) {
	repo, err := x.repository()
	if err != nil {
		return nil, err
	}
	cache := service.NewEnrichmentCacheService(repo)
	return service.NewOrchestratorService(repo, cache, time.Duration(x.ProviderTimeout)*time.Second), nil
}

func (x *Arguments) SightingService() (*service.SightingService, error) {
	repo, err := x.repository()
	if err != nil {
		return nil, err
	}
	return service.NewSightingService(repo), nil
}

// SourceService is memoized because it carries the source cache; every
// collaborator must see the same invalidations.
func (x *Arguments) SourceService() (*service.SourceService, error) {
	if x.sourceService == nil {
		repo, err := x.repository()
		if err != nil {
			return nil, err
		}
		x.sourceService = service.NewSourceService(repo)
	}
	return x.sourceService, nil
}

func (x *Arguments) StatsService() (*service.StatsService, error) {
	repo, err := x.repository()
	if err != nil {
		return nil, err
	}
	return service.NewStatsService(repo), nil
}

func (x *Arguments) ImportService() (*service.ImportService, error) {
	indicators, err := x.IndicatorService()
	if err != nil {
		return nil, err
	}
	newS3 := x.NewS3
	if newS3 == nil {
		newS3 = adaptor.NewS3Client
	}
	return service.NewImportService(newS3, indicators), nil
}

func (x *Arguments) CollectorService() (*service.CollectorService, error) {
	importer, err := x.ImportService()
	if err != nil {
		return nil, err
	}
	sources, err := x.SourceService()
	if err != nil {
		return nil, err
	}
	return service.NewCollectorService(x.HTTPClient(), importer, sources), nil
}

// EventService returns a new *service.EventService based on Arguments.EnrichTopicARN
func (x *Arguments) EventService() *service.EventService {
	factory := x.NewSNS
	if factory == nil {
		factory = adaptor.NewSNSClient
	}
	return service.NewEventService(factory)
}

func (x *Arguments) HTTPClient() adaptor.HTTPClient {
	client := x.HTTP
	if client == nil {
		client = &http.Client{}
	}
	return client
}

func (x *Arguments) AlertService() *service.AlertService {
	return service.NewAlertService(&service.AlertServiceArguments{
		HTTPClient:              x.HTTPClient(),
		SlackIncomingWebhookURL: x.SlackWebhookURL,
	})
}

// Providers builds the enrichment provider set from the configured
// credentials. Providers without credentials or databases are left out rather
// than erroring, so a partial configuration still enriches what it can.
func (x *Arguments) Providers() ([]provider.Provider, error) {
	var providers []provider.Provider

	if x.GeoIPCityDBPath != "" || x.GeoIPASNDBPath != "" {
		geo, err := provider.NewGeoIP(x.GeoIPCityDBPath, x.GeoIPASNDBPath)
		if err != nil {
			return nil, errors.Wrap(err, "open GeoIP databases")
		}
		providers = append(providers, geo)
	}

	providers = append(providers, provider.NewDNS())
	providers = append(providers, provider.NewWhois(10*time.Second))

	if x.AbuseIPDBAPIKey != "" {
		providers = append(providers, provider.NewAbuseIPDB(x.AbuseIPDBAPIKey, x.HTTPClient()))
	}
	if x.VirusTotalAPIKey != "" {
		providers = append(providers, provider.NewVirusTotal(x.VirusTotalAPIKey, x.HTTPClient()))
	}

	return providers, nil
}
