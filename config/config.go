package config

import (
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config enthält alle Konfigurationsparameter aus Umgebungsvariablen.
type Config struct {
	DataDir           string `envconfig:"DATA_DIR" default:"data"`
	TemplateDatastore string `envconfig:"TEMPLATE_DATASTORE" default:"main"`
	UploadDir         string `envconfig:"UPLOAD_DIR" default:"data/uploads"`

	HTTPPort     string `envconfig:"HTTP_PORT" default:"4242"`
	APISecretKey string `envconfig:"API_SECRET_KEY"`

	// Institution, deren Personal der Staff-Field-Upload zuordnet.
	HomeInstitution string `envconfig:"HOME_INSTITUTION" default:"UWA"`

	// Leer deaktiviert den geplanten Sammellauf.
	CronSchedule string `envconfig:"CRON_SCHEDULE"`

	// Provider-Konfiguration
	EnabledProviders   string `envconfig:"ENABLED_PROVIDERS" default:"openalex,crossref"`
	OpenAlexBaseURL    string `envconfig:"OPENALEX_BASE_URL" default:"https://api.openalex.org"`
	CrossrefBaseURL    string `envconfig:"CROSSREF_BASE_URL" default:"https://api.crossref.org"`
	ContactEmail       string `envconfig:"CONTACT_EMAIL"`
	ProviderMaxResults int    `envconfig:"PROVIDER_MAX_RESULTS" default:"50"`
}

// Load lädt die Konfiguration aus den Umgebungsvariablen.
func Load() (*Config, error) {
	_ = godotenv.Load()
	var c Config
	err := envconfig.Process("", &c)
	return &c, err
}
